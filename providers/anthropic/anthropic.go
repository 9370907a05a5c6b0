// Package anthropic implements the wire adapter for the Anthropic Messages
// API SSE dialect.
package anthropic

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/airfit/coachengine/coacherr"
	"github.com/airfit/coachengine/models"
	"github.com/airfit/coachengine/providers"
	"github.com/airfit/coachengine/transport"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// pendingBlock tracks a tool_use content block whose input JSON streams in
// fragments, keyed by content-block index.
type pendingBlock struct {
	id   string
	name string
	json strings.Builder
}

// Adapter decodes one in-flight Anthropic stream. One instance per request.
type Adapter struct {
	BaseURL string

	logger zerolog.Logger
	lines  providers.LineBuffer
	blocks map[int]*pendingBlock
	done   bool
}

func New(logger zerolog.Logger) *Adapter {
	return &Adapter{
		BaseURL: DefaultBaseURL,
		logger:  logger.With().Str("provider", providers.Anthropic).Logger(),
		blocks:  make(map[int]*pendingBlock),
	}
}

func (a *Adapter) Provider() string { return providers.Anthropic }

// SetBaseURL overrides the default endpoint, e.g. for a proxy or gateway.
func (a *Adapter) SetBaseURL(url string) { a.BaseURL = url }

// BuildRequest converts the prompt bundle into the Messages shape: a single
// top-level system field plus strictly alternating user/assistant messages.
func (a *Adapter) BuildRequest(bundle models.PromptBundle, model, credential string) (transport.Request, error) {
	var messages []message
	for _, turn := range bundle.Messages {
		msg, err := convertTurn(turn)
		if err != nil {
			a.logger.Warn().Err(err).Msg("skipping unconvertible history turn")
			continue
		}
		if msg != nil {
			messages = append(messages, *msg)
		}
	}
	if len(messages) == 0 {
		return transport.Request{}, fmt.Errorf("cannot build a request with no messages")
	}
	// The API requires alternating roles; consecutive same-role messages
	// (e.g. assistant tool call followed by user tool result after a user
	// message) are merged.
	messages = mergeConsecutive(messages)

	maxTokens := defaultMaxTokens
	if bundle.MaxTokens != nil {
		maxTokens = *bundle.MaxTokens
	}

	req := messagesRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    messages,
		System:      bundle.SystemPrompt,
		Stream:      true,
		Temperature: bundle.Temperature,
	}
	if len(bundle.Schemas) > 0 {
		req.Tools = convertSchemas(bundle.Schemas)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return transport.Request{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "text/event-stream")
	header.Set("X-API-Key", credential)
	header.Set("anthropic-version", apiVersion)

	return transport.Request{
		Method: http.MethodPost,
		URL:    a.BaseURL,
		Header: header,
		Body:   body,
	}, nil
}

// DecodeChunk parses raw SSE bytes. The dialect tags frames with event:
// lines, but every frame also carries its type in the data payload, so only
// data lines are inspected.
func (a *Adapter) DecodeChunk(raw []byte) []models.StreamEvent {
	if a.done {
		return nil
	}
	var events []models.StreamEvent
	for _, line := range a.lines.Feed(raw) {
		payload, ok := providers.DataPayload(line)
		if !ok || payload == "" {
			continue
		}

		var evt streamEvent
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			a.logger.Warn().Err(err).Msg("skipping malformed stream chunk")
			continue
		}

		switch evt.Type {
		case eventContentBlockStart:
			if evt.ContentBlock != nil && evt.ContentBlock.Type == "tool_use" {
				a.blocks[evt.Index] = &pendingBlock{
					id:   evt.ContentBlock.ID,
					name: evt.ContentBlock.Name,
				}
			}

		case eventContentBlockDelta:
			if evt.Delta == nil {
				continue
			}
			switch evt.Delta.Type {
			case "text_delta":
				if evt.Delta.Text != "" {
					events = append(events, models.TextDelta(evt.Delta.Text))
				}
			case "input_json_delta":
				if pb, ok := a.blocks[evt.Index]; ok {
					pb.json.WriteString(evt.Delta.PartialJSON)
				}
			}

		case eventContentBlockStop:
			if pb, ok := a.blocks[evt.Index]; ok {
				args, err := models.ParseArgs([]byte(pb.json.String()))
				if err != nil {
					a.logger.Warn().Err(err).Str("function", pb.name).Msg("tool input unparseable, using empty args")
					args = models.Args{}
				}
				events = append(events, models.CallEvent(models.FunctionCall{
					ID:   pb.id,
					Name: pb.name,
					Args: args,
				}))
				delete(a.blocks, evt.Index)
			}

		case eventMessageStop:
			events = append(events, models.EndEvent())
			a.done = true
			return events

		case eventError:
			msg := "provider reported an error"
			code := ""
			if evt.Error != nil {
				msg = evt.Error.Message
				code = evt.Error.Type
			}
			events = append(events, models.ErrorEvent(
				coacherr.New(coacherr.KindProviderError, msg).WithCode(code)))
			a.done = true
			return events

		case eventMessageStart, eventMessageDelta, eventPing:
			// Bookkeeping frames; nothing to surface.
		}
	}
	return events
}

func convertTurn(turn models.ChatTurn) (*message, error) {
	switch turn.Role {
	case models.RoleUser:
		if turn.Content == "" {
			return nil, nil
		}
		return &message{
			Role:    "user",
			Content: []contentBlock{{Type: "text", Text: turn.Content}},
		}, nil
	case models.RoleAssistant:
		var blocks []contentBlock
		if turn.Content != "" {
			blocks = append(blocks, contentBlock{Type: "text", Text: turn.Content})
		}
		if turn.FunctionCall != nil {
			blocks = append(blocks, contentBlock{
				Type:  "tool_use",
				ID:    turn.FunctionCall.ID,
				Name:  turn.FunctionCall.Name,
				Input: turn.FunctionCall.Args,
			})
		}
		if len(blocks) == 0 {
			return nil, nil
		}
		return &message{Role: "assistant", Content: blocks}, nil
	case models.RoleToolResult:
		if turn.FunctionResult == nil {
			return nil, fmt.Errorf("tool result turn without a function result")
		}
		return &message{
			Role: "user",
			Content: []contentBlock{{
				Type:      "tool_result",
				ToolUseID: turn.FunctionResult.CallID,
				Content:   string(turn.FunctionResult.Payload),
			}},
		}, nil
	case models.RoleSystem:
		// System content travels in the top-level system field; a stray
		// system turn in history is folded into a user message.
		return &message{
			Role:    "user",
			Content: []contentBlock{{Type: "text", Text: turn.Content}},
		}, nil
	}
	return nil, fmt.Errorf("unknown role %q", turn.Role)
}

func mergeConsecutive(msgs []message) []message {
	if len(msgs) <= 1 {
		return msgs
	}
	var out []message
	for _, m := range msgs {
		if len(out) > 0 && out[len(out)-1].Role == m.Role {
			prev := &out[len(out)-1]
			prev.Content = append(prev.Content, m.Content...)
			continue
		}
		out = append(out, m)
	}
	return out
}

func convertSchemas(schemas []models.FunctionSchema) []toolDecl {
	tools := make([]toolDecl, len(schemas))
	for i, s := range schemas {
		tools[i] = toolDecl{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: s.JSONSchema(),
		}
	}
	return tools
}
