// Package openai implements the wire adapter for the OpenAI
// chat-completions SSE dialect.
package openai

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/airfit/coachengine/coacherr"
	"github.com/airfit/coachengine/models"
	"github.com/airfit/coachengine/providers"
	"github.com/airfit/coachengine/transport"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1/chat/completions"
	doneSentinel   = "[DONE]"
)

// pendingCall accumulates a tool call whose arguments arrive as JSON
// fragments across chunks, keyed by the tool_calls index.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// Adapter decodes one in-flight OpenAI stream. Not safe for reuse across
// requests; construct one per call.
type Adapter struct {
	BaseURL string

	logger zerolog.Logger
	lines  providers.LineBuffer
	calls  map[int]*pendingCall
	done   bool
}

func New(logger zerolog.Logger) *Adapter {
	return &Adapter{
		BaseURL: DefaultBaseURL,
		logger:  logger.With().Str("provider", providers.OpenAI).Logger(),
		calls:   make(map[int]*pendingCall),
	}
}

func (a *Adapter) Provider() string { return providers.OpenAI }

// SetBaseURL overrides the default endpoint, e.g. for a proxy or gateway.
func (a *Adapter) SetBaseURL(url string) { a.BaseURL = url }

// BuildRequest converts the prompt bundle into the messages-array shape with
// the system prompt as the leading message.
func (a *Adapter) BuildRequest(bundle models.PromptBundle, model, credential string) (transport.Request, error) {
	messages := []chatMessage{{Role: "system", Content: bundle.SystemPrompt}}
	for _, turn := range bundle.Messages {
		msg, err := convertTurn(turn)
		if err != nil {
			a.logger.Warn().Err(err).Msg("skipping unconvertible history turn")
			continue
		}
		messages = append(messages, msg...)
	}

	req := chatRequest{
		Model:       model,
		Messages:    messages,
		Stream:      true,
		Temperature: bundle.Temperature,
		MaxTokens:   bundle.MaxTokens,
	}
	if len(bundle.Schemas) > 0 {
		req.Tools = convertSchemas(bundle.Schemas)
		req.ToolChoice = "auto"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return transport.Request{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "text/event-stream")
	header.Set("Authorization", "Bearer "+credential)

	return transport.Request{
		Method: http.MethodPost,
		URL:    a.BaseURL,
		Header: header,
		Body:   body,
	}, nil
}

// DecodeChunk parses raw SSE bytes into canonical events. Unparseable data
// lines are logged and skipped; provider error payloads become error events.
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
		if payload == doneSentinel {
			events = append(events, a.flushCalls()...)
			events = append(events, models.EndEvent())
			a.done = true
			return events
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			a.logger.Warn().Err(err).Msg("skipping malformed stream chunk")
			continue
		}
		if chunk.Error != nil {
			events = append(events, models.ErrorEvent(
				coacherr.New(coacherr.KindProviderError, chunk.Error.Message).WithCode(chunk.Error.Code)))
			a.done = true
			return events
		}

		for _, choice := range chunk.Choices {
			if choice.Delta != nil {
				if choice.Delta.Content != "" {
					events = append(events, models.TextDelta(choice.Delta.Content))
				}
				for _, td := range choice.Delta.ToolCalls {
					a.accumulate(td)
				}
			}
			if choice.FinishReason != nil {
				switch *choice.FinishReason {
				case "tool_calls":
					events = append(events, a.flushCalls()...)
				case "stop", "length":
					events = append(events, a.flushCalls()...)
					events = append(events, models.EndEvent())
					a.done = true
					return events
				}
			}
		}
	}
	return events
}

func (a *Adapter) accumulate(td streamToolDelta) {
	pc, ok := a.calls[td.Index]
	if !ok {
		pc = &pendingCall{}
		a.calls[td.Index] = pc
	}
	if td.ID != "" {
		pc.id = td.ID
	}
	if td.Function.Name != "" {
		pc.name = td.Function.Name
	}
	pc.args.WriteString(td.Function.Arguments)
}

func (a *Adapter) flushCalls() []models.StreamEvent {
	if len(a.calls) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var events []models.StreamEvent
	for _, idx := range indexes {
		pc := a.calls[idx]
		args, err := models.ParseArgs([]byte(pc.args.String()))
		if err != nil {
			a.logger.Warn().Err(err).Str("function", pc.name).Msg("tool call arguments unparseable, using empty args")
			args = models.Args{}
		}
		events = append(events, models.CallEvent(models.FunctionCall{
			ID:   pc.id,
			Name: pc.name,
			Args: args,
		}))
	}
	a.calls = make(map[int]*pendingCall)
	return events
}

func convertTurn(turn models.ChatTurn) ([]chatMessage, error) {
	switch turn.Role {
	case models.RoleUser:
		return []chatMessage{{Role: "user", Content: turn.Content}}, nil
	case models.RoleAssistant:
		msg := chatMessage{Role: "assistant", Content: turn.Content}
		if turn.FunctionCall != nil {
			argsJSON, _ := json.Marshal(turn.FunctionCall.Args)
			msg.ToolCalls = []toolCall{{
				ID:   turn.FunctionCall.ID,
				Type: "function",
				Function: toolCallFunction{
					Name:      turn.FunctionCall.Name,
					Arguments: string(argsJSON),
				},
			}}
		}
		return []chatMessage{msg}, nil
	case models.RoleToolResult:
		if turn.FunctionResult == nil {
			return nil, fmt.Errorf("tool result turn without a function result")
		}
		return []chatMessage{{
			Role:       "tool",
			Content:    string(turn.FunctionResult.Payload),
			ToolCallID: turn.FunctionResult.CallID,
		}}, nil
	case models.RoleSystem:
		return []chatMessage{{Role: "system", Content: turn.Content}}, nil
	}
	return nil, fmt.Errorf("unknown role %q", turn.Role)
}

func convertSchemas(schemas []models.FunctionSchema) []tool {
	tools := make([]tool, len(schemas))
	for i, s := range schemas {
		tools[i] = tool{
			Type: "function",
			Function: toolFunction{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.JSONSchema(),
			},
		}
	}
	return tools
}
