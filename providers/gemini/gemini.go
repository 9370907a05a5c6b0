// Package gemini implements the wire adapter for the Gemini
// streamGenerateContent SSE dialect.
package gemini

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/airfit/coachengine/coacherr"
	"github.com/airfit/coachengine/models"
	"github.com/airfit/coachengine/providers"
	"github.com/airfit/coachengine/transport"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Adapter decodes one in-flight Gemini stream. One instance per request.
type Adapter struct {
	BaseURL string

	logger zerolog.Logger
	lines  providers.LineBuffer
	done   bool
	// Gemini does not stream tool arguments in fragments: a functionCall
	// part arrives whole. A call still ends the turn, so once one is seen
	// any further candidates are dropped.
	sawCall bool
}

func New(logger zerolog.Logger) *Adapter {
	return &Adapter{
		BaseURL: DefaultBaseURL,
		logger:  logger.With().Str("provider", providers.Gemini).Logger(),
	}
}

func (a *Adapter) Provider() string { return providers.Gemini }

// SetBaseURL overrides the default endpoint, e.g. for a proxy or gateway.
func (a *Adapter) SetBaseURL(url string) { a.BaseURL = url }

// BuildRequest converts the prompt bundle into the contents/systemInstruction
// shape. The credential rides in the x-goog-api-key header.
func (a *Adapter) BuildRequest(bundle models.PromptBundle, model, credential string) (transport.Request, error) {
	var contents []content
	for _, turn := range bundle.Messages {
		c, err := convertTurn(turn)
		if err != nil {
			a.logger.Warn().Err(err).Msg("skipping unconvertible history turn")
			continue
		}
		if c != nil {
			contents = append(contents, *c)
		}
	}
	if len(contents) == 0 {
		return transport.Request{}, fmt.Errorf("cannot build a request with no contents")
	}

	req := generateRequest{
		Contents: contents,
		SystemInstruction: &content{
			Parts: []part{{Text: bundle.SystemPrompt}},
		},
	}
	if len(bundle.Schemas) > 0 {
		req.Tools = []toolDecls{{FunctionDeclarations: convertSchemas(bundle.Schemas)}}
	}
	if bundle.Temperature != nil || bundle.MaxTokens != nil {
		req.GenerationConfig = &generationConfig{
			Temperature:     bundle.Temperature,
			MaxOutputTokens: bundle.MaxTokens,
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return transport.Request{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "text/event-stream")
	header.Set("x-goog-api-key", credential)

	return transport.Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", a.BaseURL, model),
		Header: header,
		Body:   body,
	}, nil
}

// DecodeChunk parses raw SSE bytes. Gemini sends plain data: lines of JSON
// chunks; there is no done sentinel, the final chunk carries finishReason.
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

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			a.logger.Warn().Err(err).Msg("skipping malformed stream chunk")
			continue
		}
		if chunk.Error != nil {
			events = append(events, models.ErrorEvent(
				coacherr.New(coacherr.KindProviderError, chunk.Error.Message).
					WithCode(strconv.Itoa(chunk.Error.Code))))
			a.done = true
			return events
		}

		for _, cand := range chunk.Candidates {
			if cand.Content != nil && !a.sawCall {
				for _, p := range cand.Content.Parts {
					if p.Text != "" {
						events = append(events, models.TextDelta(p.Text))
					}
					if p.FunctionCall != nil {
						args, err := models.ParseArgs(p.FunctionCall.Args)
						if err != nil {
							a.logger.Warn().Err(err).Str("function", p.FunctionCall.Name).
								Msg("function call args unparseable, using empty args")
							args = models.Args{}
						}
						events = append(events, models.CallEvent(models.FunctionCall{
							Name: p.FunctionCall.Name,
							Args: args,
						}))
						a.sawCall = true
						break
					}
				}
			}
			if cand.FinishReason != "" {
				events = append(events, models.EndEvent())
				a.done = true
				return events
			}
		}
	}
	return events
}

func convertTurn(turn models.ChatTurn) (*content, error) {
	switch turn.Role {
	case models.RoleUser:
		if turn.Content == "" {
			return nil, nil
		}
		return &content{Role: "user", Parts: []part{{Text: turn.Content}}}, nil
	case models.RoleAssistant:
		var parts []part
		if turn.Content != "" {
			parts = append(parts, part{Text: turn.Content})
		}
		if turn.FunctionCall != nil {
			argsJSON, _ := json.Marshal(turn.FunctionCall.Args)
			parts = append(parts, part{FunctionCall: &functionCall{
				Name: turn.FunctionCall.Name,
				Args: argsJSON,
			}})
		}
		if len(parts) == 0 {
			return nil, nil
		}
		return &content{Role: "model", Parts: parts}, nil
	case models.RoleToolResult:
		if turn.FunctionResult == nil {
			return nil, fmt.Errorf("tool result turn without a function result")
		}
		return &content{Role: "user", Parts: []part{{
			FunctionResponse: &functionResponse{
				Name:     turn.FunctionResult.Name,
				Response: turn.FunctionResult.Payload,
			},
		}}}, nil
	case models.RoleSystem:
		return &content{Role: "user", Parts: []part{{Text: turn.Content}}}, nil
	}
	return nil, fmt.Errorf("unknown role %q", turn.Role)
}

func convertSchemas(schemas []models.FunctionSchema) []functionDecl {
	decls := make([]functionDecl, len(schemas))
	for i, s := range schemas {
		decls[i] = functionDecl{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.JSONSchema(),
		}
	}
	return decls
}
