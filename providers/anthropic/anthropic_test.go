package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airfit/coachengine/models"
)

func sse(payloads ...string) []byte {
	var out []byte
	for _, p := range payloads {
		out = append(out, []byte("data: "+p+"\n\n")...)
	}
	return out
}

func TestDecodeTextDeltas(t *testing.T) {
	a := New(zerolog.Nop())

	events := a.DecodeChunk(sse(
		`{"type":"message_start"}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Nice "}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"work!"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_stop"}`,
	))

	require.Len(t, events, 3)
	assert.Equal(t, models.TextDelta("Nice "), events[0])
	assert.Equal(t, models.TextDelta("work!"), events[1])
	assert.Equal(t, models.EventEnd, events[2].Type)

	assert.Empty(t, a.DecodeChunk(sse(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"late"}}`)))
}

func TestDecodeToolUseBlock(t *testing.T) {
	a := New(zerolog.Nop())

	events := a.DecodeChunk(sse(
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"location\":"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"Denver\"}"}}`,
		`{"type":"content_block_stop","index":0}`,
	))

	require.Len(t, events, 1)
	require.Equal(t, models.EventFunctionCall, events[0].Type)
	call := events[0].Call
	assert.Equal(t, "toolu_1", call.ID)
	assert.Equal(t, "get_weather", call.Name)
	loc, ok := call.Args["location"].StringVal()
	assert.True(t, ok)
	assert.Equal(t, "Denver", loc)
}

func TestDecodePingAndBookkeepingFramesIgnored(t *testing.T) {
	a := New(zerolog.Nop())

	events := a.DecodeChunk(sse(
		`{"type":"ping"}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
	))
	assert.Empty(t, events)
}

func TestDecodeErrorEvent(t *testing.T) {
	a := New(zerolog.Nop())

	events := a.DecodeChunk(sse(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))

	require.Len(t, events, 1)
	require.Equal(t, models.EventError, events[0].Type)
	assert.Contains(t, events[0].Err.Error(), "Overloaded")
}

func TestBuildRequest(t *testing.T) {
	a := New(zerolog.Nop())

	bundle := models.PromptBundle{
		SystemPrompt: "You are a coach.",
		Messages: []models.ChatTurn{
			{Role: models.RoleUser, Content: "hello"},
		},
	}

	req, err := a.BuildRequest(bundle, "claude-sonnet-4", "sk-ant-test")
	require.NoError(t, err)

	assert.Equal(t, "sk-ant-test", req.Header.Get("X-API-Key"))
	assert.Equal(t, apiVersion, req.Header.Get("anthropic-version"))

	var body messagesRequest
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "You are a coach.", body.System)
	assert.Equal(t, defaultMaxTokens, body.MaxTokens)
	assert.True(t, body.Stream)
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "user", body.Messages[0].Role)
}

func TestBuildRequestMergesConsecutiveRoles(t *testing.T) {
	a := New(zerolog.Nop())

	bundle := models.PromptBundle{
		SystemPrompt: "sys",
		Messages: []models.ChatTurn{
			{Role: models.RoleUser, Content: "weather?"},
			{Role: models.RoleAssistant, FunctionCall: &models.FunctionCall{
				ID: "toolu_1", Name: "get_weather", Args: models.Args{},
			}},
			{Role: models.RoleToolResult, FunctionResult: &models.FunctionResult{
				CallID: "toolu_1", Name: "get_weather", Payload: json.RawMessage(`{"conditions":"sunny"}`),
			}},
			{Role: models.RoleUser, Content: "thanks"},
		},
	}

	req, err := a.BuildRequest(bundle, "claude-sonnet-4", "sk-ant-test")
	require.NoError(t, err)

	var body messagesRequest
	require.NoError(t, json.Unmarshal(req.Body, &body))

	// tool_result rides in a user message, which merges with the
	// following user turn: user / assistant / user.
	require.Len(t, body.Messages, 3)
	assert.Equal(t, "user", body.Messages[0].Role)
	assert.Equal(t, "assistant", body.Messages[1].Role)
	assert.Equal(t, "user", body.Messages[2].Role)
	require.Len(t, body.Messages[2].Content, 2)
	assert.Equal(t, "tool_result", body.Messages[2].Content[0].Type)
	assert.Equal(t, "toolu_1", body.Messages[2].Content[0].ToolUseID)
}

func TestBuildRequestRejectsEmptyMessages(t *testing.T) {
	a := New(zerolog.Nop())

	_, err := a.BuildRequest(models.PromptBundle{SystemPrompt: "sys"}, "claude-sonnet-4", "sk-ant-test")
	assert.Error(t, err)
}
