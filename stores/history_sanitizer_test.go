package stores

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/airfit/coachengine/models"
)

func userTurn(content string) models.ChatTurn {
	return models.ChatTurn{Role: models.RoleUser, Content: content}
}

func assistantTurn(content string) models.ChatTurn {
	return models.ChatTurn{Role: models.RoleAssistant, Content: content}
}

func callTurn(name string) models.ChatTurn {
	return models.ChatTurn{
		Role:         models.RoleAssistant,
		FunctionCall: &models.FunctionCall{ID: "call_1", Name: name, Args: models.Args{}},
	}
}

func resultTurn(name string) models.ChatTurn {
	return models.ChatTurn{
		Role:           models.RoleToolResult,
		FunctionResult: &models.FunctionResult{CallID: "call_1", Name: name, Payload: []byte(`{}`)},
	}
}

func TestSanitizeHistory_EmptyHistory(t *testing.T) {
	result := SanitizeHistory([]models.ChatTurn{})
	assert.Empty(t, result)
}

func TestSanitizeHistory_ValidHistory(t *testing.T) {
	turns := []models.ChatTurn{
		userTurn("hi"),
		assistantTurn("hello"),
		userTurn("how did I sleep"),
		callTurn("get_sleep_data"),
		resultTurn("get_sleep_data"),
		assistantTurn("you slept 7 hours"),
	}
	result := SanitizeHistory(turns)
	assert.Len(t, result, 6)
}

func TestSanitizeHistory_OrphanedToolResultAtStart(t *testing.T) {
	turns := []models.ChatTurn{
		resultTurn("get_sleep_data"), // orphaned, dropped
		assistantTurn("context"),
		userTurn("hi"),
		assistantTurn("hello"),
	}
	result := SanitizeHistory(turns)
	assert.Len(t, result, 3)
	assert.Equal(t, models.RoleAssistant, result[0].Role)
}

func TestSanitizeHistory_TruncatedMidCycle(t *testing.T) {
	turns := []models.ChatTurn{
		callTurn("get_sleep_data"),   // orphaned, dropped
		resultTurn("get_sleep_data"), // orphaned, dropped
		userTurn("hi"),
		assistantTurn("hello"),
	}
	result := SanitizeHistory(turns)
	assert.Len(t, result, 2)
	assert.Equal(t, models.RoleUser, result[0].Role)
}

func TestSanitizeHistory_TrailingCallKept(t *testing.T) {
	// A function call at the very end is kept; its result is expected to
	// arrive in the current turn.
	turns := []models.ChatTurn{
		userTurn("hi"),
		assistantTurn("hello"),
		userTurn("log my water"),
		callTurn("log_water"),
	}
	result := SanitizeHistory(turns)
	assert.Len(t, result, 4)
	assert.NotNil(t, result[3].FunctionCall)
}

func TestSanitizeHistory_IncompleteCycleMidHistory(t *testing.T) {
	turns := []models.ChatTurn{
		userTurn("hi"),
		callTurn("get_sleep_data"), // no result before next user turn, dropped
		userTurn("never mind"),
		assistantTurn("ok"),
	}
	result := SanitizeHistory(turns)
	assert.Len(t, result, 3)
	for _, turn := range result {
		assert.Nil(t, turn.FunctionCall)
	}
}

func TestSanitizeHistory_MultipleCallsInCycle(t *testing.T) {
	turns := []models.ChatTurn{
		userTurn("full report please"),
		callTurn("get_sleep_data"),
		callTurn("get_nutrition_data"),
		resultTurn("get_sleep_data"),
		resultTurn("get_nutrition_data"),
		assistantTurn("here is your report"),
	}
	result := SanitizeHistory(turns)
	assert.Len(t, result, 6)
}

func TestSanitizeHistory_OnlyOrphanedTurns(t *testing.T) {
	turns := []models.ChatTurn{
		resultTurn("get_sleep_data"),
		callTurn("get_sleep_data"),
	}
	result := SanitizeHistory(turns)
	assert.Empty(t, result)
}

func TestSanitizeHistory_ChainedCycles(t *testing.T) {
	turns := []models.ChatTurn{
		userTurn("hi"),
		callTurn("get_sleep_data"),
		resultTurn("get_sleep_data"),
		callTurn("get_recovery_data"),
		resultTurn("get_recovery_data"),
		assistantTurn("all done"),
	}
	result := SanitizeHistory(turns)
	assert.Len(t, result, 6)
}

func TestDetectCorruptedHistory_Clean(t *testing.T) {
	turns := []models.ChatTurn{
		userTurn("hi"),
		assistantTurn("hello"),
	}
	assert.Empty(t, DetectCorruptedHistory(turns))
}

func TestDetectCorruptedHistory_OrphanedStart(t *testing.T) {
	turns := []models.ChatTurn{
		resultTurn("get_sleep_data"),
		assistantTurn("hello"),
	}
	assert.NotEmpty(t, DetectCorruptedHistory(turns))
}

func TestDetectCorruptedHistory_DanglingCallAtEnd(t *testing.T) {
	turns := []models.ChatTurn{
		userTurn("hi"),
		callTurn("get_sleep_data"),
	}
	assert.NotEmpty(t, DetectCorruptedHistory(turns))
}
