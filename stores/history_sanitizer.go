package stores

import (
	"github.com/rs/zerolog/log"

	"github.com/airfit/coachengine/models"
)

// SanitizeHistory ensures a turn history has valid structure for provider
// APIs. It handles two issues:
// 1. Truncation breaking function cycles - history must not start with an
//    orphaned tool result or a mid-cycle function call.
// 2. Corrupted history - function calls without a matching tool result are
//    removed, except at the very end where the result may arrive this turn.
//
// Valid cycle shape:
// - user -> assistant text
// - user -> assistant function call -> tool result -> assistant text
func SanitizeHistory(turns []models.ChatTurn) []models.ChatTurn {
	if len(turns) == 0 {
		return turns
	}

	startIdx := findValidStartIndex(turns)
	if startIdx == -1 {
		// Fall back to the most recent user turn so at least some context
		// survives.
		for i := len(turns) - 1; i >= 0; i-- {
			if turns[i].Role == models.RoleUser {
				log.Warn().Int("index", i).Msg("history sanitizer: no valid start, keeping last user turn only")
				return []models.ChatTurn{turns[i]}
			}
		}
		log.Warn().Msg("history sanitizer: no valid starting point, returning empty history")
		return []models.ChatTurn{}
	}

	if startIdx > 0 {
		log.Warn().Int("skipped", startIdx).Msg("history sanitizer: skipping orphaned leading turns")
		turns = turns[startIdx:]
	}

	sanitized := sanitizeFunctionCycles(turns)
	if len(sanitized) != len(turns) {
		log.Warn().Int("removed", len(turns)-len(sanitized)).Msg("history sanitizer: removed turns with broken function cycles")
	}
	return sanitized
}

// findValidStartIndex finds the first turn that is a valid conversation
// start. Tool results and assistant function calls at the head are orphans
// left behind by truncation.
func findValidStartIndex(turns []models.ChatTurn) int {
	for i, turn := range turns {
		switch {
		case turn.Role == models.RoleUser:
			return i
		case turn.Role == models.RoleAssistant && turn.FunctionCall == nil:
			return i
		default:
			continue
		}
	}
	return -1
}

func sanitizeFunctionCycles(turns []models.ChatTurn) []models.ChatTurn {
	result := make([]models.ChatTurn, 0, len(turns))
	i := 0

	for i < len(turns) {
		turn := turns[i]

		switch {
		case turn.Role == models.RoleUser:
			result = append(result, turn)
			i++

		case turn.Role == models.RoleAssistant && turn.FunctionCall == nil:
			result = append(result, turn)
			i++

		case turn.Role == models.RoleAssistant && turn.FunctionCall != nil:
			cycleStart := i
			cycle, nextIdx, valid := collectCompleteCycle(turns, i)
			if valid {
				result = append(result, cycle...)
				i = nextIdx
			} else if nextIdx >= len(turns) {
				// Trailing call at the end of history. Keep it; the tool
				// result is expected in the current turn.
				result = append(result, cycle...)
				i = nextIdx
			} else {
				log.Warn().Int("index", cycleStart).Msg("history sanitizer: removing incomplete function cycle")
				i = nextIdx
			}

		case turn.Role == models.RoleToolResult:
			log.Warn().Int("index", i).Msg("history sanitizer: removing orphaned tool result")
			i++

		default:
			result = append(result, turn)
			i++
		}
	}

	return result
}

// collectCompleteCycle gathers one or more assistant function calls and the
// tool results that answer them. A cycle with no results is incomplete.
func collectCompleteCycle(turns []models.ChatTurn, startIdx int) ([]models.ChatTurn, int, bool) {
	cycle := []models.ChatTurn{}
	results := 0
	i := startIdx

	for i < len(turns) && turns[i].Role == models.RoleAssistant && turns[i].FunctionCall != nil {
		cycle = append(cycle, turns[i])
		i++
	}
	for i < len(turns) && turns[i].Role == models.RoleToolResult {
		cycle = append(cycle, turns[i])
		results++
		i++
	}

	if results == 0 {
		return cycle, i, false
	}
	return cycle, i, true
}

// DetectCorruptedHistory checks for structural issues that would cause
// provider API errors. Returns a list of findings, empty when clean.
func DetectCorruptedHistory(turns []models.ChatTurn) []string {
	issues := []string{}
	if len(turns) == 0 {
		return issues
	}

	if turns[0].Role == models.RoleToolResult {
		issues = append(issues, "history starts with a tool result (orphaned)")
	}
	if turns[0].Role == models.RoleAssistant && turns[0].FunctionCall != nil {
		issues = append(issues, "history starts with a function call (truncated mid-cycle)")
	}

	pendingCalls := 0
	for _, turn := range turns {
		switch {
		case turn.Role == models.RoleAssistant && turn.FunctionCall != nil:
			pendingCalls++
		case turn.Role == models.RoleToolResult:
			if pendingCalls > 0 {
				pendingCalls--
			} else {
				issues = append(issues, "tool result without preceding function call")
			}
		}
	}
	if pendingCalls > 0 {
		issues = append(issues, "function call(s) without results at end of history")
	}

	for i := 1; i < len(turns); i++ {
		if turns[i-1].Role == models.RoleUser && turns[i].Role == models.RoleUser {
			issues = append(issues, "two consecutive user turns")
		}
	}

	return issues
}
