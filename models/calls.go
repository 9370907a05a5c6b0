package models

import "encoding/json"

// FunctionCall is a model-issued invocation of a declared capability.
// Created by a provider adapter when the stream signals a tool call and
// consumed exactly once by the orchestrator.
type FunctionCall struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Args Args   `json:"args"`
}

// FunctionResult is the structured outcome of dispatching a FunctionCall.
// Dispatch failures are still results ({"status":"error",...}) so the
// conversation can continue; the payload is kept verbatim for the follow-up
// prompt.
type FunctionResult struct {
	CallID  string          `json:"call_id,omitempty"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorResult builds the structured payload used when dispatch itself fails.
func ErrorResult(callID, name, message string) FunctionResult {
	payload, _ := json.Marshal(map[string]string{
		"status":  "error",
		"message": message,
	})
	return FunctionResult{CallID: callID, Name: name, Payload: payload}
}
