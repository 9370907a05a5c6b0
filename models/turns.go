package models

import (
	"time"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleSystem     Role = "system"
	RoleToolResult Role = "tool_result"
)

// Annotation flags a persisted turn whose content is not a clean completion.
type Annotation string

const (
	AnnotationNone      Annotation = ""
	AnnotationPartial   Annotation = "partial"
	AnnotationCancelled Annotation = "cancelled"
	AnnotationErrored   Annotation = "errored"
)

// ChatTurn is one message in a conversation. Immutable once persisted.
// Every persisted turn carries non-empty content or a function call record;
// the store rejects turns with neither.
type ChatTurn struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           Role            `json:"role"`
	Content        string          `json:"content"`
	FunctionCall   *FunctionCall   `json:"function_call,omitempty"`
	FunctionResult *FunctionResult `json:"function_result,omitempty"`
	Annotation     Annotation      `json:"annotation,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Empty reports whether the turn carries neither text nor a function record.
func (t ChatTurn) Empty() bool {
	return t.Content == "" && t.FunctionCall == nil && t.FunctionResult == nil
}
