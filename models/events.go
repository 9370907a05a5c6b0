package models

import "github.com/airfit/coachengine/coacherr"

// StreamEventType tags the canonical event union every provider adapter
// must produce.
type StreamEventType string

const (
	EventTextDelta    StreamEventType = "text_delta"
	EventFunctionCall StreamEventType = "function_call"
	EventEnd          StreamEventType = "end"
	EventError        StreamEventType = "error"
)

// StreamEvent is the single vocabulary for in-flight provider output.
// Exactly one of Text, Call, or Err is populated depending on Type.
// Events are transient per request and never persisted directly.
type StreamEvent struct {
	Type StreamEventType
	Text string
	Call *FunctionCall
	Err  *coacherr.Error
}

func TextDelta(text string) StreamEvent {
	return StreamEvent{Type: EventTextDelta, Text: text}
}

func CallEvent(call FunctionCall) StreamEvent {
	return StreamEvent{Type: EventFunctionCall, Call: &call}
}

func EndEvent() StreamEvent {
	return StreamEvent{Type: EventEnd}
}

func ErrorEvent(err *coacherr.Error) StreamEvent {
	return StreamEvent{Type: EventError, Err: err}
}

// Terminal reports whether this event must end the stream.
func (e StreamEvent) Terminal() bool {
	switch e.Type {
	case EventFunctionCall, EventEnd, EventError:
		return true
	}
	return false
}
