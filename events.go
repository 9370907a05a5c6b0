package coachengine

import (
	"github.com/airfit/coachengine/coacherr"
	"github.com/airfit/coachengine/intent"
	"github.com/airfit/coachengine/models"
)

// EventKind discriminates orchestrator events.
type EventKind string

const (
	// EventTextDelta carries an incremental text fragment for live rendering.
	EventTextDelta EventKind = "text_delta"
	// EventFunctionCall reports that the model requested a function.
	EventFunctionCall EventKind = "function_call"
	// EventLocalAction reports an app command resolved without a model call.
	EventLocalAction EventKind = "local_action_triggered"
	// EventFunctionDispatched reports the function result coming back.
	EventFunctionDispatched EventKind = "function_dispatched"
	// EventTurnPersisted reports that a turn was written to the store.
	EventTurnPersisted EventKind = "turn_persisted"
	// EventErrored carries a terminal structured error.
	EventErrored EventKind = "errored"
	// EventEnd closes every turn's event sequence, exactly once.
	EventEnd EventKind = "end"
)

// Event is one item in the sequence produced by StartTurn. Exactly one of
// the payload fields is set, matching Kind.
type Event struct {
	Kind   EventKind              `json:"kind"`
	Text   string                 `json:"text,omitempty"`
	Action *intent.Action         `json:"action,omitempty"`
	Call   *models.FunctionCall   `json:"call,omitempty"`
	Result *models.FunctionResult `json:"result,omitempty"`
	Turn   *models.ChatTurn       `json:"turn,omitempty"`
	Err    *coacherr.Error        `json:"error,omitempty"`
}

func textDeltaEvent(text string) Event {
	return Event{Kind: EventTextDelta, Text: text}
}

func functionCallEvent(call *models.FunctionCall) Event {
	return Event{Kind: EventFunctionCall, Call: call}
}

func localActionEvent(action *intent.Action) Event {
	return Event{Kind: EventLocalAction, Action: action}
}

func functionDispatchedEvent(result *models.FunctionResult) Event {
	return Event{Kind: EventFunctionDispatched, Result: result}
}

func turnPersistedEvent(turn *models.ChatTurn) Event {
	return Event{Kind: EventTurnPersisted, Turn: turn}
}

func erroredEvent(err *coacherr.Error) Event {
	return Event{Kind: EventErrored, Err: err}
}

func endEvent() Event {
	return Event{Kind: EventEnd}
}
