// Package sessions exposes the orchestrator over caller-facing transports:
// Server-Sent Events for one-shot chat requests and WebSocket for
// long-lived conversations.
package sessions

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	coachengine "github.com/airfit/coachengine"
	"github.com/airfit/coachengine/coacherr"
)

// SSEWriter handles Server-Sent Events writing.
type SSEWriter interface {
	WriteSSE(data string) error
	WriteSSEError(err error) error
	Flush()
}

// SSESession streams one turn's events to an SSE client.
type SSESession struct {
	Orchestrator *coachengine.Orchestrator
	Logger       zerolog.Logger
}

func NewSSESession(orchestrator *coachengine.Orchestrator, logger zerolog.Logger) *SSESession {
	return &SSESession{
		Orchestrator: orchestrator,
		Logger:       logger.With().Str("component", "sse_session").Logger(),
	}
}

// Stream runs one turn and writes each orchestrator event as an SSE frame.
// The frame payload is the JSON-encoded event; the end event is always the
// final frame.
func (s *SSESession) Stream(ctx context.Context, conversationID, utterance string, w SSEWriter) error {
	events, err := s.Orchestrator.StartTurn(ctx, conversationID, utterance)
	if err != nil {
		s.Logger.Warn().Str("kind", string(coacherr.KindOf(err))).Msg("turn rejected")
		return w.WriteSSEError(err)
	}

	for evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			s.Logger.Error().Err(err).Msg("failed to encode event")
			continue
		}
		if err := w.WriteSSE(string(data)); err != nil {
			// Client went away. The orchestrator keeps draining so turns
			// are still persisted; we just stop writing.
			s.Logger.Info().Msg("sse client disconnected")
			for range events {
			}
			return err
		}
		w.Flush()
	}
	return nil
}
