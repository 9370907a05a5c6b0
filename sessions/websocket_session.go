package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	coachengine "github.com/airfit/coachengine"
	"github.com/airfit/coachengine/coacherr"
)

// WebSocketWriter serializes concurrent writes to one connection.
type WebSocketWriter struct {
	Conn *websocket.Conn
	mu   sync.Mutex
}

func (w *WebSocketWriter) WriteEvent(evt coachengine.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Conn.WriteJSON(evt)
}

func (w *WebSocketWriter) WriteError(message string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Conn.WriteJSON(map[string]string{"error": message})
}

// clientMessage is one inbound frame from the client.
type clientMessage struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
	Cancel         bool   `json:"cancel,omitempty"`
}

// WebSocketSession drives a long-lived conversation over one socket. Each
// inbound message starts a turn; sending a new message while one is
// streaming cancels the in-flight turn, matching the orchestrator's
// single-turn-per-conversation rule.
type WebSocketSession struct {
	Orchestrator   *coachengine.Orchestrator
	ConversationID string
	Writer         *WebSocketWriter
	Logger         zerolog.Logger
}

func NewWebSocketSession(conversationID string, conn *websocket.Conn, orchestrator *coachengine.Orchestrator, logger zerolog.Logger) *WebSocketSession {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	return &WebSocketSession{
		Orchestrator:   orchestrator,
		ConversationID: conversationID,
		Writer:         &WebSocketWriter{Conn: conn},
		Logger: logger.With().
			Str("component", "ws_session").
			Str("conversation_id", conversationID).
			Logger(),
	}
}

// Run reads client messages until the socket closes. It returns on read
// error; the caller owns closing the connection.
func (s *WebSocketSession) Run(ctx context.Context) {
	s.Logger.Info().Msg("websocket session started")
	defer s.Logger.Info().Msg("websocket session ended")

	var turnWG sync.WaitGroup
	defer turnWG.Wait()

	for {
		var msg clientMessage
		if err := s.Writer.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.Logger.Warn().Err(err).Msg("websocket read failed")
			}
			s.Orchestrator.CancelTurn(s.ConversationID)
			return
		}

		if msg.Cancel {
			s.Orchestrator.CancelTurn(s.ConversationID)
			continue
		}
		if msg.Message == "" {
			_ = s.Writer.WriteError("message must not be empty")
			continue
		}
		if msg.ConversationID != "" {
			s.ConversationID = msg.ConversationID
		}

		events, err := s.Orchestrator.StartTurn(ctx, s.ConversationID, msg.Message)
		if err != nil {
			_ = s.Writer.WriteError(coacherr.UserMessage(err))
			continue
		}

		turnWG.Add(1)
		go func() {
			defer turnWG.Done()
			s.forward(events)
		}()
	}
}

func (s *WebSocketSession) forward(events <-chan coachengine.Event) {
	start := time.Now()
	firstToken := false
	for evt := range events {
		if evt.Kind == coachengine.EventTextDelta && !firstToken {
			s.Logger.Debug().Dur("time_to_first_token", time.Since(start)).Msg("first token")
			firstToken = true
		}
		if err := s.Writer.WriteEvent(evt); err != nil {
			s.Logger.Info().Msg("websocket client disconnected mid-turn")
			for range events {
			}
			return
		}
	}
}
