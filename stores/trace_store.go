package stores

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// TurnTrace records the configuration snapshot and outcome of one
// orchestrated turn. Used for debugging and auditing which provider and
// model produced a given response; never read on the hot path.
type TurnTrace struct {
	ID             uint      `gorm:"primarykey" json:"-"`
	CreatedAt      time.Time `json:"-"`
	ConversationID string    `gorm:"index:idx_trace_conv;not null" json:"conversation_id"`
	TurnID         string    `gorm:"index:idx_trace_turn;not null" json:"turn_id"`
	Provider       string    `gorm:"not null" json:"provider"`
	Model          string    `gorm:"not null" json:"model"`
	Temperature    float64   `json:"temperature,omitempty"`
	Outcome        string    `gorm:"not null" json:"outcome"` // completed, function_call, cancelled, errored
	ErrorKind      string    `json:"error_kind,omitempty"`
	DurationMS     int64     `json:"duration_ms,omitempty"`
}

// TraceStore persists turn traces.
type TraceStore interface {
	SaveTrace(trace *TurnTrace) error
	GetTracesByConversation(conversationID string) ([]*TurnTrace, error)
	DeleteTracesByConversation(conversationID string) error
}

// GORMTraceStore implements TraceStore over an existing gorm connection,
// sharing the database with the turn store.
type GORMTraceStore struct {
	db *gorm.DB
}

// NewGORMTraceStore creates a trace store from an existing database connection.
func NewGORMTraceStore(db *gorm.DB) (*GORMTraceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	if err := db.AutoMigrate(&TurnTrace{}); err != nil {
		return nil, fmt.Errorf("failed to migrate turn_traces table: %w", err)
	}

	return &GORMTraceStore{db: db}, nil
}

// SaveTrace saves a single trace record.
func (s *GORMTraceStore) SaveTrace(trace *TurnTrace) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Create(trace).Error
}

// GetTracesByConversation retrieves all traces for a conversation in order.
func (s *GORMTraceStore) GetTracesByConversation(conversationID string) ([]*TurnTrace, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	var traces []*TurnTrace
	err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&traces).Error

	return traces, err
}

// DeleteTracesByConversation removes all traces for a conversation.
func (s *GORMTraceStore) DeleteTracesByConversation(conversationID string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Where("conversation_id = ?", conversationID).Delete(&TurnTrace{}).Error
}
