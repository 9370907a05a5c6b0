package stores

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/airfit/coachengine/coacherr"
	"github.com/airfit/coachengine/models"
)

// TurnRecord is the persisted form of a chat turn. FunctionCall and
// FunctionResult payloads are stored as verbatim JSON and never reshaped.
type TurnRecord struct {
	gorm.Model
	TurnID         string    `gorm:"uniqueIndex;not null"`
	ConversationID string    `gorm:"index;not null"`
	Sequence       int       `gorm:"not null"`
	Role           string    `gorm:"not null"`
	Content        string    `gorm:"type:text"`
	Annotation     string    `gorm:"default:''"`
	CallJSON       string    `gorm:"type:json"`
	ResultJSON     string    `gorm:"type:json"`
	Timestamp      time.Time `gorm:"not null"`
}

// Conversation holds metadata for one coaching conversation.
type Conversation struct {
	gorm.Model
	ConversationID string `gorm:"uniqueIndex;not null"`
	UserID         string `gorm:"index;not null"`
	Title          string `gorm:"type:text"`
	TurnCount      int    `gorm:"default:0"`
}

// ConversationInfo holds conversation metadata for listing.
type ConversationInfo struct {
	ConversationID string
	UserID         string
	Title          string
	TurnCount      int
	CreatedAt      string
	UpdatedAt      string
}

// TurnStore abstracts turn persistence across database backends.
type TurnStore interface {
	// SaveTurn appends a turn to a conversation, creating the conversation
	// record on first write. Empty turns are rejected.
	SaveTurn(conversationID string, turn models.ChatTurn) error
	// FetchHistory returns the last limit turns in chronological order
	// (all turns when limit is 0).
	FetchHistory(conversationID string, limit int) ([]models.ChatTurn, error)

	CreateConversation(conversationID, userID string) error
	ListConversations() ([]string, error)
	ListConversationsForUser(userID string) ([]ConversationInfo, error)

	Connect() error
	Close() error
	Ping() error
}

// StoreConfig holds configuration for database stores.
type StoreConfig struct {
	Type       string            `json:"type"`       // "sqlite" or "postgres"
	Connection string            `json:"connection"` // path or DSN
	Options    map[string]string `json:"options"`
}

func NewStoreConfig(storeType, connection string) *StoreConfig {
	return &StoreConfig{
		Type:       storeType,
		Connection: connection,
		Options:    make(map[string]string),
	}
}

func (c *StoreConfig) WithOption(key, value string) *StoreConfig {
	c.Options[key] = value
	return c
}

func recordFromTurn(conversationID string, seq int, turn models.ChatTurn) (TurnRecord, error) {
	rec := TurnRecord{
		TurnID:         turn.ID,
		ConversationID: conversationID,
		Sequence:       seq,
		Role:           string(turn.Role),
		Content:        turn.Content,
		Annotation:     string(turn.Annotation),
		Timestamp:      turn.Timestamp,
	}
	if turn.FunctionCall != nil {
		data, err := json.Marshal(turn.FunctionCall)
		if err != nil {
			return TurnRecord{}, coacherr.Wrap(coacherr.KindInvariantViolation, "encode function call", err)
		}
		rec.CallJSON = string(data)
	}
	if turn.FunctionResult != nil {
		data, err := json.Marshal(turn.FunctionResult)
		if err != nil {
			return TurnRecord{}, coacherr.Wrap(coacherr.KindInvariantViolation, "encode function result", err)
		}
		rec.ResultJSON = string(data)
	}
	return rec, nil
}

func turnFromRecord(rec TurnRecord) (models.ChatTurn, error) {
	turn := models.ChatTurn{
		ID:             rec.TurnID,
		ConversationID: rec.ConversationID,
		Role:           models.Role(rec.Role),
		Content:        rec.Content,
		Annotation:     models.Annotation(rec.Annotation),
		Timestamp:      rec.Timestamp,
	}
	if rec.CallJSON != "" {
		var call models.FunctionCall
		if err := json.Unmarshal([]byte(rec.CallJSON), &call); err != nil {
			return models.ChatTurn{}, coacherr.Wrap(coacherr.KindInvariantViolation, "decode stored function call", err)
		}
		turn.FunctionCall = &call
	}
	if rec.ResultJSON != "" {
		var result models.FunctionResult
		if err := json.Unmarshal([]byte(rec.ResultJSON), &result); err != nil {
			return models.ChatTurn{}, coacherr.Wrap(coacherr.KindInvariantViolation, "decode stored function result", err)
		}
		turn.FunctionResult = &result
	}
	return turn, nil
}
