package stores

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/airfit/coachengine/coacherr"
	"github.com/airfit/coachengine/models"
)

// SQLiteStore implements TurnStore for SQLite databases.
type SQLiteStore struct {
	db   *gorm.DB
	path string
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(config *StoreConfig) (*SQLiteStore, error) {
	if config.Type != "sqlite" {
		return nil, fmt.Errorf("invalid store type for SQLite store: %s", config.Type)
	}

	store := &SQLiteStore{
		path: config.Connection,
	}

	if err := store.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}

	return store, nil
}

// NewSQLiteStoreSimple creates a new SQLite store with just a file path.
func NewSQLiteStoreSimple(dbPath string) (*SQLiteStore, error) {
	config := NewStoreConfig("sqlite", dbPath)
	return NewSQLiteStore(config)
}

// Connect establishes a connection to the SQLite database.
func (s *SQLiteStore) Connect() error {
	db, err := gorm.Open(sqlite.Open(s.path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to SQLite database: %w", err)
	}

	s.db = db

	if err := s.db.AutoMigrate(&Conversation{}, &TurnRecord{}); err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// DB exposes the underlying connection so ancillary stores can share it.
func (s *SQLiteStore) DB() *gorm.DB {
	return s.db
}

// Ping checks if the database connection is alive.
func (s *SQLiteStore) Ping() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Ping()
}

// SaveTurn appends a turn to a conversation, creating the conversation record
// on first write. Empty turns are rejected outright.
func (s *SQLiteStore) SaveTurn(conversationID string, turn models.ChatTurn) error {
	return saveTurn(s.db, conversationID, turn)
}

// FetchHistory retrieves the last limit turns in chronological order
// (limit 0 returns everything).
func (s *SQLiteStore) FetchHistory(conversationID string, limit int) ([]models.ChatTurn, error) {
	return fetchHistory(s.db, conversationID, limit)
}

// CreateConversation creates a new conversation record.
func (s *SQLiteStore) CreateConversation(conversationID, userID string) error {
	return createConversation(s.db, conversationID, userID)
}

// ListConversations returns all conversation IDs.
func (s *SQLiteStore) ListConversations() ([]string, error) {
	return listConversations(s.db)
}

// ListConversationsForUser returns all conversations with details for a user.
func (s *SQLiteStore) ListConversationsForUser(userID string) ([]ConversationInfo, error) {
	return listConversationsForUser(s.db, userID)
}

// The query logic is identical across gorm dialects, so SQLite and Postgres
// stores share these helpers.

func saveTurn(db *gorm.DB, conversationID string, turn models.ChatTurn) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if turn.Empty() {
		return coacherr.New(coacherr.KindInvariantViolation, "refusing to persist empty turn")
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}

	var count int64
	if err := db.Model(&Conversation{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("conversation existence check failed")
	} else if count == 0 {
		if err := createConversation(db, conversationID, ""); err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to create conversation record")
		}
	}

	if err := db.Model(&TurnRecord{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count existing turns: %w", err)
	}
	seq := int(count) + 1

	rec, err := recordFromTurn(conversationID, seq, turn)
	if err != nil {
		return err
	}

	tx := db.Begin()
	if err := tx.Create(&rec).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to create turn record: %w", err)
	}
	if err := tx.Model(&Conversation{}).Where("conversation_id = ?", conversationID).Update("turn_count", seq).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update conversation turn count: %w", err)
	}
	return tx.Commit().Error
}

func fetchHistory(db *gorm.DB, conversationID string, limit int) ([]models.ChatTurn, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	var recs []TurnRecord
	query := db.Where("conversation_id = ?", conversationID).Order("sequence ASC")

	if limit > 0 {
		var count int64
		if err := db.Model(&TurnRecord{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to count turns: %w", err)
		}
		if count > int64(limit) {
			query = query.Offset(int(count) - limit)
		}
	}

	if err := query.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch turns: %w", err)
	}

	turns := make([]models.ChatTurn, 0, len(recs))
	for _, rec := range recs {
		turn, err := turnFromRecord(rec)
		if err != nil {
			log.Warn().Err(err).Str("turn_id", rec.TurnID).Msg("skipping undecodable turn record")
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func createConversation(db *gorm.DB, conversationID, userID string) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}
	conv := Conversation{
		ConversationID: conversationID,
		UserID:         userID,
		TurnCount:      0,
	}
	return db.Create(&conv).Error
}

func listConversations(db *gorm.DB) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	var convs []Conversation
	if err := db.Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}

	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ConversationID
	}
	return ids, nil
}

func listConversationsForUser(db *gorm.DB, userID string) ([]ConversationInfo, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	var convs []Conversation
	if err := db.Where("user_id = ?", userID).Order("updated_at DESC").Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}

	result := make([]ConversationInfo, len(convs))
	for i, c := range convs {
		result[i] = ConversationInfo{
			ConversationID: c.ConversationID,
			UserID:         c.UserID,
			Title:          c.Title,
			TurnCount:      c.TurnCount,
			CreatedAt:      c.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			UpdatedAt:      c.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	return result, nil
}
