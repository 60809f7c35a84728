// Package sqlstore is the relational persistence backend: Postgres in
// production, SQLite for local runs and tests.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"triage-agent/internal/domain"
)

type TurnModel struct {
	ID             string    `gorm:"primaryKey;size:32"`
	ConversationID string    `gorm:"index:idx_turn_conv_id,priority:1;size:128;not null"`
	UserID         string    `gorm:"size:128"`
	Channel        string    `gorm:"size:16"`
	UserText       string    `gorm:"type:text"`
	AgentText      string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (TurnModel) TableName() string { return "conversation_turns" }

type TriageModel struct {
	ID                string    `gorm:"primaryKey;size:32"`
	ConversationID    string    `gorm:"index;size:128;not null"`
	ChiefComplaint    string    `gorm:"type:text"`
	Symptoms          string    `gorm:"type:text"`
	DurationFrequency string    `gorm:"type:text"`
	Intensity         int       `gorm:"not null;check:intensity >= 0 AND intensity <= 10"`
	History           string    `gorm:"type:text"`
	ActionsTaken      string    `gorm:"type:text"`
	CreatedAt         time.Time `gorm:"not null"`
}

func (TriageModel) TableName() string { return "triage_records" }

// Store implements the turn and triage-record persistence contract over gorm.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: db must not be nil")
	}
	return &Store{db: db}, nil
}

// Open connects with the named driver ("postgres" or "sqlite").
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	return db, nil
}

// Migrate creates or updates the tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&TurnModel{}, &TriageModel{}); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}

// AppendTurn inserts turn; an existing id is left untouched.
func (s *Store) AppendTurn(ctx context.Context, turn domain.ConversationTurn) (string, error) {
	if turn.ConversationID == "" || turn.ID == "" {
		return "", fmt.Errorf("sqlstore: AppendTurn: %w", domain.ErrMissingKey)
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	m := TurnModel{
		ID:             turn.ID,
		ConversationID: turn.ConversationID,
		UserID:         turn.UserID,
		Channel:        string(turn.Channel),
		UserText:       turn.UserText,
		AgentText:      turn.AgentText,
		CreatedAt:      turn.CreatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
		return "", fmt.Errorf("sqlstore: AppendTurn: %w", err)
	}
	return turn.ID, nil
}

// ReadTurns returns up to limit of the most recent turns, oldest first.
func (s *Store) ReadTurns(ctx context.Context, conversationID string, limit int) ([]domain.ConversationTurn, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []TurnModel
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sqlstore: ReadTurns: %w", err)
	}

	turns := make([]domain.ConversationTurn, len(rows))
	for i, r := range rows {
		turns[len(rows)-1-i] = domain.ConversationTurn{
			ID:             r.ID,
			ConversationID: r.ConversationID,
			UserID:         r.UserID,
			Channel:        domain.Channel(r.Channel),
			UserText:       r.UserText,
			AgentText:      r.AgentText,
			CreatedAt:      r.CreatedAt.UTC(),
		}
	}
	return turns, nil
}

// WriteTriageRecord inserts rec once.
func (s *Store) WriteTriageRecord(ctx context.Context, rec domain.TriageRecord) (string, error) {
	if rec.ConversationID == "" || rec.ID == "" {
		return "", fmt.Errorf("sqlstore: WriteTriageRecord: %w", domain.ErrMissingKey)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m := TriageModel{
		ID:                rec.ID,
		ConversationID:    rec.ConversationID,
		ChiefComplaint:    rec.ChiefComplaint,
		Symptoms:          rec.Symptoms,
		DurationFrequency: rec.DurationFrequency,
		Intensity:         rec.Intensity,
		History:           rec.History,
		ActionsTaken:      rec.ActionsTaken,
		CreatedAt:         rec.CreatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
		return "", fmt.Errorf("sqlstore: WriteTriageRecord: %w", err)
	}
	return rec.ID, nil
}

// ReadTriageRecord returns the most recent record for a conversation, or nil.
func (s *Store) ReadTriageRecord(ctx context.Context, conversationID string) (*domain.TriageRecord, error) {
	var m TriageModel
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: ReadTriageRecord: %w", err)
	}
	return &domain.TriageRecord{
		ID:                m.ID,
		ConversationID:    m.ConversationID,
		ChiefComplaint:    m.ChiefComplaint,
		Symptoms:          m.Symptoms,
		DurationFrequency: m.DurationFrequency,
		Intensity:         m.Intensity,
		History:           m.History,
		ActionsTaken:      m.ActionsTaken,
		CreatedAt:         m.CreatedAt.UTC(),
	}, nil
}
