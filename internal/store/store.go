package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"halcyon/voice/internal/fsm"
)

// TurnRecord is the persisted shape of one closed turn.
type TurnRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	SessionID string `gorm:"size:64;index"`

	StartedAt  time.Time
	FinishedAt time.Time

	UserText  string `gorm:"type:text"`
	AgentText string `gorm:"type:text"`
	Outcome   string `gorm:"size:32;index"`

	WasInterrupted bool

	// JSON-encoded list of {from,to,at}
	StateTransitions string `gorm:"type:text"`

	TokensPrompt     int
	TokensCompletion int
	TokensWasted     int

	LatencyMs  int64
	DurationMs int64
}

// EncodeTransitions renders a transition log for the record.
func EncodeTransitions(trs []fsm.Transition) string {
	b, _ := json.Marshal(trs)
	return string(b)
}

// Store wraps the turns database.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite file and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&TurnRecord{}); err != nil {
		return nil, fmt.Errorf("store: auto-migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Insert(rec TurnRecord) error {
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("store: insert turn %s: %w", rec.ID, err)
	}
	return nil
}

// SessionTurns lists a session's turns, newest first.
func (s *Store) SessionTurns(sessionID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []TurnRecord
	err := s.db.Where("session_id = ?", sessionID).
		Order("started_at desc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("store: list turns for %s: %w", sessionID, err)
	}
	return out, nil
}

// SessionIDs lists distinct sessions that have recorded turns.
func (s *Store) SessionIDs() ([]string, error) {
	var out []string
	err := s.db.Model(&TurnRecord{}).Distinct("session_id").Pluck("session_id", &out).Error
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	return out, nil
}
