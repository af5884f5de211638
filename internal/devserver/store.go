package devserver

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// MatchRecord is one finished match. Kept for local stats; nothing in the
// realtime path reads it back.
type MatchRecord struct {
	ID         uint   `gorm:"primaryKey"`
	RoomID     string `gorm:"index"`
	Kind       string
	WinnerName string
	Draw       bool
	FinishedAt time.Time
}

type Store struct {
	db *gorm.DB
}

// OpenStore connects to postgres and migrates the schema.
func OpenStore(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.AutoMigrate(&MatchRecord{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) RecordMatch(rec MatchRecord) error {
	return s.db.Create(&rec).Error
}

// RecentMatches returns the newest finished matches, capped at limit.
func (s *Store) RecentMatches(limit int) ([]MatchRecord, error) {
	var recs []MatchRecord
	err := s.db.Order("finished_at desc").Limit(limit).Find(&recs).Error
	return recs, err
}
