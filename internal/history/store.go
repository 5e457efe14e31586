package history

import (
	"context"

	"gorm.io/gorm"

	"github.com/eleven-am/voice-live/internal/shared"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Turn{})
}

func (s *Store) Save(ctx context.Context, t *Turn) error {
	if t.ID == "" {
		t.ID = shared.NewID("turn_")
	}
	return s.db.WithContext(ctx).Create(t).Error
}

// ListBySession returns a session's turns in the order they were spoken.
func (s *Store) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*Turn, error) {
	var turns []*Turn
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("spoken_at ASC, created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&turns).Error
	return turns, err
}

func (s *Store) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Turn{}).Where("session_id = ?", sessionID).Count(&count).Error
	return count, err
}

func (s *Store) DeleteBySession(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&Turn{}).Error
}
