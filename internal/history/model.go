package history

import (
	"time"

	"github.com/eleven-am/voice-live/internal/shared"
)

// Turn is a finalized message persisted for later review.
type Turn struct {
	ID        string             `gorm:"primaryKey" json:"id"`
	SessionID string             `gorm:"not null;index:idx_session_spoken" json:"session_id"`
	Speaker   shared.Speaker     `gorm:"not null" json:"speaker"`
	Text      string             `gorm:"not null" json:"text"`
	Keywords  shared.StringSlice `gorm:"type:json" json:"keywords,omitempty"`
	Sentiment string             `json:"sentiment,omitempty"`
	Language  string             `json:"language,omitempty"`
	SpokenAt  time.Time          `gorm:"index:idx_session_spoken" json:"spoken_at"`
	CreatedAt time.Time          `json:"created_at"`
}

func (Turn) TableName() string {
	return "live_turns"
}
