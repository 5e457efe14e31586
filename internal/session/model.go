package session

import (
	"strconv"
	"time"

	"github.com/eleven-am/voice-live/internal/shared"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
	StatusError  Status = "error"
)

const activeSetKey = "live:sessions:active"

// Session is the registry record of one live connection.
type Session struct {
	ID           string      `json:"id"`
	Mode         shared.Mode `json:"mode"`
	Status       Status      `json:"status"`
	RemoteAddr   string      `json:"remote_addr,omitempty"`
	Turns        int         `json:"turns"`
	Error        string      `json:"error,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	LastActiveAt time.Time   `json:"last_active_at"`
	EndedAt      *time.Time  `json:"ended_at,omitempty"`
}

func (s *Session) RedisKey() string {
	return "live:session:" + s.ID
}

func TurnsRedisKey(sessionID string) string {
	return "live:session:" + sessionID + ":turns"
}

// Turn is a finalized message as kept in the short-lived turn log.
type Turn struct {
	ID        string         `json:"id"`
	Speaker   shared.Speaker `json:"speaker"`
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp"`
}

type Stats struct {
	Date       string `json:"date"`
	Hour       int    `json:"hour"`
	Sessions   int64  `json:"sessions"`
	UserTurns  int64  `json:"user_turns"`
	ModelTurns int64  `json:"model_turns"`
	ErrorCount int64  `json:"error_count"`
}

func StatsRedisKey(date string, hour int) string {
	return "live:stats:" + date + ":" + strconv.Itoa(hour)
}
