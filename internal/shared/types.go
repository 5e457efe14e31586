package shared

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	return json.Marshal(s)
}

func (s *StringSlice) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringSlice", value)
	}

	return json.Unmarshal(bytes, s)
}

// NewID returns prefix followed by a random UUID in hex form.
func NewID(prefix string) string {
	id := uuid.New()
	return prefix + hex.EncodeToString(id[:])
}

// Mode selects the instruction profile of a live session and whether
// synthesized audio is played back.
type Mode string

const (
	ModeConversation Mode = "conversation"
	ModeDictation    Mode = "dictation"
)

func (m Mode) String() string {
	return string(m)
}

func (m Mode) Valid() bool {
	return m == ModeConversation || m == ModeDictation
}

// PlaysAudio reports whether inbound model audio is forwarded to playback.
func (m Mode) PlaysAudio() bool {
	return m == ModeConversation
}

func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if m == "" {
		return ModeConversation, nil
	}
	if !m.Valid() {
		return "", fmt.Errorf("unknown mode %q", s)
	}
	return m, nil
}

type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

func (s Speaker) String() string {
	return string(s)
}
