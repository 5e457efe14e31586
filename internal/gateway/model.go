package gateway

import (
	"github.com/eleven-am/voice-live/internal/live"
	"github.com/eleven-am/voice-live/internal/transport"
	"github.com/eleven-am/voice-live/internal/turns"
)

type MessageType = transport.MessageType

const (
	MessageTypeHello      = transport.MessageTypeHello
	MessageTypeDisconnect = transport.MessageTypeDisconnect
	MessageTypeState      = transport.MessageTypeState
	MessageTypeVolume     = transport.MessageTypeVolume
	MessageTypeMessage    = transport.MessageTypeMessage
	MessageTypeExtraction = transport.MessageTypeExtraction
	MessageTypePlay       = transport.MessageTypePlay
	MessageTypeStop       = transport.MessageTypeStop
	MessageTypeError      = transport.MessageTypeError
)

// ClientMessage is a text frame sent by the browser. Captured audio
// arrives separately as binary frames of little-endian float32 samples.
type ClientMessage struct {
	Type       MessageType `json:"type"`
	SampleRate int         `json:"sample_rate,omitempty"`
	Mode       string      `json:"mode,omitempty"`
}

type ServerMessage struct {
	Type MessageType `json:"type"`

	State live.State `json:"state,omitempty"`
	Code  string     `json:"code,omitempty"`
	Error string     `json:"error,omitempty"`

	Level *float64 `json:"level,omitempty"`

	Message  *turns.Message `json:"message,omitempty"`
	Replaces string         `json:"replaces,omitempty"`

	Extraction *live.Extraction `json:"extraction,omitempty"`

	// Playback. StartAt is in seconds on the clock of Stream, which starts
	// at zero when the stream is opened.
	ID         string   `json:"id,omitempty"`
	Stream     string   `json:"stream,omitempty"`
	StartAt    *float64 `json:"start_at,omitempty"`
	SampleRate int      `json:"sample_rate,omitempty"`
	Data       string   `json:"data,omitempty"`
}

func errorMessage(code string, err error) *ServerMessage {
	return &ServerMessage{Type: MessageTypeError, Code: code, Error: err.Error()}
}
