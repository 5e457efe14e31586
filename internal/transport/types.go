package transport

import (
	"fmt"
	"strings"

	"github.com/eleven-am/voice-live/internal/audio"
	"github.com/eleven-am/voice-live/internal/shared"
)

type EventKind string

const (
	EventOpened           EventKind = "opened"
	EventInputTranscript  EventKind = "input_transcript"
	EventOutputTranscript EventKind = "output_transcript"
	EventTurnComplete     EventKind = "turn_complete"
	EventInterrupted      EventKind = "interrupted"
	EventAudio            EventKind = "audio"
	EventClosed           EventKind = "closed"
	EventError            EventKind = "error"
)

// Event is one inbound notification from a live session. Text is set for
// transcript fragments, Audio for audio payloads and Err for error and
// unexpected close events.
type Event struct {
	Kind  EventKind
	Text  string
	Audio audio.Blob
	Err   error
}

func (e Event) String() string {
	switch e.Kind {
	case EventInputTranscript, EventOutputTranscript:
		return fmt.Sprintf("%s(%q)", e.Kind, e.Text)
	case EventAudio:
		return fmt.Sprintf("%s(%s, %d chars)", e.Kind, e.Audio.MIMEType, len(e.Audio.Data))
	case EventError, EventClosed:
		if e.Err != nil {
			return fmt.Sprintf("%s(%v)", e.Kind, e.Err)
		}
	}
	return string(e.Kind)
}

type Modality string

const (
	ModalityAudio Modality = "AUDIO"
	ModalityText  Modality = "TEXT"
)

// Profile is fixed when a session opens and never changes for its lifetime.
type Profile struct {
	Mode        shared.Mode
	Instruction string
	Voice       string
	Modalities  []Modality
}

func (p Profile) Validate() error {
	if !p.Mode.Valid() {
		return fmt.Errorf("invalid mode %q", p.Mode)
	}
	if strings.TrimSpace(p.Instruction) == "" {
		return fmt.Errorf("profile %s: empty instruction", p.Mode)
	}
	if len(p.Modalities) == 0 {
		return fmt.Errorf("profile %s: no response modalities", p.Mode)
	}
	return nil
}

// MessageType labels the JSON messages exchanged with browser clients.
type MessageType string

const (
	MessageTypeHello      MessageType = "hello"
	MessageTypeDisconnect MessageType = "disconnect"

	MessageTypeState      MessageType = "state"
	MessageTypeVolume     MessageType = "volume"
	MessageTypeMessage    MessageType = "message"
	MessageTypeExtraction MessageType = "extraction"
	MessageTypePlay       MessageType = "play"
	MessageTypeStop       MessageType = "stop"
	MessageTypeError      MessageType = "error"
)
