package transport

import (
	"context"
	"time"

	"github.com/eleven-am/voice-live/internal/audio"
)

// Session is one duplex connection to the remote speech service. Send never
// blocks the caller and preserves submission order. Events is closed after the
// final closed or error event.
type Session interface {
	Send(frame audio.Blob) error
	Events() <-chan Event
	Close() error
}

type Dialer interface {
	Open(ctx context.Context, profile Profile) (Session, error)
}

// CaptureStream yields fixed-size float blocks in [-1, 1] at SampleRate.
type CaptureStream interface {
	SampleRate() int
	Blocks() <-chan []float32
	Close() error
}

type CaptureDevice interface {
	Open(ctx context.Context) (CaptureStream, error)
}

type Handle interface {
	Stop()
}

// OutputStream renders buffers at offsets of its own monotonic clock. onEnded
// fires once when a buffer finishes naturally and never after Stop.
type OutputStream interface {
	Now() time.Duration
	Schedule(id string, buf audio.Buffer, at time.Duration, onEnded func()) (Handle, error)
	Close() error
}

type OutputDevice interface {
	Open(ctx context.Context) (OutputStream, error)
}

// CredentialChecker is implemented by dialers that can tell before dialing
// that no credential is configured.
type CredentialChecker interface {
	CheckCredential() error
}
