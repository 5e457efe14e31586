package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/voice-live/internal/live"
	"github.com/eleven-am/voice-live/internal/shared"
	"github.com/eleven-am/voice-live/internal/turns"
)

const writeTimeout = 2 * time.Second

// Tracker mirrors one controller's lifecycle into the registry. A new
// record is created each time the controller reaches connected, and ended
// when it leaves it. Registry writes run on a background writer so the
// callbacks return without touching Redis.
type Tracker struct {
	store      *Store
	mode       func() shared.Mode
	remoteAddr string
	writer     *shared.Writer
	log        *slog.Logger

	mu        sync.Mutex
	sessionID string
}

func NewTracker(store *Store, mode func() shared.Mode, remoteAddr string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "session_tracker")
	return &Tracker{
		store:      store,
		mode:       mode,
		remoteAddr: remoteAddr,
		writer:     shared.NewWriter(shared.DefaultWriterBuffer, writeTimeout, log),
		log:        log,
	}
}

// SessionID returns the registry ID of the current connection, or "" when
// not connected.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *Tracker) OnState(state live.State, err error) {
	switch state {
	case live.StateConnected:
		sess := &Session{ID: shared.NewID("live_"), Mode: t.mode(), RemoteAddr: t.remoteAddr}
		t.mu.Lock()
		t.sessionID = sess.ID
		t.mu.Unlock()
		t.writer.Submit("register session", func(ctx context.Context) error {
			if err := t.store.Create(ctx, sess); err != nil {
				return err
			}
			t.log.Info("session registered", "session_id", sess.ID, "mode", sess.Mode)
			return nil
		})

	case live.StateDisconnected, live.StateError:
		t.mu.Lock()
		id := t.sessionID
		t.sessionID = ""
		t.mu.Unlock()
		if id == "" {
			return
		}

		reason := ""
		if state == live.StateError {
			reason = shared.ErrorCode(err)
		}
		t.writer.Submit("end session", func(ctx context.Context) error {
			return t.store.End(ctx, id, reason)
		})
	}
}

func (t *Tracker) OnFinal(msg turns.Message, _ string) {
	id := t.SessionID()
	if id == "" {
		return
	}

	turn := Turn{ID: msg.ID, Speaker: msg.Speaker, Text: msg.Text, Timestamp: msg.Timestamp}
	t.writer.Submit("append turn", func(ctx context.Context) error {
		return t.store.AppendTurn(ctx, id, turn)
	})
}

// Flush waits for the registry writes queued so far.
func (t *Tracker) Flush() { t.writer.Flush() }

// Close waits for queued writes and stops the writer.
func (t *Tracker) Close() { t.writer.Close() }

func (t *Tracker) OnPartial(turns.Message)      {}
func (t *Tracker) OnVolume(float64)             {}
func (t *Tracker) OnExtraction(live.Extraction) {}
