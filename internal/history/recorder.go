package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/eleven-am/voice-live/internal/extract"
	"github.com/eleven-am/voice-live/internal/live"
	"github.com/eleven-am/voice-live/internal/shared"
	"github.com/eleven-am/voice-live/internal/turns"
)

const saveTimeout = 3 * time.Second

// Recorder persists every finalized message of the session named by
// sessionID. Messages finalized while no session is registered are dropped.
// Saves run on a background writer, never inside the callback.
type Recorder struct {
	store     *Store
	sessionID func() string
	writer    *shared.Writer
	log       *slog.Logger
}

func NewRecorder(store *Store, sessionID func() string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "history")
	return &Recorder{
		store:     store,
		sessionID: sessionID,
		writer:    shared.NewWriter(shared.DefaultWriterBuffer, saveTimeout, log),
		log:       log,
	}
}

func (r *Recorder) OnFinal(msg turns.Message, _ string) {
	id := r.sessionID()
	if id == "" || msg.Text == "" {
		return
	}

	r.writer.Submit("save turn", func(ctx context.Context) error {
		if err := r.store.Save(ctx, buildTurn(id, msg)); err != nil {
			r.log.Warn("failed to persist turn", "error", err, "session_id", id, "turn_id", msg.ID)
		}
		return nil
	})
}

func buildTurn(sessionID string, msg turns.Message) *Turn {
	res := extract.Extract(msg.Text)
	return &Turn{
		ID:        msg.ID,
		SessionID: sessionID,
		Speaker:   msg.Speaker,
		Text:      msg.Text,
		Keywords:  res.Keywords,
		Sentiment: string(res.Sentiment),
		Language:  string(res.Language),
		SpokenAt:  msg.Timestamp,
	}
}

func (r *Recorder) Flush() { r.writer.Flush() }

// Close waits for pending saves and stops the writer.
func (r *Recorder) Close() { r.writer.Close() }

func (r *Recorder) OnPartial(turns.Message)      {}
func (r *Recorder) OnState(live.State, error)    {}
func (r *Recorder) OnVolume(float64)             {}
func (r *Recorder) OnExtraction(live.Extraction) {}
