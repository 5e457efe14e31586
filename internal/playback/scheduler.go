package playback

import (
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/eleven-am/voice-live/internal/audio"
	"github.com/eleven-am/voice-live/internal/transport"
)

var ErrClosed = errors.New("playback scheduler closed")

// Source is a buffer placed on the output timeline.
type Source struct {
	ID       string
	StartAt  time.Duration
	Duration time.Duration

	handle  transport.Handle
	stopped bool
}

func (s *Source) End() time.Duration {
	return s.StartAt + s.Duration
}

// Scheduler places decoded buffers back to back on the output clock so that
// playback is gapless and never overlaps, regardless of arrival jitter.
type Scheduler struct {
	out transport.OutputStream
	log *slog.Logger

	mu     sync.Mutex
	cursor time.Duration
	live   map[string]*Source
	seq    uint64
	closed bool
}

func NewScheduler(out transport.OutputStream, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		out:    out,
		log:    log.With("component", "playback"),
		cursor: out.Now(),
		live:   make(map[string]*Source),
	}
}

// Enqueue schedules buf at max(cursor, now) and advances the cursor by its
// duration. Empty buffers are ignored.
func (s *Scheduler) Enqueue(buf audio.Buffer) (*Source, error) {
	dur := buf.Duration()
	if dur <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	startAt := max(s.cursor, s.out.Now())
	s.seq++
	src := &Source{
		ID:       "src_" + strconv.FormatUint(s.seq, 10),
		StartAt:  startAt,
		Duration: dur,
	}
	s.cursor = startAt + dur
	s.live[src.ID] = src
	s.mu.Unlock()

	// The output stream may invoke onEnded from any goroutine, including
	// synchronously, so it is called without holding the lock.
	handle, err := s.out.Schedule(src.ID, buf, startAt, func() { s.ended(src.ID) })
	if err != nil {
		s.mu.Lock()
		if s.live[src.ID] == src {
			delete(s.live, src.ID)
			if s.cursor == src.End() {
				s.cursor = src.StartAt
			}
		}
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	src.handle = handle
	flushed := src.stopped
	s.mu.Unlock()

	if flushed {
		handle.Stop()
	}
	return src, nil
}

func (s *Scheduler) ended(id string) {
	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
}

// FlushAll stops every scheduled source, empties the live set and resets the
// cursor to the current output time. It returns the number of sources stopped.
func (s *Scheduler) FlushAll() int {
	s.mu.Lock()
	count := len(s.live)
	handles := make([]transport.Handle, 0, count)
	for id, src := range s.live {
		src.stopped = true
		if src.handle != nil {
			handles = append(handles, src.handle)
		}
		delete(s.live, id)
	}
	s.cursor = s.out.Now()
	s.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
	if count > 0 {
		s.log.Debug("playback flushed", "sources", count)
	}
	return count
}

func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Close flushes pending audio and closes the output stream.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.FlushAll()
	return s.out.Close()
}
