package gemini

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eleven-am/voice-live/internal/audio"
	"github.com/eleven-am/voice-live/internal/shared"
	"github.com/eleven-am/voice-live/internal/transport"
)

const (
	DefaultPendingFrames = 64
	eventBuffer          = 64
	outboundBuffer       = 256
)

// wireConn is one established connection to the service. Read and
// WriteAudio are each called from a single goroutine.
type wireConn interface {
	WriteAudio(frame audio.Blob) error
	Read() (*serverMessage, error)
	Close() error
}

// frameQueue holds frames submitted before the setup handshake completes.
// It keeps at most limit frames and drops the oldest one on overflow.
type frameQueue struct {
	frames  []audio.Blob
	limit   int
	dropped int
}

func newFrameQueue(limit int) *frameQueue {
	if limit <= 0 {
		limit = DefaultPendingFrames
	}
	return &frameQueue{limit: limit}
}

func (q *frameQueue) push(frame audio.Blob) bool {
	dropped := false
	if len(q.frames) == q.limit {
		q.frames = q.frames[1:]
		q.dropped++
		dropped = true
	}
	q.frames = append(q.frames, frame)
	return dropped
}

func (q *frameQueue) drain() []audio.Blob {
	frames := q.frames
	q.frames = nil
	return frames
}

func (q *frameQueue) len() int {
	return len(q.frames)
}

// Session implements transport.Session over a wireConn. Frames sent before
// setupComplete are queued and flushed in order exactly once.
type Session struct {
	conn wireConn
	log  *slog.Logger

	mu        sync.Mutex
	ready     bool
	closed    bool
	expired   bool
	pending   *frameQueue
	overflow  int
	handshake *time.Timer

	out       chan audio.Blob
	events    chan transport.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn wireConn, pendingLimit int, log *slog.Logger) *Session {
	pending := newFrameQueue(pendingLimit)
	return &Session{
		conn:    conn,
		log:     log,
		pending: pending,
		out:     make(chan audio.Blob, outboundBuffer+pending.limit),
		events:  make(chan transport.Event, eventBuffer),
		done:    make(chan struct{}),
	}
}

func (s *Session) start(handshakeTimeout time.Duration) {
	if handshakeTimeout > 0 {
		s.mu.Lock()
		s.handshake = time.AfterFunc(handshakeTimeout, s.handshakeExpired)
		s.mu.Unlock()
	}
	go s.readPump()
	go s.writePump()
}

func (s *Session) Events() <-chan transport.Event {
	return s.events
}

func (s *Session) Send(frame audio.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("send: %w", shared.ErrSessionClosed)
	}
	if !s.ready {
		if s.pending.push(frame) {
			s.log.Warn("pending frame queue full, dropped oldest frame", "limit", s.pending.limit, "dropped", s.pending.dropped)
		}
		return nil
	}

	// Once ready, a full outbound buffer drops the new frame.
	select {
	case s.out <- frame:
		return nil
	default:
		s.overflow++
		return fmt.Errorf("send: %w", shared.ErrFrameDropped)
	}
}

// Pending reports how many frames are waiting for the handshake.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.len()
}

// Dropped reports frames lost to either queue: the oldest pending frames
// evicted before the handshake and new frames refused by a full outbound
// buffer afterwards.
func (s *Session) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.dropped + s.overflow
}

func (s *Session) markReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return
	}
	s.ready = true
	if s.handshake != nil {
		s.handshake.Stop()
	}

	frames := s.pending.drain()
	for _, f := range frames {
		s.out <- f
	}
	if len(frames) > 0 {
		s.log.Debug("flushed pending frames", "count", len(frames))
	}
}

func (s *Session) handshakeExpired() {
	s.mu.Lock()
	if s.ready || s.closed {
		s.mu.Unlock()
		return
	}
	s.expired = true
	s.mu.Unlock()

	s.log.Warn("setup handshake timed out")
	_ = s.conn.Close()
}

func (s *Session) emit(evt transport.Event) bool {
	select {
	case s.events <- evt:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) readPump() {
	defer close(s.events)

	for {
		msg, err := s.conn.Read()
		if err != nil {
			if errors.Is(err, shared.ErrDecode) {
				s.log.Warn("skipping malformed server message", "error", err)
				continue
			}
			s.finish(err)
			return
		}

		if msg.SetupComplete != nil {
			if !s.emit(transport.Event{Kind: transport.EventOpened}) {
				return
			}
			s.markReady()
		}
		if msg.GoAway != nil {
			s.log.Warn("server is going away", "time_left", msg.GoAway.TimeLeft)
		}
		if msg.ServerContent != nil {
			for _, evt := range msg.ServerContent.events() {
				if !s.emit(evt) {
					return
				}
			}
		}
	}
}

// finish reports why the read side ended. A locally initiated close reports
// nothing; the caller already knows.
func (s *Session) finish(err error) {
	s.mu.Lock()
	local := s.closed
	expired := s.expired
	s.mu.Unlock()

	if local {
		return
	}

	var evt transport.Event
	var closeErr *websocket.CloseError
	switch {
	case expired:
		evt = transport.Event{Kind: transport.EventError, Err: fmt.Errorf("%w: setup not acknowledged", shared.ErrTransportOpen)}
	case errors.As(err, &closeErr):
		evt = transport.Event{Kind: transport.EventClosed, Err: fmt.Errorf("%w: %d %s", shared.ErrSessionClosed, closeErr.Code, closeErr.Text)}
	default:
		evt = transport.Event{Kind: transport.EventError, Err: fmt.Errorf("%w: %v", shared.ErrTransportRuntime, err)}
	}
	s.log.Info("live session ended", "event", evt.String())
	s.emit(evt)
	s.Close()
}

func (s *Session) writePump() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.out:
			if err := s.conn.WriteAudio(frame); err != nil {
				s.log.Error("failed to write audio frame", "error", err)
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.handshake != nil {
			s.handshake.Stop()
		}
		s.mu.Unlock()

		close(s.done)
		err = s.conn.Close()
	})
	return err
}
