package shared

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultWriterBuffer  = 64
	DefaultWriterTimeout = 3 * time.Second
)

type writeJob struct {
	name string
	fn   func(ctx context.Context) error
}

// Writer runs storage writes on a single background goroutine in the order
// they were submitted. Submit never blocks the caller; a write that does not
// fit in the buffer is dropped and logged.
type Writer struct {
	jobs    chan writeJob
	timeout time.Duration
	log     *slog.Logger

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
	done    chan struct{}
}

func NewWriter(buffer int, timeout time.Duration, logger *slog.Logger) *Writer {
	if buffer <= 0 {
		buffer = DefaultWriterBuffer
	}
	if timeout <= 0 {
		timeout = DefaultWriterTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		jobs:    make(chan writeJob, buffer),
		timeout: timeout,
		log:     logger,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

// Submit queues fn and reports whether it was accepted.
func (w *Writer) Submit(name string, fn func(ctx context.Context) error) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.log.Warn("writer closed, dropping write", "write", name)
		return false
	}

	w.pending.Add(1)
	select {
	case w.jobs <- writeJob{name: name, fn: fn}:
		return true
	default:
		w.pending.Done()
		w.log.Warn("write queue full, dropping write", "write", name)
		return false
	}
}

// Flush waits until every accepted write has run.
func (w *Writer) Flush() {
	w.pending.Wait()
}

// Close stops accepting writes and waits for the queued ones to finish.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()
	<-w.done
}

func (w *Writer) loop() {
	defer close(w.done)
	for job := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		if err := job.fn(ctx); err != nil {
			w.log.Warn("write failed", "write", job.name, "error", err)
		}
		cancel()
		w.pending.Done()
	}
}
