package shared

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriter_RunsInOrder(t *testing.T) {
	w := NewWriter(8, time.Second, quietLogger())

	var mu sync.Mutex
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		w.Submit("append", func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		})
	}
	w.Close()

	for i, v := range got {
		if v != i {
			t.Fatalf("writes ran out of order: %v", got)
		}
	}
	if len(got) != 5 {
		t.Errorf("expected 5 writes, got %d", len(got))
	}
}

func TestWriter_SubmitDoesNotBlockWhenFull(t *testing.T) {
	w := NewWriter(1, time.Second, quietLogger())
	release := make(chan struct{})
	started := make(chan struct{})

	w.Submit("slow", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	if !w.Submit("queued", func(context.Context) error { return nil }) {
		t.Fatal("second write should fit in the buffer")
	}

	done := make(chan bool)
	go func() { done <- w.Submit("overflow", func(context.Context) error { return nil }) }()
	select {
	case accepted := <-done:
		if accepted {
			t.Error("write beyond the buffer should be dropped")
		}
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}

	close(release)
	w.Close()
}

func TestWriter_TimeoutAndErrors(t *testing.T) {
	w := NewWriter(4, 10*time.Millisecond, quietLogger())
	var deadlineErr error
	w.Submit("deadline", func(ctx context.Context) error {
		<-ctx.Done()
		deadlineErr = ctx.Err()
		return deadlineErr
	})
	w.Submit("fails", func(context.Context) error { return errors.New("boom") })
	w.Flush()

	if !errors.Is(deadlineErr, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", deadlineErr)
	}
	w.Close()
	w.Close()

	if w.Submit("late", func(context.Context) error { return nil }) {
		t.Error("Submit after Close should be rejected")
	}
}
