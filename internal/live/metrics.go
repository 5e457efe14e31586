package live

import (
	"time"

	"github.com/eleven-am/voice-live/internal/shared"
)

// Metrics receives engine counters. A nil Metrics disables instrumentation.
type Metrics interface {
	StateChanged(from, to State)
	FrameSent(mode shared.Mode)
	FrameDropped(mode shared.Mode)
	AudioScheduled(d time.Duration)
	DecodeFailed()
	Interrupted(flushed int)
	TurnFinalized(speaker shared.Speaker)
}

type nopMetrics struct{}

func (nopMetrics) StateChanged(State, State)    {}
func (nopMetrics) FrameSent(shared.Mode)        {}
func (nopMetrics) FrameDropped(shared.Mode)     {}
func (nopMetrics) AudioScheduled(time.Duration) {}
func (nopMetrics) DecodeFailed()                {}
func (nopMetrics) Interrupted(int)              {}
func (nopMetrics) TurnFinalized(shared.Speaker) {}
