package playback

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/eleven-am/voice-live/internal/audio"
	"github.com/eleven-am/voice-live/internal/transport"
)

// FileOutput renders everything that was actually played into a mono WAV
// file when the stream closes. Stopped sources are cut at the stop time.
type FileOutput struct {
	Path       string
	SampleRate int
}

func (d FileOutput) Open(_ context.Context) (transport.OutputStream, error) {
	rate := d.SampleRate
	if rate <= 0 {
		rate = audio.OutputSampleRate
	}
	return NewRecorder(rate, time.Now, func(samples []int16) error {
		data, err := audio.EncodeWAV(samples, rate)
		if err != nil {
			return err
		}
		return os.WriteFile(d.Path, data, 0o644)
	}), nil
}

type segment struct {
	buf   audio.Buffer
	at    time.Duration
	cut   time.Duration
	timer *time.Timer
}

// Recorder is an OutputStream on the wall clock that keeps a timeline of
// scheduled segments instead of driving a speaker.
type Recorder struct {
	rate  int
	now   func() time.Time
	start time.Time
	flush func([]int16) error

	mu       sync.Mutex
	segments []*segment
	closed   bool
}

func NewRecorder(sampleRate int, now func() time.Time, flush func([]int16) error) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		rate:  sampleRate,
		now:   now,
		start: now(),
		flush: flush,
	}
}

func (r *Recorder) Now() time.Duration {
	return r.now().Sub(r.start)
}

func (r *Recorder) Schedule(_ string, buf audio.Buffer, at time.Duration, onEnded func()) (transport.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("recorder closed")
	}

	seg := &segment{buf: buf, at: at, cut: at + buf.Duration()}
	delay := seg.cut - r.Now()
	if delay < 0 {
		delay = 0
	}
	seg.timer = time.AfterFunc(delay, func() {
		if onEnded != nil {
			onEnded()
		}
	})
	r.segments = append(r.segments, seg)
	return &segmentHandle{rec: r, seg: seg}, nil
}

type segmentHandle struct {
	rec *Recorder
	seg *segment
}

func (h *segmentHandle) Stop() {
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	h.seg.timer.Stop()
	if now := h.rec.Now(); now < h.seg.cut {
		h.seg.cut = max(now, h.seg.at)
	}
}

// Samples renders the timeline as int16 at the recorder rate.
func (r *Recorder) Samples() []int16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var end time.Duration
	for _, seg := range r.segments {
		end = max(end, seg.cut)
	}
	timeline := make([]float32, r.offset(end))

	for _, seg := range r.segments {
		samples := seg.buf.Samples
		if seg.buf.SampleRate != r.rate {
			samples = audio.Resample(samples, seg.buf.SampleRate, r.rate)
		}
		from := r.offset(seg.at)
		n := min(len(samples), r.offset(seg.cut)-from)
		for i := 0; i < n && from+i < len(timeline); i++ {
			timeline[from+i] = samples[i]
		}
	}
	return audio.Quantize(timeline)
}

func (r *Recorder) offset(d time.Duration) int {
	return int(int64(d) * int64(r.rate) / int64(time.Second))
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	now := r.Now()
	for _, seg := range r.segments {
		seg.timer.Stop()
		if now < seg.cut {
			seg.cut = max(now, seg.at)
		}
	}
	r.mu.Unlock()

	if r.flush == nil {
		return nil
	}
	return r.flush(r.Samples())
}
