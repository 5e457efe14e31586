package gateway

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/eleven-am/voice-live/internal/audio"
	"github.com/eleven-am/voice-live/internal/transport"
)

var (
	ErrNoSampleRate = errors.New("client has not announced a capture sample rate")
	ErrStreamClosed = errors.New("output stream closed")
)

const captureBuffer = 32

// DecodeFrame reads little-endian float32 samples. A trailing partial
// sample is discarded.
func DecodeFrame(data []byte) []float32 {
	n := len(data) / 4
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples
}

// captureDevice turns the client's binary frames into capture blocks. Each
// Open starts a fresh stream; frames that arrive while no stream is open
// are dropped.
type captureDevice struct {
	logger *slog.Logger

	mu     sync.Mutex
	rate   int
	stream *captureStream
}

func newCaptureDevice(logger *slog.Logger) *captureDevice {
	return &captureDevice{logger: logger}
}

func (d *captureDevice) setRate(rate int) {
	d.mu.Lock()
	d.rate = rate
	d.mu.Unlock()
}

func (d *captureDevice) Open(_ context.Context) (transport.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rate <= 0 {
		return nil, ErrNoSampleRate
	}
	if d.stream != nil {
		d.stream.Close()
	}
	s := &captureStream{
		device: d,
		rate:   d.rate,
		blocks: make(chan []float32, captureBuffer),
	}
	d.stream = s
	return s, nil
}

func (d *captureDevice) push(data []byte) {
	samples := DecodeFrame(data)
	if len(samples) == 0 {
		return
	}

	d.mu.Lock()
	s := d.stream
	d.mu.Unlock()
	if s != nil {
		s.push(samples)
	}
}

func (d *captureDevice) release(s *captureStream) {
	d.mu.Lock()
	if d.stream == s {
		d.stream = nil
	}
	d.mu.Unlock()
}

type captureStream struct {
	device *captureDevice
	rate   int
	blocks chan []float32

	mu      sync.Mutex
	closed  bool
	dropped int
}

func (s *captureStream) SampleRate() int          { return s.rate }
func (s *captureStream) Blocks() <-chan []float32 { return s.blocks }

func (s *captureStream) push(samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.blocks <- samples:
	default:
		s.dropped++
		if s.dropped%100 == 1 {
			s.device.logger.Warn("capture backlog, dropping blocks", "dropped", s.dropped)
		}
	}
}

func (s *captureStream) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.blocks)
	}
	s.mu.Unlock()
	// Open closes the previous stream while holding the device lock.
	go s.device.release(s)
	return nil
}

// outputDevice renders by sending play and stop messages to the client. The
// client is expected to start each buffer at its start_at offset relative to
// the moment it first saw the stream.
type outputDevice struct {
	client sender
	logger *slog.Logger

	mu  sync.Mutex
	seq int
}

func newOutputDevice(client sender, logger *slog.Logger) *outputDevice {
	return &outputDevice{client: client, logger: logger}
}

func (d *outputDevice) Open(_ context.Context) (transport.OutputStream, error) {
	d.mu.Lock()
	d.seq++
	id := "out_" + strconv.Itoa(d.seq)
	d.mu.Unlock()

	return newOutputStream(id, d.client, time.Now), nil
}

type outputStream struct {
	id     string
	client sender
	start  time.Time
	now    func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func newOutputStream(id string, client sender, now func() time.Time) *outputStream {
	return &outputStream{
		id:     id,
		client: client,
		start:  now(),
		now:    now,
		timers: make(map[string]*time.Timer),
	}
}

func (s *outputStream) Now() time.Duration {
	return s.now().Sub(s.start)
}

// Schedule ships buf to the client and fires onEnded on the server clock
// once the buffer would have finished playing.
func (s *outputStream) Schedule(id string, buf audio.Buffer, at time.Duration, onEnded func()) (transport.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}

	startAt := at.Seconds()
	msg := &ServerMessage{
		Type:       MessageTypePlay,
		ID:         id,
		Stream:     s.id,
		StartAt:    &startAt,
		SampleRate: buf.SampleRate,
		Data:       audio.EncodeBase64(audio.EncodePCM16(audio.Quantize(buf.Samples))),
	}
	if !s.client.Send(msg) {
		return nil, fmt.Errorf("deliver %s: client unavailable", id)
	}

	delay := max(at+buf.Duration()-s.Now(), 0)
	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, pending := s.timers[id]
		delete(s.timers, id)
		s.mu.Unlock()
		if pending && onEnded != nil {
			onEnded()
		}
	})
	return &playHandle{stream: s, id: id}, nil
}

func (s *outputStream) stop(id string) {
	s.mu.Lock()
	t, ok := s.timers[id]
	delete(s.timers, id)
	closed := s.closed
	s.mu.Unlock()
	if !ok {
		return
	}
	t.Stop()
	if !closed {
		s.client.Send(&ServerMessage{Type: MessageTypeStop, ID: id, Stream: s.id})
	}
}

func (s *outputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := s.timers
	s.timers = make(map[string]*time.Timer)
	s.mu.Unlock()

	for id, t := range pending {
		t.Stop()
		s.client.Send(&ServerMessage{Type: MessageTypeStop, ID: id, Stream: s.id})
	}
	return nil
}

type playHandle struct {
	stream *outputStream
	id     string
}

func (h *playHandle) Stop() {
	h.stream.stop(h.id)
}
