package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/eleven-am/voice-live/internal/audio"
	"github.com/eleven-am/voice-live/internal/shared"
	"github.com/eleven-am/voice-live/internal/transport"
)

const defaultBlockSize = 4096

// fileCapture plays a WAV file into the session as if it were a microphone,
// one block per block duration, followed by tail of silence so the remote
// side can detect the end of speech.
type fileCapture struct {
	path      string
	blockSize int
	tail      time.Duration
	pace      bool
}

func (f fileCapture) Open(ctx context.Context) (transport.CaptureStream, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrDeviceDenied, err)
	}
	pcm, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrDeviceDenied, err)
	}

	size := f.blockSize
	if size <= 0 {
		size = defaultBlockSize
	}
	samples := audio.Int16ToFloat32(pcm)
	if f.tail > 0 {
		samples = append(samples, make([]float32, int(f.tail*time.Duration(rate)/time.Second))...)
	}

	s := &fileStream{
		rate:   rate,
		blocks: make(chan []float32),
		done:   make(chan struct{}),
	}
	go s.run(ctx, samples, size, f.pace)
	return s, nil
}

type fileStream struct {
	rate   int
	blocks chan []float32
	done   chan struct{}
	once   sync.Once
}

func (s *fileStream) SampleRate() int          { return s.rate }
func (s *fileStream) Blocks() <-chan []float32 { return s.blocks }

func (s *fileStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fileStream) run(ctx context.Context, samples []float32, size int, pace bool) {
	defer close(s.blocks)

	interval := time.Duration(float64(size) / float64(s.rate) * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for off := 0; off < len(samples); off += size {
		end := off + size
		if end > len(samples) {
			end = len(samples)
		}
		block := make([]float32, size)
		copy(block, samples[off:end])

		select {
		case s.blocks <- block:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
		if !pace {
			continue
		}
		select {
		case <-ticker.C:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
	<-s.done
}
