package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/eleven-am/voice-live/internal/audio"
	"github.com/eleven-am/voice-live/internal/gemini"
	"github.com/eleven-am/voice-live/internal/live"
	"github.com/eleven-am/voice-live/internal/playback"
	"github.com/eleven-am/voice-live/internal/shared"
	"github.com/eleven-am/voice-live/internal/transport"
	"github.com/eleven-am/voice-live/internal/turns"
)

type options struct {
	in        string
	out       string
	mode      string
	transport string
	profiles  string
	tail      time.Duration
	wait      time.Duration
	verbose   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.in, "in", "", "WAV file to stream as the microphone (required)")
	flag.StringVar(&opts.out, "out", "reply.wav", "WAV file the model's audio is rendered into")
	flag.StringVar(&opts.mode, "mode", "conversation", "conversation or dictation")
	flag.StringVar(&opts.transport, "transport", "ws", "ws or sdk")
	flag.StringVar(&opts.profiles, "profiles", "", "optional instruction profiles YAML file")
	flag.DurationVar(&opts.tail, "tail", 2*time.Second, "silence appended after the input")
	flag.DurationVar(&opts.wait, "wait", 15*time.Second, "how long to wait for replies once the input has been sent")
	flag.BoolVar(&opts.verbose, "v", false, "debug logging")
	flag.Parse()

	if opts.in == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "livefile: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	mode, err := shared.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	profiles := live.DefaultProfiles()
	if opts.profiles != "" {
		if profiles, err = live.LoadProfiles(opts.profiles); err != nil {
			return err
		}
	}

	duration, err := inputDuration(opts.in)
	if err != nil {
		return err
	}

	dialer, err := newDialer(opts.transport, logger)
	if err != nil {
		return err
	}

	ctrl := live.NewController(live.Config{
		Dialer:   dialer,
		Capture:  fileCapture{path: opts.in, tail: opts.tail, pace: true},
		Output:   playback.FileOutput{Path: opts.out},
		Profiles: profiles,
	}, logger)

	printer := newTurnPrinter(stdout)
	ctrl.Subscribe(printer)

	if err := ctrl.Connect(ctx, mode); err != nil {
		return err
	}
	defer ctrl.Disconnect()

	select {
	case <-ctx.Done():
	case <-time.After(duration + opts.tail + opts.wait):
	case <-printer.closed:
		if err := ctrl.Err(); err != nil && !errors.Is(err, shared.ErrSessionClosed) {
			return err
		}
	}
	return nil
}

func inputDuration(path string) (time.Duration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pcm, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return 0, err
	}
	return audio.Buffer{Samples: audio.Int16ToFloat32(pcm), SampleRate: rate}.Duration(), nil
}

func newDialer(name string, logger *slog.Logger) (transport.Dialer, error) {
	cfg := gemini.Config{
		APIKey:   os.Getenv("GEMINI_API_KEY"),
		Model:    os.Getenv("GEMINI_MODEL"),
		Endpoint: os.Getenv("GEMINI_ENDPOINT"),
		Voice:    os.Getenv("LIVE_VOICE"),
	}
	switch name {
	case "ws", "":
		return gemini.NewDialer(cfg, logger), nil
	case "sdk":
		return gemini.NewSDKDialer(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}

// turnPrinter writes each finalized turn as it happens and signals when
// the session leaves the connected state.
type turnPrinter struct {
	mu     sync.Mutex
	w      io.Writer
	seen   bool
	closed chan struct{}
	once   sync.Once
}

func newTurnPrinter(w io.Writer) *turnPrinter {
	return &turnPrinter{w: w, closed: make(chan struct{})}
}

func (p *turnPrinter) OnFinal(msg turns.Message, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[%s] %s: %s\n", msg.Timestamp.Format("15:04:05"), msg.Speaker, msg.Text)
}

func (p *turnPrinter) OnState(state live.State, _ error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch state {
	case live.StateConnected:
		p.seen = true
	case live.StateDisconnected, live.StateError:
		if p.seen {
			p.once.Do(func() { close(p.closed) })
		}
	}
}

func (p *turnPrinter) OnPartial(turns.Message)      {}
func (p *turnPrinter) OnVolume(float64)             {}
func (p *turnPrinter) OnExtraction(live.Extraction) {}
