package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/eleven-am/voice-live/internal/audio"
	"github.com/eleven-am/voice-live/internal/extract"
	"github.com/eleven-am/voice-live/internal/playback"
	"github.com/eleven-am/voice-live/internal/shared"
	"github.com/eleven-am/voice-live/internal/transport"
	"github.com/eleven-am/voice-live/internal/turns"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

func (s State) String() string {
	return string(s)
}

// Extraction is the advisory context produced after a turn is finalized.
type Extraction struct {
	Result  extract.Result              `json:"result"`
	Context extract.ConversationContext `json:"context"`
	User    extract.UserInfo            `json:"user"`
}

// Listener receives controller notifications. State changes are delivered
// in order. Listeners may read controller state but must not call Connect
// or Disconnect from a callback.
type Listener interface {
	turns.Observer
	OnState(state State, err error)
	OnVolume(level float64)
	OnExtraction(e Extraction)
}

type Config struct {
	Dialer   transport.Dialer
	Capture  transport.CaptureDevice
	Output   transport.OutputDevice
	Profiles Profiles
	Metrics  Metrics
}

// connection holds everything acquired for one connect attempt.
type connection struct {
	mode      shared.Mode
	ctx       context.Context
	cancel    context.CancelFunc
	capture   transport.CaptureStream
	scheduler *playback.Scheduler
	session   transport.Session

	settleOnce sync.Once
	settled    chan error
}

func (c *connection) settle(err error) {
	c.settleOnce.Do(func() {
		c.settled <- err
	})
}

func (c *connection) release() {
	c.cancel()
	if c.capture != nil {
		_ = c.capture.Close()
	}
	if c.scheduler != nil {
		_ = c.scheduler.Close()
	}
	if c.session != nil {
		_ = c.session.Close()
	}
}

// Controller drives one duplex session at a time through
// disconnected, connecting, connected and error.
type Controller struct {
	dialer   transport.Dialer
	capture  transport.CaptureDevice
	output   transport.OutputDevice
	profiles Profiles
	metrics  Metrics
	logger   *slog.Logger

	assembler *turns.Assembler
	running   *extract.Context

	// transitionMu serializes state changes with their notifications.
	transitionMu sync.Mutex

	mu        sync.Mutex
	state     State
	lastErr   error
	mode      shared.Mode
	conn      *connection
	volume    float64
	listeners []Listener
}

func NewController(cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Profiles == nil {
		cfg.Profiles = DefaultProfiles()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	return &Controller{
		dialer:    cfg.Dialer,
		capture:   cfg.Capture,
		output:    cfg.Output,
		profiles:  cfg.Profiles,
		metrics:   cfg.Metrics,
		logger:    logger.With("component", "live"),
		assembler: turns.NewAssembler(),
		running:   extract.NewContext(),
		state:     StateDisconnected,
	}
}

func (c *Controller) Subscribe(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
	c.assembler.Subscribe(l)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that moved the controller into its current state.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) Mode() shared.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

func (c *Controller) Transcript() []turns.Message {
	return c.assembler.Transcript()
}

func (c *Controller) Pending(speaker shared.Speaker) string {
	return c.assembler.Pending(speaker)
}

func (c *Controller) Context() *extract.Context {
	return c.running
}

// Playing reports how many scheduled buffers are still live.
func (c *Controller) Playing() int {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || conn.scheduler == nil {
		return 0
	}
	return conn.scheduler.Live()
}

func (c *Controller) snapshotListeners() []Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Listener(nil), c.listeners...)
}

// transition applies fn under the state lock and notifies listeners when
// the state changed.
func (c *Controller) transition(fn func() bool) {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	c.mu.Lock()
	from := c.state
	changed := fn()
	to, err := c.state, c.lastErr
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	if !changed || from == to {
		return
	}
	c.metrics.StateChanged(from, to)
	c.logger.Info("connection state changed", "from", from, "to", to, "error", err)
	for _, l := range listeners {
		l.OnState(to, err)
	}
}

// Connect acquires the capture device, opens the output path and a session
// for mode, and returns once the session reports it is open. Any failure
// leaves the controller in the error state with nothing acquired.
func (c *Controller) Connect(ctx context.Context, mode shared.Mode) error {
	profile, err := c.profiles.Lookup(mode)
	if err != nil {
		return err
	}

	var guardErr error
	var conn *connection
	c.transition(func() bool {
		switch c.state {
		case StateConnecting:
			guardErr = fmt.Errorf("%w: connect already in progress", shared.ErrAlreadyConnected)
			return false
		case StateConnected:
			guardErr = shared.ErrAlreadyConnected
			return false
		}

		if checker, ok := c.dialer.(transport.CredentialChecker); ok {
			if err := checker.CheckCredential(); err != nil {
				guardErr = err
				c.state, c.lastErr = StateError, err
				return true
			}
		}

		connCtx, cancel := context.WithCancel(context.Background())
		conn = &connection{
			mode:    mode,
			ctx:     connCtx,
			cancel:  cancel,
			settled: make(chan error, 1),
		}
		c.conn = conn
		c.mode = mode
		c.state, c.lastErr = StateConnecting, nil
		return true
	})
	if guardErr != nil {
		return guardErr
	}

	c.assembler.ClearPending()
	log := c.logger.With("mode", mode.String())

	capture, err := c.capture.Open(ctx)
	if err != nil {
		if !errors.Is(err, shared.ErrDeviceDenied) {
			err = fmt.Errorf("%w: %v", shared.ErrDeviceDenied, err)
		}
		return c.abort(conn, err)
	}
	if !c.attach(conn, func() { conn.capture = capture }) {
		_ = capture.Close()
		return c.aborted()
	}

	if mode.PlaysAudio() {
		out, err := c.output.Open(ctx)
		if err != nil {
			return c.abort(conn, fmt.Errorf("open output: %w", err))
		}
		scheduler := playback.NewScheduler(out, c.logger)
		if !c.attach(conn, func() { conn.scheduler = scheduler }) {
			_ = scheduler.Close()
			return c.aborted()
		}
	}

	session, err := c.dialer.Open(ctx, profile)
	if err != nil {
		if !errors.Is(err, shared.ErrCredentialMissing) && !errors.Is(err, shared.ErrTransportOpen) {
			err = fmt.Errorf("%w: %v", shared.ErrTransportOpen, err)
		}
		return c.abort(conn, err)
	}
	if !c.attach(conn, func() { conn.session = session }) {
		_ = session.Close()
		return c.aborted()
	}

	go c.run(conn)
	go c.pump(conn)
	log.Debug("session opened, waiting for handshake")

	select {
	case err := <-conn.settled:
		return err
	case <-ctx.Done():
		return c.abort(conn, fmt.Errorf("%w: %v", shared.ErrTransportOpen, ctx.Err()))
	}
}

// attach stores a resource on conn if it is still the active connection.
func (c *Controller) attach(conn *connection, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return false
	}
	fn()
	return true
}

func (c *Controller) aborted() error {
	return fmt.Errorf("%w: disconnected while connecting", shared.ErrNotConnected)
}

// abort releases conn and enters the error state if conn is still active.
func (c *Controller) abort(conn *connection, err error) error {
	current := false
	c.transition(func() bool {
		if c.conn != conn {
			return false
		}
		current = true
		c.conn = nil
		c.volume = 0
		c.state, c.lastErr = StateError, err
		return true
	})
	conn.release()
	conn.settle(err)
	if !current {
		return c.aborted()
	}
	c.logger.Warn("connect failed", "error", err)
	return err
}

// Disconnect releases everything and returns to disconnected. It is safe to
// call in any state and more than once.
func (c *Controller) Disconnect() {
	var conn *connection
	c.transition(func() bool {
		conn = c.conn
		c.conn = nil
		c.volume = 0
		c.state, c.lastErr = StateDisconnected, nil
		c.running.Reset()
		return true
	})

	if conn != nil {
		conn.release()
		conn.settle(c.aborted())
	}
	c.assembler.ClearPending()
}

// terminate ends conn after the session reported closed or error. Partial
// messages are kept so the last transcript stays visible.
func (c *Controller) terminate(conn *connection, state State, err error) {
	current := false
	c.transition(func() bool {
		if c.conn != conn {
			return false
		}
		current = true
		c.conn = nil
		c.volume = 0
		c.state, c.lastErr = state, err
		return true
	})
	if !current {
		return
	}
	conn.release()
	if err == nil {
		err = shared.ErrSessionClosed
	}
	conn.settle(err)
}

func (c *Controller) isCurrent(conn *connection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn
}

func (c *Controller) run(conn *connection) {
	events := conn.session.Events()
	for {
		select {
		case <-conn.ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				c.terminate(conn, StateDisconnected, shared.ErrSessionClosed)
				return
			}
			if !c.isCurrent(conn) {
				return
			}
			if !c.handle(conn, evt) {
				return
			}
		}
	}
}

// handle applies one inbound event. It returns false once the connection
// has ended.
func (c *Controller) handle(conn *connection, evt transport.Event) bool {
	switch evt.Kind {
	case transport.EventOpened:
		c.transition(func() bool {
			if c.conn != conn || c.state != StateConnecting {
				return false
			}
			c.state = StateConnected
			return true
		})
		conn.settle(nil)

	case transport.EventInputTranscript:
		c.assembler.Fragment(shared.SpeakerUser, evt.Text)

	case transport.EventOutputTranscript:
		c.assembler.Fragment(shared.SpeakerModel, evt.Text)

	case transport.EventTurnComplete:
		c.finalized(conn, c.assembler.Complete())

	case transport.EventAudio:
		c.play(conn, evt.Audio)

	case transport.EventInterrupted:
		final := c.assembler.Interrupt()
		flushed := 0
		if conn.scheduler != nil {
			flushed = conn.scheduler.FlushAll()
		}
		c.metrics.Interrupted(flushed)
		c.logger.Debug("model interrupted", "flushed", flushed)
		c.finalized(conn, final)

	case transport.EventClosed:
		c.terminate(conn, StateDisconnected, evt.Err)
		return false

	case transport.EventError:
		c.terminate(conn, StateError, evt.Err)
		return false
	}
	return true
}

func (c *Controller) play(conn *connection, blob audio.Blob) {
	if !conn.mode.PlaysAudio() || conn.scheduler == nil {
		return
	}
	buf, err := blob.Decode()
	if err != nil {
		c.metrics.DecodeFailed()
		c.logger.Warn("skipping undecodable audio payload", "error", err)
		return
	}
	src, err := conn.scheduler.Enqueue(buf)
	if err != nil {
		c.logger.Error("failed to schedule audio", "error", err)
		return
	}
	if src != nil {
		c.metrics.AudioScheduled(src.Duration)
	}
}

func (c *Controller) finalized(conn *connection, final turns.Finalized) {
	if len(final) == 0 {
		return
	}
	for _, m := range final {
		c.metrics.TurnFinalized(m.Speaker)
	}

	text := final.Text()
	if strings.TrimSpace(text) == "" {
		return
	}
	result := extract.Extract(text)

	// Disconnect clears c.conn under c.mu before resetting the running
	// context, so an update for a connection that already ended is skipped.
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.running.Update(result)
	e := Extraction{
		Result:  result,
		Context: c.running.Snapshot(),
		User:    c.running.UserInfo(),
	}
	c.mu.Unlock()

	for _, l := range c.snapshotListeners() {
		l.OnExtraction(e)
	}
}

// pump moves captured blocks through the codec into the session.
func (c *Controller) pump(conn *connection) {
	rate := conn.capture.SampleRate()
	blocks := conn.capture.Blocks()
	for {
		select {
		case <-conn.ctx.Done():
			return
		case block, ok := <-blocks:
			if !ok {
				c.logger.Debug("capture stream ended")
				return
			}
			if !c.isCurrent(conn) {
				return
			}

			level := audio.Volume(block)
			c.mu.Lock()
			c.volume = level
			listeners := append([]Listener(nil), c.listeners...)
			c.mu.Unlock()
			for _, l := range listeners {
				l.OnVolume(level)
			}

			frame := audio.EncodeBlob(audio.Downsample(block, rate, audio.InputSampleRate))
			if err := conn.session.Send(frame); err != nil {
				if errors.Is(err, shared.ErrFrameDropped) {
					c.metrics.FrameDropped(conn.mode)
				}
				c.logger.Debug("dropping captured frame", "error", err)
				continue
			}
			c.metrics.FrameSent(conn.mode)
		}
	}
}
