package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eleven-am/voice-live/internal/history"
	"github.com/eleven-am/voice-live/internal/live"
	"github.com/eleven-am/voice-live/internal/session"
	"github.com/eleven-am/voice-live/internal/shared"
	"github.com/eleven-am/voice-live/internal/transport"
)

type Config struct {
	Dialer   transport.Dialer
	Profiles live.Profiles
	Metrics  live.Metrics

	// Optional collaborators.
	Clients  prometheus.Gauge
	Sessions *session.Store
	History  *history.Store
}

// Handler serves the live socket. Each socket gets its own controller, with
// the browser acting as capture and output device.
type Handler struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*clientConn]struct{}
}

func NewHandler(cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Profiles == nil {
		cfg.Profiles = live.DefaultProfiles()
	}
	return &Handler{
		cfg:     cfg,
		logger:  logger.With("component", "live_gateway"),
		clients: make(map[*clientConn]struct{}),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group, middleware ...echo.MiddlewareFunc) {
	g.GET("/live", h.HandleLive, middleware...)
}

// Active returns the number of connected sockets.
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll closes every open socket.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	conns := make([]*clientConn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.writeClose()
		c.Close()
	}
}

// HandleLive godoc
// @Summary Open a live duplex audio session
// @Description Upgrades to a websocket. See /asyncapi.yaml for the message protocol.
// @Tags live
// @Param mode query string false "conversation or dictation"
// @Success 101
// @Failure 400 {object} shared.APIError
// @Router /api/v1/live [get]
func (h *Handler) HandleLive(c echo.Context) error {
	mode, err := shared.ParseMode(c.QueryParam("mode"))
	if err != nil {
		return shared.BadRequest("invalid_mode", err.Error())
	}
	if _, err := h.cfg.Profiles.Lookup(mode); err != nil {
		return shared.BadRequest("invalid_mode", err.Error())
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return nil
	}

	addr := c.RealIP()
	logger := h.logger.With("remote_addr", addr)
	conn := newClientConn(ws, logger)

	h.track(conn, true)
	defer h.track(conn, false)

	logger.Info("client connected", "mode", mode)
	h.serve(c.Request().Context(), conn, mode, addr, logger)
	logger.Info("client disconnected")
	return nil
}

func (h *Handler) track(conn *clientConn, add bool) {
	h.mu.Lock()
	if add {
		h.clients[conn] = struct{}{}
	} else {
		delete(h.clients, conn)
	}
	h.mu.Unlock()

	if h.cfg.Clients == nil {
		return
	}
	if add {
		h.cfg.Clients.Inc()
	} else {
		h.cfg.Clients.Dec()
	}
}

func (h *Handler) serve(parent context.Context, conn *clientConn, mode shared.Mode, addr string, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	capture := newCaptureDevice(logger)
	ctrl := live.NewController(live.Config{
		Dialer:   h.cfg.Dialer,
		Capture:  capture,
		Output:   newOutputDevice(conn, logger),
		Profiles: h.cfg.Profiles,
		Metrics:  h.cfg.Metrics,
	}, logger)
	ctrl.Subscribe(&renderer{client: conn})

	// Writers are closed after the final Disconnect so its end-of-session
	// write is not lost.
	var writers []interface{ Close() }
	if h.cfg.Sessions != nil {
		tracker := session.NewTracker(h.cfg.Sessions, ctrl.Mode, addr, logger)
		ctrl.Subscribe(tracker)
		writers = append(writers, tracker)
		if h.cfg.History != nil {
			recorder := history.NewRecorder(h.cfg.History, tracker.SessionID, logger)
			ctrl.Subscribe(recorder)
			writers = append(writers, recorder)
		}
	}

	control := make(chan ClientMessage, 8)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		conn.writePump(ctx)
	}()
	go func() {
		defer wg.Done()
		h.control(ctx, ctrl, capture, conn, mode, control)
	}()

	conn.readPump(ctx, func(msg ClientMessage) {
		// Disconnect must be able to abort a connect in progress, so it
		// bypasses the control queue.
		if msg.Type == MessageTypeDisconnect {
			ctrl.Disconnect()
			return
		}
		select {
		case control <- msg:
		default:
			logger.Warn("control queue full, dropping message", "type", msg.Type)
		}
	}, capture.push)

	cancel()
	close(control)
	wg.Wait()
	ctrl.Disconnect()
	for _, w := range writers {
		w.Close()
	}
	conn.Close()
}

// control applies hello messages in order. A hello connects in the
// requested mode; a hello with a different mode while connected reconnects.
func (h *Handler) control(ctx context.Context, ctrl *live.Controller, capture *captureDevice, conn *clientConn, mode shared.Mode, control <-chan ClientMessage) {
	for msg := range control {
		if ctx.Err() != nil {
			return
		}
		if msg.Type != MessageTypeHello {
			conn.Send(errorMessage("unknown_message", errors.New("unsupported message type "+string(msg.Type))))
			continue
		}

		if msg.SampleRate > 0 {
			capture.setRate(msg.SampleRate)
		}
		next := mode
		if msg.Mode != "" {
			m, err := shared.ParseMode(msg.Mode)
			if err != nil {
				conn.Send(errorMessage("invalid_mode", err))
				continue
			}
			next = m
		}

		if ctrl.State() == live.StateConnected {
			if ctrl.Mode() == next {
				continue
			}
			ctrl.Disconnect()
		}
		mode = next

		if err := ctrl.Connect(ctx, next); err != nil {
			if ctx.Err() != nil {
				return
			}
			conn.Send(errorMessage(shared.ErrorCode(err), err))
		}
	}
}
