package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eleven-am/voice-live/internal/live"
	"github.com/eleven-am/voice-live/internal/shared"
)

// Metrics holds the engine's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Connections      *prometheus.GaugeVec
	StateTransitions *prometheus.CounterVec
	FramesSent       *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	AudioScheduled   prometheus.Histogram
	DecodeErrors     prometheus.Counter
	Interruptions    prometheus.Counter
	FlushedSources   prometheus.Counter
	TurnsFinalized   *prometheus.CounterVec
	ActiveClients    prometheus.Gauge

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voicelive_connections",
			Help: "Controllers currently in each connection state",
		}, []string{"state"}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelive_state_transitions_total",
			Help: "Connection state transitions",
		}, []string{"from", "to"}),
		FramesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelive_frames_sent_total",
			Help: "Captured audio frames handed to the transport",
		}, []string{"mode"}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelive_frames_dropped_total",
			Help: "Captured audio frames dropped because the outbound buffer was full",
		}, []string{"mode"}),
		AudioScheduled: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicelive_audio_scheduled_seconds",
			Help:    "Duration of inbound audio buffers scheduled for playback",
			Buckets: prometheus.ExponentialBuckets(0.02, 2, 8),
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "voicelive_decode_errors_total",
			Help: "Inbound audio payloads skipped because they could not be decoded",
		}),
		Interruptions: f.NewCounter(prometheus.CounterOpts{
			Name: "voicelive_interruptions_total",
			Help: "Barge-in events received from the service",
		}),
		FlushedSources: f.NewCounter(prometheus.CounterOpts{
			Name: "voicelive_flushed_sources_total",
			Help: "Scheduled playback sources stopped by an interruption",
		}),
		TurnsFinalized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelive_turns_finalized_total",
			Help: "Finalized conversational turns",
		}, []string{"speaker"}),
		ActiveClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "voicelive_active_clients",
			Help: "Browser clients attached to the live endpoint",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelive_http_requests_total",
			Help: "HTTP requests served",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicelive_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) StateChanged(from, to live.State) {
	m.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	if from != live.StateDisconnected {
		m.Connections.WithLabelValues(from.String()).Dec()
	}
	if to != live.StateDisconnected {
		m.Connections.WithLabelValues(to.String()).Inc()
	}
}

func (m *Metrics) FrameSent(mode shared.Mode) {
	m.FramesSent.WithLabelValues(mode.String()).Inc()
}

func (m *Metrics) FrameDropped(mode shared.Mode) {
	m.FramesDropped.WithLabelValues(mode.String()).Inc()
}

func (m *Metrics) AudioScheduled(d time.Duration) {
	m.AudioScheduled.Observe(d.Seconds())
}

func (m *Metrics) DecodeFailed() {
	m.DecodeErrors.Inc()
}

func (m *Metrics) Interrupted(flushed int) {
	m.Interruptions.Inc()
	m.FlushedSources.Add(float64(flushed))
}

func (m *Metrics) TurnFinalized(speaker shared.Speaker) {
	m.TurnsFinalized.WithLabelValues(speaker.String()).Inc()
}

// Middleware records request counts and latency by route template.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.HTTPRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
