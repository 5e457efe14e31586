package health

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/eleven-am/voice-live/internal/transport"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentStatus struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type RuntimeStats struct {
	Goroutines  int    `json:"goroutines"`
	HeapAllocMB uint64 `json:"heap_alloc_mb"`
	SysMB       uint64 `json:"sys_mb"`
	GCCycles    uint32 `json:"gc_cycles"`
}

type LiveStats struct {
	Clients        int   `json:"clients"`
	ActiveSessions int64 `json:"active_sessions"`
}

type RequestStats struct {
	Served   uint64 `json:"served"`
	InFlight int64  `json:"in_flight"`
}

type Stats struct {
	Live     LiveStats    `json:"live"`
	Requests RequestStats `json:"requests"`
	Runtime  RuntimeStats `json:"runtime"`
}

type HealthResponse struct {
	Status        Status                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Stats         Stats                      `json:"stats"`
	Components    map[string]ComponentStatus `json:"components"`
}

// ClientCounter reports the number of attached live clients.
type ClientCounter interface {
	Active() int
}

// SessionCounter reports the number of registered live sessions.
type SessionCounter interface {
	ActiveCount(ctx context.Context) (int64, error)
}

type Deps struct {
	DB         *gorm.DB
	Redis      *redis.Client
	Credential transport.CredentialChecker
	Clients    ClientCounter
	Sessions   SessionCounter
	Version    string
}

type Handler struct {
	deps      Deps
	startTime time.Time

	served   atomic.Uint64
	inFlight atomic.Int64
}

func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps, startTime: time.Now()}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Liveness)
	e.GET("/health/ready", h.Readiness)
}

// Middleware counts served and in-flight requests.
func (h *Handler) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h.served.Add(1)
			h.inFlight.Add(1)
			defer h.inFlight.Add(-1)
			return next(c)
		}
	}
}

// Liveness godoc
// @Summary Liveness probe
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Readiness godoc
// @Summary Readiness probe with component checks and live stats
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health/ready [get]
func (h *Handler) Readiness(c echo.Context) error {
	report := h.Report(c.Request().Context())
	if report.Status == StatusUnhealthy {
		return c.JSON(http.StatusServiceUnavailable, report)
	}
	return c.JSON(http.StatusOK, report)
}

// Report runs every component check concurrently.
func (h *Handler) Report(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	components := h.checkAll(ctx)

	stats := Stats{
		Requests: RequestStats{
			Served:   h.served.Load(),
			InFlight: h.inFlight.Load(),
		},
		Runtime: runtimeStats(),
	}
	if h.deps.Clients != nil {
		stats.Live.Clients = h.deps.Clients.Active()
	}
	if h.deps.Sessions != nil {
		if n, err := h.deps.Sessions.ActiveCount(ctx); err == nil {
			stats.Live.ActiveSessions = n
		}
	}

	return HealthResponse{
		Status:        overallStatus(components),
		Timestamp:     time.Now().UTC(),
		Version:       h.deps.Version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Stats:         stats,
		Components:    components,
	}
}

func (h *Handler) checkAll(ctx context.Context) map[string]ComponentStatus {
	probes := map[string]func(context.Context) ComponentStatus{
		"database": h.checkDatabase,
		"redis":    h.checkRedis,
		"gemini":   h.checkCredential,
	}

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		components = make(map[string]ComponentStatus, len(probes))
	)
	for name, probe := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cs := probe(ctx)
			mu.Lock()
			components[name] = cs
			mu.Unlock()
		}()
	}
	wg.Wait()
	return components
}

func runtimeStats() RuntimeStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	const mb = 1 << 20
	return RuntimeStats{
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: ms.HeapAlloc / mb,
		SysMB:       ms.Sys / mb,
		GCCycles:    ms.NumGC,
	}
}

// timed runs one probe and records how long it took.
func timed(probe func() (Status, error)) ComponentStatus {
	start := time.Now()
	status, err := probe()
	cs := ComponentStatus{Status: status, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		cs.Status = StatusUnhealthy
		cs.Error = err.Error()
	}
	return cs
}

func (h *Handler) checkDatabase(ctx context.Context) ComponentStatus {
	return timed(func() (Status, error) {
		if h.deps.DB == nil {
			return StatusUnhealthy, errors.New("database not configured")
		}
		sqlDB, err := h.deps.DB.DB()
		if err != nil {
			return StatusUnhealthy, errors.New("failed to get underlying db")
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return StatusUnhealthy, errors.New("ping failed")
		}
		return poolStatus(sqlDB.Stats()), nil
	})
}

// poolStatus is degraded once every allowed connection is in use.
func poolStatus(stats sql.DBStats) Status {
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		return StatusDegraded
	}
	return StatusHealthy
}

func (h *Handler) checkRedis(ctx context.Context) ComponentStatus {
	return timed(func() (Status, error) {
		if h.deps.Redis == nil {
			return StatusUnhealthy, errors.New("redis not configured")
		}
		if err := h.deps.Redis.Ping(ctx).Err(); err != nil {
			return StatusUnhealthy, errors.New("ping failed")
		}
		return StatusHealthy, nil
	})
}

func (h *Handler) checkCredential(_ context.Context) ComponentStatus {
	return timed(func() (Status, error) {
		if h.deps.Credential == nil {
			return StatusHealthy, nil
		}
		return StatusHealthy, h.deps.Credential.CheckCredential()
	})
}

// overallStatus is unhealthy only when the remote credential is unusable;
// storage outages degrade the service, since live sessions run without them.
func overallStatus(components map[string]ComponentStatus) Status {
	overall := StatusHealthy
	for name, c := range components {
		switch {
		case name == "gemini" && c.Status == StatusUnhealthy:
			return StatusUnhealthy
		case c.Status != StatusHealthy:
			overall = StatusDegraded
		}
	}
	return overall
}
