package bootstrap

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.uber.org/fx"

	"github.com/eleven-am/voice-live/docs"
	"github.com/eleven-am/voice-live/internal/auth"
	"github.com/eleven-am/voice-live/internal/gateway"
	"github.com/eleven-am/voice-live/internal/health"
	"github.com/eleven-am/voice-live/internal/history"
	"github.com/eleven-am/voice-live/internal/metrics"
	"github.com/eleven-am/voice-live/internal/session"
)

type HandlerParams struct {
	fx.In

	LiveHandler    *gateway.Handler
	SessionHandler *session.Handler
	HistoryHandler *history.Handler
	HealthHandler  *health.Handler
	Metrics        *metrics.Metrics
	Admin          *auth.Middleware
	RateLimit      gateway.RateLimiterConfig
	RateLimitDone  RateLimiterDone
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	e.Use(params.HealthHandler.Middleware())
	params.HealthHandler.RegisterRoutes(e)

	api := e.Group("/api/v1")

	params.LiveHandler.RegisterRoutes(api, gateway.RateLimiter(params.RateLimit, params.RateLimitDone))

	sessions := api.Group("/sessions")
	if params.Admin != nil {
		sessions.Use(params.Admin.Authenticate)
	}
	params.SessionHandler.RegisterRoutes(sessions)
	if params.HistoryHandler != nil {
		params.HistoryHandler.RegisterRoutes(sessions)
	}

	e.GET("/metrics", echo.WrapHandler(params.Metrics.Handler()))
	e.GET("/swagger/*", echoSwagger.EchoWrapHandlerV3())
	e.GET("/asyncapi.yaml", func(c echo.Context) error {
		return c.Blob(http.StatusOK, "application/yaml", docs.AsyncAPISpec)
	})
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func ProvideLogger(cfg *Config) *slog.Logger {
	logger := slog.New(newLogHandler(os.Stdout, cfg.LogFormat, parseLogLevel(cfg.LogLevel)))
	slog.SetDefault(logger)
	return logger
}

// ProvideAdminMiddleware guards the session API when ADMIN_HMAC_KEY is set.
func ProvideAdminMiddleware(cfg *Config, logger *slog.Logger) *auth.Middleware {
	if len(cfg.AdminHMACKey) == 0 {
		logger.Warn("ADMIN_HMAC_KEY not set, session API is unauthenticated")
		return nil
	}
	return auth.NewMiddleware(auth.NewJWTValidator(cfg.AdminHMACKey), auth.ScopeSessionsRead)
}

func ProvideSessionHandler(store *session.Store, logger *slog.Logger) *session.Handler {
	return session.NewHandler(store, logger.With("handler", "session"))
}

func ProvideHistoryHandler(store *history.Store, logger *slog.Logger) *history.Handler {
	if store == nil {
		return nil
	}
	return history.NewHandler(store, logger.With("handler", "history"))
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideAdminMiddleware,
		ProvideSessionHandler,
		ProvideHistoryHandler,
	),
	fx.Invoke(RegisterRoutes),
)
