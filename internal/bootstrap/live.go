package bootstrap

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/eleven-am/voice-live/internal/gateway"
	"github.com/eleven-am/voice-live/internal/history"
	"github.com/eleven-am/voice-live/internal/live"
	"github.com/eleven-am/voice-live/internal/metrics"
	"github.com/eleven-am/voice-live/internal/session"
	"github.com/eleven-am/voice-live/internal/transport"
)

func ProvideProfiles(cfg *Config, log *slog.Logger) (live.Profiles, error) {
	if cfg.ProfilesFile == "" {
		return live.DefaultProfiles(), nil
	}
	profiles, err := live.LoadProfiles(cfg.ProfilesFile)
	if err != nil {
		return nil, err
	}
	log.Info("instruction profiles loaded", "path", cfg.ProfilesFile)
	return profiles, nil
}

type LiveParams struct {
	fx.In

	Dialer   transport.Dialer
	Profiles live.Profiles
	Metrics  *metrics.Metrics
	Sessions *session.Store
	History  *history.Store
	Logger   *slog.Logger
}

func ProvideLiveHandler(p LiveParams) *gateway.Handler {
	return gateway.NewHandler(gateway.Config{
		Dialer:   p.Dialer,
		Profiles: p.Profiles,
		Metrics:  p.Metrics,
		Clients:  p.Metrics.ActiveClients,
		Sessions: p.Sessions,
		History:  p.History,
	}, p.Logger)
}

// RateLimiterDone is closed on shutdown to stop the limiter's cleanup loop.
type RateLimiterDone chan struct{}

func ProvideRateLimiterDone(lc fx.Lifecycle) RateLimiterDone {
	done := make(RateLimiterDone)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			close(done)
			return nil
		},
	})
	return done
}

func ProvideRateLimiterConfig(cfg *Config) gateway.RateLimiterConfig {
	rl := gateway.DefaultRateLimiterConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.Burst = cfg.RateLimitBurst
	}
	return rl
}

// CloseLiveClients sends a close frame to every socket before the HTTP
// server drains.
func CloseLiveClients(lc fx.Lifecycle, h *gateway.Handler, log *slog.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if n := h.Active(); n > 0 {
				log.Info("closing live clients", "count", n)
			}
			h.CloseAll()
			return nil
		},
	})
}

var LiveModule = fx.Options(
	fx.Provide(
		ProvideProfiles,
		ProvideLiveHandler,
		ProvideRateLimiterDone,
		ProvideRateLimiterConfig,
	),
	fx.Invoke(CloseLiveClients),
)
