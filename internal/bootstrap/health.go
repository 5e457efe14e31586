package bootstrap

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	grpchealth "google.golang.org/grpc/health"
	"gorm.io/gorm"

	"github.com/eleven-am/voice-live/internal/gateway"
	"github.com/eleven-am/voice-live/internal/health"
	"github.com/eleven-am/voice-live/internal/session"
	"github.com/eleven-am/voice-live/internal/transport"
)

const version = "1.0.0"

type HealthParams struct {
	fx.In

	DB         *gorm.DB
	Redis      *redis.Client
	Credential transport.CredentialChecker
	Live       *gateway.Handler
	Sessions   *session.Store
}

func ProvideHealthHandler(p HealthParams) *health.Handler {
	return health.NewHandler(health.Deps{
		DB:         p.DB,
		Redis:      p.Redis,
		Credential: p.Credential,
		Clients:    p.Live,
		Sessions:   p.Sessions,
		Version:    version,
	})
}

func ProvideGRPCHealthServer() *grpchealth.Server {
	return grpchealth.NewServer()
}

func StartHealthProber(lc fx.Lifecycle, h *health.Handler, server *grpchealth.Server, cfg *Config, log *slog.Logger) {
	prober := health.NewProber(h, server, cfg.HealthProbeInterval, log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				prober.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

var HealthModule = fx.Options(
	fx.Provide(
		ProvideHealthHandler,
		ProvideGRPCHealthServer,
	),
	fx.Invoke(StartHealthProber),
)
