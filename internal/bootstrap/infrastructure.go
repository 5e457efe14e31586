package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"golang.org/x/oauth2/google"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/eleven-am/voice-live/internal/gemini"
	"github.com/eleven-am/voice-live/internal/metrics"
	"github.com/eleven-am/voice-live/internal/transport"
)

// generativeLanguageScope is requested for Application Default Credentials.
const generativeLanguageScope = "https://www.googleapis.com/auth/generative-language"

func ProvideRedisClient(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// ProvideDatabase returns a nil handle when no DSN is configured; history
// is then disabled.
func ProvideDatabase(cfg *Config, log *slog.Logger) (*gorm.DB, error) {
	if cfg.DatabaseDSN == "" {
		log.Warn("DATABASE_DSN not set, turn history disabled")
		return nil, nil
	}
	return gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func ProvideMetrics() *metrics.Metrics {
	return metrics.New()
}

func geminiConfig(cfg *Config) (gemini.Config, error) {
	gc := gemini.Config{
		Endpoint:      cfg.GeminiEndpoint,
		Model:         cfg.GeminiModel,
		Voice:         cfg.LiveVoice,
		APIKey:        cfg.GeminiAPIKey,
		PendingFrames: cfg.LivePendingFrames,
	}
	if cfg.GeminiUseADC && gc.APIKey == "" {
		ts, err := google.DefaultTokenSource(context.Background(), generativeLanguageScope)
		if err != nil {
			return gc, fmt.Errorf("application default credentials: %w", err)
		}
		gc.TokenSource = ts
	}
	return gc, nil
}

// ProvideDialer selects the Live transport. A missing credential is not
// fatal here; connects fail with credential_missing and readiness reports it.
func ProvideDialer(cfg *Config, log *slog.Logger) (transport.Dialer, transport.CredentialChecker, error) {
	gc, err := geminiConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.LiveTransport {
	case TransportSDK:
		d := gemini.NewSDKDialer(gc, log)
		return d, d, nil
	case TransportWebsocket, "":
		d := gemini.NewDialer(gc, log)
		return d, d, nil
	default:
		return nil, nil, fmt.Errorf("unknown LIVE_TRANSPORT %q", cfg.LiveTransport)
	}
}

var InfrastructureModule = fx.Options(
	fx.Provide(
		ProvideRedisClient,
		ProvideDatabase,
		ProvideMetrics,
		ProvideDialer,
	),
)
