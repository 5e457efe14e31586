package bootstrap

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/eleven-am/voice-live/internal/history"
	"github.com/eleven-am/voice-live/internal/session"
)

func ProvideSessionStore(redisClient *redis.Client) *session.Store {
	return session.NewStore(redisClient)
}

func ProvideHistoryStore(db *gorm.DB) *history.Store {
	if db == nil {
		return nil
	}
	return history.NewStore(db)
}

func RunMigrations(historyStore *history.Store) error {
	if historyStore == nil {
		return nil
	}
	return historyStore.Migrate()
}

var StoresModule = fx.Options(
	fx.Provide(
		ProvideSessionStore,
		ProvideHistoryStore,
	),
	fx.Invoke(RunMigrations),
)
