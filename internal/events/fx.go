package events

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/tallyline/tallyline/internal/config"
	"go.uber.org/fx"
)

func ProvideStream(cfg config.Config, client *redis.Client) Stream {
	if cfg.Redis.Enabled && client != nil {
		return NewRedisStream(client)
	}
	return NewMemoryStream()
}

func ProvideRedisClient(cfg config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

var Module = fx.Module("events",
	fx.Provide(ProvideRedisClient),
	fx.Provide(ProvideStream),
	fx.Provide(NewOutbox),
	fx.Provide(NewEmitter),
)
