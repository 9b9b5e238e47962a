package ratelimit

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/seatbroker/internal/clock"
	"github.com/smallbiznis/seatbroker/internal/config"
	"github.com/smallbiznis/seatbroker/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(
		NewRedisClient,
		NewStore,
		NewLocker,
		NewTokenBucket,
		NewPublicLimiter,
		provideQueryLimiter,
	),
)

// NewRedisClient returns nil when no redis address is configured.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	if !cfg.Redis.Enabled() {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis ping failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

// NewStore selects the redis store when a client is available.
func NewStore(cfg config.Config, client *redis.Client, clk clock.Clock) Store {
	if client != nil {
		return NewRedisStore(client, keyPrefix(cfg)+"query:", clk)
	}
	return NewMemoryStore(clk)
}

func provideQueryLimiter(cfg config.Config, store Store, log *zap.Logger, m *metrics.Metrics) *QueryLimiter {
	return NewQueryLimiter(store, cfg.Warranty.QueryInterval, log, m)
}
