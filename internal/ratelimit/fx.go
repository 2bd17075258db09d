package ratelimit

import (
	"github.com/LoohanZinho/enemaccess/internal/clock"
	"github.com/LoohanZinho/enemaccess/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewFromConfig),
)

// NewFromConfig picks the redis-backed limiter when REDIS_ADDR is set,
// otherwise the in-process one.
func NewFromConfig(cfg config.Config, clk clock.Clock, log *zap.Logger) Limiter {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		log.Info("webhook rate limiter using redis", zap.String("addr", cfg.RedisAddr))
		return NewRedisFixedWindow(client, cfg.RateLimit.PerMinute, cfg.RateLimit.Retention, clk)
	}
	return NewFixedWindow(cfg.RateLimit.PerMinute, cfg.RateLimit.Retention, clk)
}
