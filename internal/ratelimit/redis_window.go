package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LoohanZinho/enemaccess/internal/clock"
	redis "github.com/redis/go-redis/v9"
)

// RedisFixedWindow shares fixed-window counters across instances.
// Same window semantics as FixedWindow; retention is enforced by key
// TTL instead of a sweep.
type RedisFixedWindow struct {
	client    *redis.Client
	ceiling   int
	window    time.Duration
	retention time.Duration
	clock     clock.Clock
}

func NewRedisFixedWindow(client *redis.Client, ceiling int, retention time.Duration, clk clock.Clock) *RedisFixedWindow {
	if client == nil {
		return nil
	}
	if ceiling <= 0 {
		ceiling = 60
	}
	if retention <= 0 {
		retention = 5 * time.Minute
	}

	return &RedisFixedWindow{
		client:    client,
		ceiling:   ceiling,
		window:    time.Minute,
		retention: retention,
		clock:     clk,
	}
}

func (l *RedisFixedWindow) Allow(ctx context.Context, identity string) (bool, error) {
	if l == nil || l.client == nil {
		return false, errors.New("rate limiter not configured")
	}
	if identity == "" {
		return false, errors.New("rate limiter identity is empty")
	}

	bucket := l.clock.Now().Unix() / int64(l.window/time.Second)
	key := fmt.Sprintf("ratelimit:webhook:%s:%d", identity, bucket)

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return count.Val() <= int64(l.ceiling), nil
}
