// Package ratelimit bounds inbound webhook calls per caller identity.
// The algorithm is a fixed one-minute window, which can admit up to 2x
// the nominal ceiling at window boundaries; that approximation is
// accepted for this surface.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/LoohanZinho/enemaccess/internal/clock"
)

// Limiter answers whether a caller may proceed within the current window.
type Limiter interface {
	Allow(ctx context.Context, identity string) (bool, error)
}

type windowKey struct {
	identity string
	bucket   int64
}

// FixedWindow counts calls per (identity, minute bucket) in process
// memory. Buckets older than the retention horizon are swept on access
// to bound memory.
type FixedWindow struct {
	mu        sync.Mutex
	counters  map[windowKey]int
	ceiling   int
	window    time.Duration
	retention time.Duration
	clock     clock.Clock
	lastSweep time.Time
}

func NewFixedWindow(ceiling int, retention time.Duration, clk clock.Clock) *FixedWindow {
	if ceiling <= 0 {
		ceiling = 60
	}
	if retention <= 0 {
		retention = 5 * time.Minute
	}

	return &FixedWindow{
		counters:  make(map[windowKey]int),
		ceiling:   ceiling,
		window:    time.Minute,
		retention: retention,
		clock:     clk,
	}
}

func (l *FixedWindow) Allow(ctx context.Context, identity string) (bool, error) {
	_ = ctx

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.sweep(now)

	key := windowKey{identity: identity, bucket: now.Unix() / int64(l.window/time.Second)}
	if l.counters[key] >= l.ceiling {
		return false, nil
	}
	l.counters[key]++
	return true, nil
}

// sweep discards buckets past the retention horizon. Runs at most once
// per window to keep Allow cheap.
func (l *FixedWindow) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now

	horizon := (now.Add(-l.retention).Unix()) / int64(l.window/time.Second)
	for key := range l.counters {
		if key.bucket < horizon {
			delete(l.counters, key)
		}
	}
}
