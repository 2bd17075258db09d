package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/LoohanZinho/enemaccess/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedWindowCeiling(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewFixedWindow(60, 5*time.Minute, fake)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		allowed, err := limiter.Allow(ctx, "203.0.113.10")
		require.NoError(t, err)
		require.True(t, allowed, "call %d should pass", i)
	}

	allowed, err := limiter.Allow(ctx, "203.0.113.10")
	require.NoError(t, err)
	assert.False(t, allowed)

	// A different caller has its own budget.
	allowed, err = limiter.Allow(ctx, "198.51.100.7")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestFixedWindowResets(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC))
	limiter := NewFixedWindow(1, 5*time.Minute, fake)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "caller")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "caller")
	require.NoError(t, err)
	require.False(t, allowed)

	fake.Advance(time.Minute)
	allowed, err = limiter.Allow(ctx, "caller")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestFixedWindowSweepBoundsMemory(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewFixedWindow(10, 2*time.Minute, fake)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.Allow(ctx, "caller")
		require.NoError(t, err)
		fake.Advance(time.Minute)
	}

	limiter.mu.Lock()
	buckets := len(limiter.counters)
	limiter.mu.Unlock()
	assert.LessOrEqual(t, buckets, 4)
}

func TestFixedWindowDefaults(t *testing.T) {
	fake := clock.NewFakeClock(time.Now())
	limiter := NewFixedWindow(0, 0, fake)
	assert.Equal(t, 60, limiter.ceiling)
	assert.Equal(t, 5*time.Minute, limiter.retention)
}
