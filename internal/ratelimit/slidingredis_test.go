package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

func TestLimiterAllowSlidingWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	lim := Limiter{Client: client, Prefix: "test:", Now: func() time.Time { return now }}

	ctx := context.Background()
	window := 2 * time.Second
	max := 2

	for i := 0; i < max; i++ {
		allowed, remaining, _, err := lim.Allow(ctx, "key", window, max)
		require.NoError(t, err)
		require.True(t, allowed, "request %d", i)
		require.Equal(t, max-(i+1), remaining)
	}

	allowed, remaining, _, err := lim.Allow(ctx, "key", window, max)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Zero(t, remaining)

	now = now.Add(window + time.Millisecond)
	allowed, _, _, err = lim.Allow(ctx, "key", window, max)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestLimiterWithoutClientAllows(t *testing.T) {
	allowed, remaining, _, err := Limiter{}.Allow(context.Background(), "key", time.Second, 3)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 3, remaining)
}

func TestULULEAllow(t *testing.T) {
	store := memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: "test", CleanUpInterval: time.Minute})
	lim := ULULE{Store: store}
	ctx := context.Background()

	allowed, remaining, _, err := lim.Allow(ctx, "key", time.Minute, 1)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Zero(t, remaining)

	allowed, _, _, err = lim.Allow(ctx, "key", time.Minute, 1)
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, _, _, err = lim.Allow(ctx, "other", time.Minute, 1)
	require.NoError(t, err)
	require.True(t, allowed)
}
