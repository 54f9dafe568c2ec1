package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-promo/internal/config"
	"github.com/noah-isme/backend-promo/internal/ratelimit"
)

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@db:5432/promo?sslmode=disable": "pgx5://u:p@db:5432/promo?sslmode=disable",
		"postgresql://db/promo":                        "pgx5://db/promo",
		"pgx5://db/promo":                              "pgx5://db/promo",
	}
	for in, want := range cases {
		require.Equal(t, want, MigrateURL(in))
	}
}

func TestNewRateLimiterBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sliding, err := NewRateLimiter(&config.Config{RateLimitBackend: "sliding"}, rdb)
	require.NoError(t, err)
	require.IsType(t, ratelimit.Limiter{}, sliding)

	ulule, err := NewRateLimiter(&config.Config{RateLimitBackend: "ulule"}, rdb)
	require.NoError(t, err)
	require.IsType(t, ratelimit.ULULE{}, ulule)

	ok, _, _, err := sliding.Allow(context.Background(), "ip:10.0.0.1", time.Minute, 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, _, _, err = sliding.Allow(context.Background(), "ip:10.0.0.1", time.Minute, 1)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = NewRateLimiter(&config.Config{RateLimitBackend: "leaky"}, rdb)
	require.Error(t, err)
}

func TestNewDiscountServiceInlineWithoutTasks(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{DiscountCacheTTL: time.Minute, RedeemLockTTL: time.Second, RedeemQueue: "redemptions", RedeemMaxRetry: 3}
	svc := NewDiscountService(cfg, &Dependencies{Redis: rdb}, nil, zerolog.Nop())
	require.Nil(t, svc.Queue)
	require.NotNil(t, svc.Cache)
	require.Equal(t, "redemptions", svc.QueueName)
}
