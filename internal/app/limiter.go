package app

import (
	"fmt"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/backend-promo/internal/config"
	"github.com/noah-isme/backend-promo/internal/ratelimit"
)

const rateLimitPrefix = "ratelimit"

// NewLimiterStore wires a ulule limiter store backed by Redis.
func NewLimiterStore(rdb *redis.Client) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: rateLimitPrefix})
}

// NewRateLimiter returns the Allower selected by cfg.RateLimitBackend.
func NewRateLimiter(cfg *config.Config, rdb *redis.Client) (ratelimit.Allower, error) {
	switch cfg.RateLimitBackend {
	case "", "sliding":
		return ratelimit.Limiter{Client: rdb, Prefix: rateLimitPrefix}, nil
	case "ulule":
		store, err := NewLimiterStore(rdb)
		if err != nil {
			return nil, fmt.Errorf("ulule store: %w", err)
		}
		return ratelimit.ULULE{Store: store}, nil
	default:
		return nil, fmt.Errorf("unsupported rate limit backend %q", cfg.RateLimitBackend)
	}
}
