package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyDiscountCandidates holds the active discount rules snapshot.
const KeyDiscountCandidates = "discount:candidates"

// JSON wraps Redis helpers for JSON payloads. A nil receiver or client turns every
// call into a miss.
type JSON struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewJSON constructs a cache helper storing values for ttl.
func NewJSON(client redis.UniversalClient, ttl time.Duration) *JSON {
	return &JSON{client: client, ttl: ttl}
}

// Get unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *JSON) Get(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		// a payload written by an older release is treated as a miss
		_ = c.client.Del(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

// Set serialises v as JSON and stores it with the configured TTL.
func (c *JSON) Set(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" || c.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Delete removes the given keys.
func (c *JSON) Delete(ctx context.Context, keys ...string) error {
	if c == nil || c.client == nil || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
