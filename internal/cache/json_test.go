package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newCache(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *JSON) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewJSON(client, ttl)
}

func TestJSONRoundTripAndExpiry(t *testing.T) {
	mr, c := newCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", payload{Name: "a", Count: 2}))
	var got payload
	hit, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, payload{Name: "a", Count: 2}, got)

	mr.FastForward(2 * time.Minute)
	hit, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestJSONDelete(t *testing.T) {
	mr, c := newCache(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, KeyDiscountCandidates, []payload{{Name: "x"}}))
	require.NoError(t, c.Delete(ctx, KeyDiscountCandidates))
	require.False(t, mr.Exists(KeyDiscountCandidates))
}

func TestJSONCorruptPayloadIsMiss(t *testing.T) {
	mr, c := newCache(t, time.Minute)
	require.NoError(t, mr.Set("k", "{not json"))
	var got payload
	hit, err := c.Get(context.Background(), "k", &got)
	require.NoError(t, err)
	require.False(t, hit)
	require.False(t, mr.Exists("k"))
}

func TestJSONNilSafe(t *testing.T) {
	var c *JSON
	hit, err := c.Get(context.Background(), "k", &payload{})
	require.NoError(t, err)
	require.False(t, hit)
	require.NoError(t, c.Set(context.Background(), "k", payload{}))
	require.NoError(t, c.Delete(context.Background(), "k"))
}
