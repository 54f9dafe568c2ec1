package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Allower decides whether one more event for key fits in the window.
type Allower interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error)
}

// slidingWindow trims expired events, then records the new one only if it fits.
// Rejected calls are not counted. Returns {allowed, count, oldest score}.
var slidingWindow = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < max then
	redis.call('ZADD', KEYS[1], now, ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', KEYS[1], window)
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local first = now
if oldest[2] then
	first = tonumber(oldest[2])
end
return {allowed, count, first}
`)

// Limiter is a sliding window limiter over a Redis sorted set of millisecond timestamps.
type Limiter struct {
	Client redis.UniversalClient
	Prefix string
	Now    func() time.Time
}

func (l Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Allow records one event for key when fewer than limit events happened within window.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, limit int) (bool, int, time.Time, error) {
	now := l.now()
	if l.Client == nil || limit <= 0 || window <= 0 {
		return true, limit, now.Add(window), nil
	}
	res, err := slidingWindow.Run(ctx, l.Client, []string{l.Prefix + key},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString()).Int64Slice()
	if err != nil {
		return false, 0, now.Add(window), err
	}
	allowed, count, oldest := res[0] == 1, int(res[1]), res[2]
	return allowed, max(0, limit-count), time.UnixMilli(oldest).Add(window), nil
}
