package ratelimit

import (
	"context"
	"time"

	limiter "github.com/ulule/limiter/v3"
)

// ULULE adapts a ulule limiter.Store to the Allower interface. It counts fixed
// windows rather than sliding ones.
type ULULE struct {
	Store limiter.Store
}

// Allow increments the counter for key and reports whether it is within max.
func (u ULULE) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if u.Store == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	lim := limiter.New(u.Store, limiter.Rate{Period: window, Limit: int64(max)})
	res, err := lim.Get(ctx, key)
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !res.Reached, int(res.Remaining), time.Unix(res.Reset, 0), nil
}
