package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock is still held after MaxWait elapsed.
var ErrNotAcquired = errors.New("lock: not acquired")

var releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`)

// Locker provides a Redis-backed mutual exclusion lock keyed by string.
type Locker struct {
	R            redis.UniversalClient
	Prefix       string
	RetryBackoff time.Duration
	// MaxWait bounds how long WithLock polls for the key. Zero waits until ctx is done.
	MaxWait time.Duration
}

// WithLock executes fn while holding a lock for key. The lock is released once fn
// returns, only if it is still owned by this call.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	var deadline time.Time
	if l.MaxWait > 0 {
		deadline = time.Now().Add(l.MaxWait)
	}
	fullKey := l.Prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.R.SetNX(ctx, fullKey, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			defer l.release(fullKey, token)
			return fn(ctx)
		}
		if !deadline.IsZero() && time.Now().Add(retry).After(deadline) {
			return ErrNotAcquired
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = releaseScript.Run(ctx, l.R, []string{key}, token).Err()
}
