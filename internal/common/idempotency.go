package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// IdempotencyHeader is the request header carrying the client supplied key.
const IdempotencyHeader = "Idempotency-Key"

// Idem provides an Idempotency-Key middleware backed by Redis.
type Idem struct {
	R   redis.UniversalClient
	TTL time.Duration
	// Required rejects requests that omit the header.
	Required bool
}

// idemKey scopes the key to the caller so two users cannot collide.
func idemKey(r *http.Request, key string) string {
	owner, _ := UserID(r.Context())
	sum := sha256.Sum256([]byte(owner + "|" + r.Method + "|" + r.URL.Path + "|" + key))
	return "idem:" + hex.EncodeToString(sum[:])
}

type idemRecorder struct {
	http.ResponseWriter
	status int
}

func (r *idemRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *idemRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Middleware enforces idempotency semantics for write endpoints. A key whose request
// ended in a server error is released so the client may retry.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(IdempotencyHeader)
		if header == "" {
			if i.Required {
				JSONError(w, http.StatusBadRequest, "IDEMPOTENCY_KEY_REQUIRED", "Idempotency-Key header is required", nil)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		if i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := idemKey(r, header)
		ok, err := i.R.SetNX(ctx, key, "locked", i.TTL).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", nil)
			return
		}
		if !ok {
			JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
			return
		}
		rec := &idemRecorder{ResponseWriter: w}
		defer func() {
			if rec.status >= http.StatusInternalServerError {
				_ = i.R.Del(context.Background(), key).Err()
			}
		}()
		next.ServeHTTP(rec, r)
	})
}
