package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/backend-promo/internal/common"
)

// Config describes how to derive a rate limit key and thresholds.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// ByCaller keys authenticated requests by user and anonymous ones by client address.
func ByCaller(r *http.Request) string {
	if userID, ok := common.UserID(r.Context()); ok && userID != "" {
		return "user:" + userID
	}
	return "ip:" + common.ClientIP(r)
}

// Handler enforces rate limits before delegating to the next handler.
type Handler struct {
	Limiter Allower
	Config  Config
	// OnError observes limiter failures. Requests are let through when the backend errors.
	OnError func(error)
}

// Middleware rejects requests over the limit with 429 and the X-RateLimit-* headers.
func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Limiter == nil {
		return next
	}
	keyFn := h.Config.Key
	if keyFn == nil {
		keyFn = ByCaller
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), keyFn(r), h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}
		writeHeaders(w.Header(), max(h.Config.Max, 0), remaining, resetAt)
		if allowed {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Retry-After", strconv.Itoa(max(int(time.Until(resetAt).Seconds()), 0)))
		common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil)
	})
}

func writeHeaders(h http.Header, limit, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}
