package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-promo/internal/common"
)

var errNoToken = errors.New("auth: token missing")

// Middleware wires authentication context into HTTP handlers.
type Middleware struct {
	Service *Service
}

// Authenticate attaches the caller identity when a valid token is present and lets
// anonymous requests through.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.authenticateRequest(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth enforces that a valid token is present before executing the next handler.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.authenticateRequest(r)
		if err != nil {
			var appErr *common.AppError
			if !errors.Is(err, errNoToken) && errors.As(err, &appErr) {
				common.WriteError(w, appErr)
				return
			}
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects authenticated callers lacking role. It must run after RequireAuth.
func (m Middleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !common.HasRole(r.Context(), role) {
				common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) authenticateRequest(r *http.Request) (context.Context, error) {
	if m.Service == nil {
		return r.Context(), errors.New("auth: service not configured")
	}
	token := bearerToken(r)
	if token == "" {
		return r.Context(), errNoToken
	}
	claims, err := m.Service.ParseAccessToken(token)
	if err != nil {
		return r.Context(), err
	}
	ctx := common.WithUserID(r.Context(), claims.Subject)
	return common.WithRoles(ctx, claims.Roles), nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
