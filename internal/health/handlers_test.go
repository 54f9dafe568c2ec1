package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-promo/internal/health"
)

type stubChecker struct {
	dbErr    error
	redisErr error
}

func (s stubChecker) PingDB(context.Context, time.Duration) error    { return s.dbErr }
func (s stubChecker) PingRedis(context.Context, time.Duration) error { return s.redisErr }

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReady(t *testing.T) {
	cases := []struct {
		name    string
		checker health.Checker
		code    int
	}{
		{name: "all up", checker: stubChecker{}, code: http.StatusOK},
		{name: "db down", checker: stubChecker{dbErr: errors.New("db down")}, code: http.StatusServiceUnavailable},
		{name: "redis down", checker: stubChecker{redisErr: errors.New("redis down")}, code: http.StatusServiceUnavailable},
		{name: "no checker", code: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			health.Handler{Checker: tc.checker}.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			require.Equal(t, tc.code, rr.Code)
		})
	}
}

func TestReadyReportsRedisFromDeps(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rr := httptest.NewRecorder()
	health.Handler{Checker: health.Deps{Redis: client}}.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var status map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	require.Equal(t, "ok", status["redis"])
	require.Equal(t, "db not configured", status["db"])
}
