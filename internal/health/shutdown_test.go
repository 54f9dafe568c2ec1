package health_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-promo/internal/health"
)

func TestReadinessAfterShutdown(t *testing.T) {
	handler := health.Handler{Checker: stubChecker{}}
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	t.Cleanup(func() { health.SetReady(true) })

	health.SetReady(true)
	resp := httptest.NewRecorder()
	handler.Ready(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	health.SetReady(false)
	resp2 := httptest.NewRecorder()
	handler.Ready(resp2, req)
	require.Equal(t, http.StatusServiceUnavailable, resp2.Code)
}
