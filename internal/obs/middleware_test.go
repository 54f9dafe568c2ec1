package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-promo/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("promo", []float64{1, 10}, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/health/ready"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/health/ready", "204")))
	require.NotZero(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Equal(t, float64(0), testutil.ToFloat64(metrics.InFlight))
}

func TestHTTPMetricsReuseRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("promo", nil, registry)
	second := obs.NewHTTPMetrics("promo", nil, registry)
	require.Same(t, first.ReqTotal, second.ReqTotal)
}

func TestDiscountMetricsObserve(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewDiscountMetrics("promo", registry)
	metrics.ObserveEvaluation("calculate", "ok", 1.5)
	metrics.ObserveApplied("FLAT_ALL_PRODUCTS", "PER_PRODUCT")
	metrics.ObserveRedemption("recorded")

	require.Equal(t, float64(1), testutil.ToFloat64(metrics.Evaluations.WithLabelValues("calculate", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.Applied.WithLabelValues("FLAT_ALL_PRODUCTS", "PER_PRODUCT")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.Redemptions.WithLabelValues("recorded")))

	var nilMetrics *obs.DiscountMetrics
	require.NotPanics(t, func() { nilMetrics.ObserveRedemption("recorded") })
}

func TestRequestLoggerWritesAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.NewLoggerTo(&buf, "json", "info")

	r := chi.NewRouter()
	r.Use(obs.RoutePatternMiddleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		obs.LoggerFromContext(r.Context(), logger).Info().Msg("inside")
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/items/42", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var access map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &access))
	require.Equal(t, "http_request", access["message"])
	require.Equal(t, "/items/42", access["path"])
	require.EqualValues(t, 200, access["status"])
}
