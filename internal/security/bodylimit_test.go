package security

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBodyLimitAllowsWithinLimit(t *testing.T) {
	var captured string
	handler := BodyLimit{Max: 10}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		captured = string(data)
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payload", strings.NewReader("hello")))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "hello", captured)
}

func TestBodyLimitRejectsOversized(t *testing.T) {
	handler := BodyLimit{Max: 5}.Middleware(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payload", strings.NewReader("excessive")))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	require.Contains(t, rr.Body.String(), "PAYLOAD_TOO_LARGE")
}

func TestBodyLimitRejectsUnknownLengthOversized(t *testing.T) {
	handler := BodyLimit{Max: 5}.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/payload", io.NopCloser(strings.NewReader("excessive")))
	req.ContentLength = -1
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}
