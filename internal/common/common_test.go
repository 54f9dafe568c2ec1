package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body struct {
		Error ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Error
}

func TestWriteErrorMapsAppError(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, Conflict("voucher code already exists", errors.New("dup")))
	require.Equal(t, http.StatusConflict, rr.Code)
	body := decodeError(t, rr)
	require.Equal(t, "CONFLICT", body.Code)
	require.Equal(t, "voucher code already exists", body.Message)
}

func TestWriteErrorHidesUnknownErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, errors.New("connection refused"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "internal error", decodeError(t, rr).Message)
}

func TestValidateStructReportsJSONNames(t *testing.T) {
	type payload struct {
		Name  string `json:"name" validate:"required"`
		Value int    `json:"value" validate:"gte=0"`
	}
	err := ValidateStruct(NewValidator(), payload{Value: -1})
	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
	details, ok := appErr.Details.([]FieldError)
	require.True(t, ok)
	require.Len(t, details, 2)
	require.Equal(t, "payload.name", details[0].Field)
}

func TestParsePaginationCapsLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?page=3&limit=500", nil)
	p := ParsePagination(req, 20, 100)
	require.Equal(t, 3, p.Page)
	require.Equal(t, 100, p.PerPage)
	require.Equal(t, 200, p.Offset())
}

func TestIdempotencyRejectsReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	calls := 0
	handler := Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/redeem", strings.NewReader("{}"))
		req.Header.Set(IdempotencyHeader, "abc")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}
	require.Equal(t, http.StatusCreated, send().Code)
	replay := send()
	require.Equal(t, http.StatusConflict, replay.Code)
	require.Equal(t, "IDEMPOTENT_REPLAY", decodeError(t, replay).Code)
	require.Equal(t, 1, calls)
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	status := http.StatusBadGateway
	handler := Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/redeem", nil)
		req.Header.Set(IdempotencyHeader, "retry-me")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}
	require.Equal(t, http.StatusBadGateway, send())
	status = http.StatusOK
	require.Equal(t, http.StatusOK, send())
}

func TestIdempotencyRequiredHeader(t *testing.T) {
	handler := Idem{Required: true}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/redeem", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	require.Equal(t, "203.0.113.7", ClientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "unknown, 203.0.113.9")
	require.Equal(t, "203.0.113.9", ClientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", "2001:db8::1")
	require.Equal(t, "2001:db8::1", ClientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.2:4411"
	require.Equal(t, "198.51.100.2", ClientIP(req))
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	decode := func(body string) error {
		return DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), &dst)
	}

	require.NoError(t, decode(`{"name":"spring"}`))
	require.Equal(t, "spring", dst.Name)

	for body, msg := range map[string]string{
		``:                          "request body is empty",
		`{"name":"a","extra":1}`:    "invalid payload",
		`{"name":"a"} {"name":"b"}`: "invalid payload",
	} {
		err := decode(body)
		var appErr *AppError
		require.ErrorAs(t, err, &appErr, body)
		require.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
		require.Equal(t, msg, appErr.Message)
	}
}
