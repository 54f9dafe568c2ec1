package obs

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/backend-promo/internal/common"
)

// NewLogger configures a zerolog logger writing to stdout using the provided format and level.
func NewLogger(format, level string) zerolog.Logger {
	return NewLoggerTo(os.Stdout, format, level)
}

// NewLoggerTo is NewLogger with an explicit destination.
func NewLoggerTo(w io.Writer, format, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := w
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "text":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// LoggerFromContext returns the request scoped logger, falling back to fallback.
func LoggerFromContext(ctx context.Context, fallback zerolog.Logger) *zerolog.Logger {
	if ctx != nil {
		if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
			return l
		}
	}
	return &fallback
}

// RequestLogger records structured HTTP request logs enriched with tracing metadata.
type RequestLogger struct {
	Logger zerolog.Logger
}

// Middleware attaches a request scoped logger to the context and writes one access log per request.
func (l RequestLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := middleware.GetReqID(r.Context())
		scoped := l.Logger.With().Str("request_id", reqID).Logger()
		ctx := scoped.WithContext(r.Context())

		recorder := NewStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r.WithContext(ctx))
		duration := time.Since(start)

		route := RoutePatternFromContext(r.Context())
		if route == "" {
			route = r.URL.Path
		}
		evt := scoped.Info()
		if recorder.Status() >= http.StatusInternalServerError {
			evt = scoped.Error()
		}
		evt = evt.
			Str("method", r.Method).
			Str("route", route).
			Str("path", r.URL.Path).
			Int("status", recorder.Status()).
			Int64("duration_ms", duration.Milliseconds()).
			Int64("bytes", recorder.BytesWritten())
		if spanCtx := trace.SpanContextFromContext(r.Context()); spanCtx.IsValid() {
			evt = evt.Str("trace_id", spanCtx.TraceID().String()).Str("span_id", spanCtx.SpanID().String())
		}
		if userID, ok := common.UserID(r.Context()); ok && strings.TrimSpace(userID) != "" {
			evt = evt.Str("user_id", userID)
		}
		if ip := common.ClientIP(r); ip != "" {
			evt = evt.Str("remote_addr", ip)
		}
		if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
			evt = evt.Str("user_agent", ua)
		}
		evt.Msg("http_request")
	})
}
