package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-promo/internal/app"
	"github.com/noah-isme/backend-promo/internal/auth"
	"github.com/noah-isme/backend-promo/internal/common"
	"github.com/noah-isme/backend-promo/internal/config"
	"github.com/noah-isme/backend-promo/internal/discount"
	"github.com/noah-isme/backend-promo/internal/health"
	"github.com/noah-isme/backend-promo/internal/obs"
	"github.com/noah-isme/backend-promo/internal/ratelimit"
	"github.com/noah-isme/backend-promo/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "promo")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	var domainMetrics *obs.DiscountMetrics
	if metricsEnabled {
		domainMetrics = obs.MustRegisterDomainMetrics(metricsNamespace, prometheus.DefaultRegisterer)
	}

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "promo-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	deps, err := app.Open(ctx, cfg, logger, app.Options{
		ApplicationName: "promo-api",
		RedisMetrics:    metricsEnabled,
		Tasks:           envBool("REDEEM_ASYNC", true),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("open dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	if envBool("MIGRATE_ON_START", false) {
		migrateOnStart(cfg, logger)
	}

	authService, err := app.NewAuth(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	authMiddleware := auth.Middleware{Service: authService}

	allower, err := app.NewRateLimiter(cfg, deps.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}
	rateLimit := ratelimit.Handler{
		Limiter: allower,
		Config:  ratelimit.Config{Window: cfg.RateLimitWindow, Max: cfg.RateLimitMax},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}
	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}

	discountService := app.NewDiscountService(cfg, deps, domainMetrics, logger)
	discountHandler := discount.NewHandler(discount.HandlerConfig{Service: discountService})

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, prometheus.DefaultRegisterer)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: cfg.SecurityHeaders, EnableHSTS: cfg.EnableHSTS}.Middleware)
	r.Use(security.CORS(cfg.CORSAllowedOrigins))
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      health.Deps{DB: deps.DB, Redis: deps.Redis},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(authMiddleware.Authenticate)
		discountHandler.Register(v, discount.RouteMiddleware{
			Public: []func(http.Handler) http.Handler{rateLimit.Middleware},
			Redeem: []func(http.Handler) http.Handler{authMiddleware.RequireAuth, rateLimit.Middleware, idem.Middleware},
			Admin:  []func(http.Handler) http.Handler{authMiddleware.RequireAuth, authMiddleware.RequireRole(auth.RoleAdmin)},
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	<-ctx.Done()
	health.SetReady(false)
	logger.Info().Msg("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	logger.Info().Msg("server stopped")
}

func migrateOnStart(cfg *config.Config, logger zerolog.Logger) {
	m, err := app.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open migrator")
	}
	defer func() {
		if err := app.CloseMigrator(m); err != nil {
			logger.Error().Err(err).Msg("close migrator")
		}
	}()
	if err := app.RunMigrations(m); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}
	logger.Info().Msg("migrations applied")
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
