package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	DBMaxConns         int
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	JWTClockSkew       time.Duration
	CORSAllowedOrigins []string

	DiscountCacheTTL time.Duration
	RedeemLockTTL    time.Duration
	LockRetryBackoff time.Duration
	IdempotencyTTL   time.Duration
	BodyLimitBytes   int64

	RateLimitBackend string
	RateLimitWindow  time.Duration
	RateLimitMax     int

	WorkerConcurrency int
	RedeemQueue       string
	RedeemMaxRetry    int

	SecurityHeaders bool
	EnableHSTS      bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		DBMaxConns:         parseInt(k.String("DB_MAX_CONNS"), 10),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          valueOrDefault(k.String("JWT_ISSUER"), "backend-promo"),
		JWTAudience:        valueOrDefault(k.String("JWT_AUDIENCE"), "backend-promo"),
		JWTClockSkew:       parseDuration(k.String("JWT_CLOCK_SKEW"), "30s"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		DiscountCacheTTL:   parseDuration(k.String("DISCOUNT_CACHE_TTL"), "1m"),
		RedeemLockTTL:      parseDuration(k.String("REDEEM_LOCK_TTL"), "10s"),
		LockRetryBackoff:   parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		BodyLimitBytes:     int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		RateLimitBackend:   strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_BACKEND"), "sliding")),
		RateLimitWindow:    parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:       parseInt(k.String("RATE_LIMIT_MAX"), 120),
		WorkerConcurrency:  parseInt(k.String("WORKER_CONCURRENCY"), 5),
		RedeemQueue:        valueOrDefault(k.String("REDEEM_QUEUE"), "redemptions"),
		RedeemMaxRetry:     parseInt(k.String("REDEEM_MAX_RETRY"), 10),
		SecurityHeaders:    parseBoolDefault(k.String("SECURITY_HEADERS"), true),
		EnableHSTS:         parseBoolDefault(k.String("SECURITY_HSTS"), false),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	switch cfg.RateLimitBackend {
	case "sliding", "ulule":
	default:
		return nil, fmt.Errorf("unsupported RATE_LIMIT_BACKEND %q", cfg.RateLimitBackend)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
