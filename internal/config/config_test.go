package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":       "postgres://localhost:5432/promo",
		"REDIS_URL":          "redis://localhost:6379/0",
		"JWT_SECRET":         "secret",
		"DISCOUNT_CACHE_TTL": "",
		"RATE_LIMIT_BACKEND": "",
		"PORT":               "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, time.Minute, cfg.DiscountCacheTTL)
	require.Equal(t, "sliding", cfg.RateLimitBackend)
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["DISCOUNT_CACHE_TTL"] = "5m"
	env["RATE_LIMIT_BACKEND"] = "ULULE"
	env["PORT"] = ":9090"
	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, cfg.DiscountCacheTTL)
	require.Equal(t, "ulule", cfg.RateLimitBackend)
	require.Equal(t, ":9090", cfg.HTTPAddr())
}

func TestLoadRequiresSecrets(t *testing.T) {
	env := baseEnv()
	env["JWT_SECRET"] = ""
	_, err := LoadForTests(env)
	require.Error(t, err)
}

func TestLoadRejectsUnknownLimiter(t *testing.T) {
	env := baseEnv()
	env["RATE_LIMIT_BACKEND"] = "leaky"
	_, err := LoadForTests(env)
	require.Error(t, err)
}
