// Package app wires the shared infrastructure used by the API, the worker and the tools.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-promo/internal/auth"
	"github.com/noah-isme/backend-promo/internal/cache"
	"github.com/noah-isme/backend-promo/internal/config"
	"github.com/noah-isme/backend-promo/internal/discount"
	"github.com/noah-isme/backend-promo/internal/lock"
	"github.com/noah-isme/backend-promo/internal/obs"
)

// Dependencies holds the connections shared by a process.
type Dependencies struct {
	DB    *pgxpool.Pool
	Redis *redis.Client
	Tasks *asynq.Client
}

// Options tunes Open.
type Options struct {
	// ApplicationName is reported to Postgres as application_name.
	ApplicationName string
	// RedisMetrics enables redisotel metrics instrumentation.
	RedisMetrics bool
	// Tasks opens an asynq client for enqueueing background work.
	Tasks bool
}

// Open connects to Postgres and Redis and verifies both respond.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	pool, err := NewPool(ctx, cfg, opts.ApplicationName)
	if err != nil {
		return nil, err
	}
	rdb, err := NewRedis(ctx, cfg.RedisURL, opts.RedisMetrics, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	deps := &Dependencies{DB: pool, Redis: rdb}
	if opts.Tasks {
		connOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("parse task redis url: %w", err)
		}
		deps.Tasks = asynq.NewClient(connOpt)
	}
	return deps, nil
}

// Close releases every open connection.
func (d *Dependencies) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	if d.Tasks != nil {
		errs = append(errs, d.Tasks.Close())
	}
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	if d.DB != nil {
		d.DB.Close()
	}
	return errors.Join(errs...)
}

// NewPool builds a traced pgx pool from cfg.DatabaseURL.
func NewPool(ctx context.Context, cfg *config.Config, appName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	if appName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = appName
	}
	if cfg.DBMaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.DBMaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewRedis builds a traced Redis client. Instrumentation failures are logged, not fatal.
func NewRedis(ctx context.Context, url string, withMetrics bool, logger zerolog.Logger) (*redis.Client, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if withMetrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewAuth builds the token service from configuration.
func NewAuth(cfg *config.Config) (*auth.Service, error) {
	return auth.NewService(auth.Config{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		ClockSkew: cfg.JWTClockSkew,
	})
}

// NewDiscountService assembles the discount service on top of deps. Redemptions are
// queued when deps carries a task client and recorded inline otherwise.
func NewDiscountService(cfg *config.Config, deps *Dependencies, metrics *obs.DiscountMetrics, logger zerolog.Logger) *discount.Service {
	svc := &discount.Service{
		Repo:      discount.NewStore(deps.DB),
		Cache:     cache.NewJSON(deps.Redis, cfg.DiscountCacheTTL),
		Engine:    discount.NewEngine(logger.With().Str("component", "discount_engine").Logger()),
		Locker:    lock.Locker{R: deps.Redis, Prefix: "lock:", RetryBackoff: cfg.LockRetryBackoff, MaxWait: cfg.RedeemLockTTL},
		Metrics:   metrics,
		Logger:    logger,
		QueueName: cfg.RedeemQueue,
		MaxRetry:  cfg.RedeemMaxRetry,
		LockTTL:   cfg.RedeemLockTTL,
	}
	if deps.Tasks != nil {
		svc.Queue = deps.Tasks
	}
	return svc
}
