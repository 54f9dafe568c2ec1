package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-promo/internal/app"
	"github.com/noah-isme/backend-promo/internal/config"
	"github.com/noah-isme/backend-promo/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, cfg, logger, app.Options{ApplicationName: "promo-worker"})
	if err != nil {
		logger.Fatal().Err(err).Msg("open dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	metrics := obs.NewDiscountMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "promo"), prometheus.DefaultRegisterer)
	discountService := app.NewDiscountService(cfg, deps, metrics, logger)

	connOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse task redis url")
	}
	srv := asynq.NewServer(connOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{cfg.RedeemQueue: 1},
		Logger:      taskLogger{logger: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task_type", task.Type()).Msg("task failed")
		}),
	})

	mux := asynq.NewServeMux()
	discountService.RegisterHandlers(mux)

	logger.Info().Str("queue", cfg.RedeemQueue).Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

// taskLogger adapts zerolog to the asynq logger interface.
type taskLogger struct {
	logger zerolog.Logger
}

func (l taskLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l taskLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l taskLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l taskLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l taskLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
