// The firetick-worker binary consumes execute-job and run-collection tasks:
// webhook deliveries with their retry chains, and collection load runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/firetick/firetick/internal/broker"
	"github.com/firetick/firetick/internal/config"
	"github.com/firetick/firetick/internal/loadtest"
	"github.com/firetick/firetick/internal/metrics"
	"github.com/firetick/firetick/internal/quota"
	"github.com/firetick/firetick/internal/redisx"
	"github.com/firetick/firetick/internal/storage/postgres"
	"github.com/firetick/firetick/internal/worker"
	"github.com/firetick/firetick/pkg/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	serviceName := cfg.Observability.ServiceName
	if serviceName == "" {
		serviceName = "firetick-worker"
	}

	lp, logger, err := observability.InitLogger(ctx, serviceName, cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lp.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown logger provider", "error", err)
		}
	}()
	slog.SetDefault(logger)

	tp, err := observability.InitTracerProvider(ctx, serviceName, cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("failed to init tracer provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown tracer provider", "error", err)
		}
	}()

	store, err := postgres.Connect(ctx, postgres.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.Database.ConnMaxIdleTime) * time.Second,
		AutoMigrate:     cfg.Database.AutoMigrate,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer store.Close()
	logger.InfoContext(ctx, "storage initialized", "dsn", maskPassword(cfg.Database.DSN))

	coord, err := redisx.New(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer func() { _ = coord.Close() }()

	brokerOpts := []broker.Option{broker.WithConsumerID(cfg.ConsumerID)}
	if cfg.Concurrency > 0 {
		brokerOpts = append(brokerOpts, broker.WithConcurrency(cfg.Concurrency))
	}
	queue := broker.New(coord.Client(), logger, brokerOpts...)

	limiter := quota.New(coord, store, logger)

	policy := worker.DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryBackoff > 0 {
		policy.Backoff = cfg.RetryBackoff
	}
	if cfg.BackoffType != "" {
		policy.Type = worker.BackoffType(cfg.BackoffType)
	}

	executor := worker.NewExecutor(store, limiter, queue, cfg.ConsumerID, policy, logger)
	orchestrator := loadtest.New(store, queue, logger)

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		reg := metrics.NewRegistry()
		go func() {
			if err := metrics.Serve(ctx, addr, reg, logger); err != nil {
				logger.ErrorContext(ctx, "metrics listener failed", "error", err)
			}
		}()
	}

	logger.InfoContext(ctx, "worker started",
		"consumer_id", cfg.ConsumerID, "concurrency", cfg.Concurrency,
		"max_attempts", policy.MaxAttempts, "backoff", policy.Backoff, "backoff_type", policy.Type)

	errResult := make(chan error, 2)
	go func() {
		errResult <- queue.Consume(ctx, broker.TaskExecuteJob, executor.Handler())
	}()
	go func() {
		errResult <- queue.Consume(ctx, broker.TaskRunCollection, orchestrator.Handler())
	}()

	err = <-errResult
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.InfoContext(ctx, "worker shut down")
	return nil
}

// maskPassword masks the password in a connection string for logging.
func maskPassword(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil {
		return "[REDACTED]"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxxx")
		}
	}
	return u.String()
}
