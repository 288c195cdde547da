// The firetick-scheduler binary runs the polling loop that discovers due
// jobs, claims them across the fleet, and enqueues executions.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/firetick/firetick/internal/broker"
	"github.com/firetick/firetick/internal/config"
	"github.com/firetick/firetick/internal/metrics"
	"github.com/firetick/firetick/internal/redisx"
	"github.com/firetick/firetick/internal/scheduler"
	"github.com/firetick/firetick/internal/storage/postgres"
	"github.com/firetick/firetick/pkg/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadSchedulerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	serviceName := cfg.Observability.ServiceName
	if serviceName == "" {
		serviceName = "firetick-scheduler"
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

	queue := broker.New(coord.Client(), logger)

	reg := metrics.NewRegistry()
	m := metrics.NewScheduler(reg)
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, reg, logger); err != nil {
				logger.ErrorContext(ctx, "metrics listener failed", "error", err)
			}
		}()
	}

	poller := scheduler.New(store, coord, queue, scheduler.Config{
		BatchSize:   cfg.BatchSize,
		LockTTL:     cfg.LockTTL,
		MinInterval: cfg.MinInterval,
		MaxInterval: cfg.MaxInterval,
	}, m, logger)

	errResult := make(chan error, 1)
	go func() {
		errResult <- poller.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.InfoContext(ctx, "shutting down")
		<-errResult
		return nil
	case err := <-errResult:
		return err
	}
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
