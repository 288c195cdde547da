package config

import (
	"fmt"
	"os"
	"time"

	"github.com/firetick/firetick/internal/env"
)

// WorkerConfig holds all configuration for the worker binary.
type WorkerConfig struct {
	Database      DatabaseConfig
	Redis         RedisConfig
	Observability ObservabilityConfig

	// Concurrency is the number of in-process delivery goroutines.
	Concurrency int `env:"FIRETICK_WORKER_CONCURRENCY"`

	// ConsumerID identifies this worker instance on the broker's processing
	// lists. Defaults to the hostname.
	ConsumerID string `env:"FIRETICK_WORKER_CONSUMER_ID"`

	// Retry policy overrides. Zero values use the worker package defaults.
	MaxAttempts  int           `env:"FIRETICK_WORKER_MAX_ATTEMPTS"`
	RetryBackoff time.Duration `env:"FIRETICK_WORKER_RETRY_BACKOFF"`
	BackoffType  string        `env:"FIRETICK_WORKER_BACKOFF_TYPE"` // exponential, linear, fixed
}

// LoadWorkerConfig loads and validates worker configuration from the
// environment.
func LoadWorkerConfig() (*WorkerConfig, error) {
	cfg := &WorkerConfig{}

	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load worker config: %w", err)
	}

	if cfg.ConsumerID == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve hostname for consumer id: %w", err)
		}
		cfg.ConsumerID = host
	}

	return cfg, nil
}
