package config

import (
	"fmt"
	"time"

	"github.com/firetick/firetick/internal/env"
)

// SchedulerConfig holds all configuration for the scheduler binary.
//
// Zero interval and batch values fall back to the scheduler package
// defaults.
type SchedulerConfig struct {
	Database      DatabaseConfig
	Redis         RedisConfig
	Observability ObservabilityConfig

	BatchSize   int           `env:"FIRETICK_SCHEDULER_BATCH_SIZE"`
	MinInterval time.Duration `env:"FIRETICK_SCHEDULER_MIN_INTERVAL"`
	MaxInterval time.Duration `env:"FIRETICK_SCHEDULER_MAX_INTERVAL"`
	LockTTL     time.Duration `env:"FIRETICK_SCHEDULER_LOCK_TTL"`
}

// LoadSchedulerConfig loads and validates scheduler configuration from the
// environment.
func LoadSchedulerConfig() (*SchedulerConfig, error) {
	cfg := &SchedulerConfig{}

	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load scheduler config: %w", err)
	}

	return cfg, nil
}
