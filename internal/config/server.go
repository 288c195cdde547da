package config

import (
	"fmt"
	"time"

	"github.com/firetick/firetick/internal/env"
)

// ServerConfig holds all configuration for the API server binary.
type ServerConfig struct {
	Database      DatabaseConfig
	Redis         RedisConfig
	Observability ObservabilityConfig
	HTTP          HTTPConfig
	Auth          AuthConfig
	Billing       BillingConfig

	ShutdownTimeout time.Duration `env:"FIRETICK_SHUTDOWN_TIMEOUT"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Host              string        `env:"FIRETICK_HTTP_HOST"`
	Port              string        `env:"FIRETICK_HTTP_PORT"`
	ReadTimeout       time.Duration `env:"FIRETICK_HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `env:"FIRETICK_HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `env:"FIRETICK_HTTP_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `env:"FIRETICK_HTTP_READ_HEADER_TIMEOUT"`
}

// Addr returns the host:port pair the server listens on.
func (c HTTPConfig) Addr() string {
	port := c.Port
	if port == "" {
		port = "8080"
	}
	return c.Host + ":" + port
}

// AuthConfig holds JWT verification configuration.
type AuthConfig struct {
	// JWTSecret is the HS256 signing secret shared with the identity
	// provider.
	JWTSecret string `env:"FIRETICK_JWT_SECRET"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.JWTSecret == "" {
		return ErrJWTSecretRequired
	}
	return nil
}

// BillingConfig holds the billing provider's API settings. Empty BaseURL
// disables outbound billing calls.
type BillingConfig struct {
	BaseURL string        `env:"FIRETICK_BILLING_BASE_URL"`
	APIKey  string        `env:"FIRETICK_BILLING_API_KEY"`
	Timeout time.Duration `env:"FIRETICK_BILLING_TIMEOUT"`
}

// LoadServerConfig loads and validates server configuration from the
// environment.
func LoadServerConfig() (*ServerConfig, error) {
	cfg := &ServerConfig{}

	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}

	return cfg, nil
}
