package entities

import (
	"time"
)

const (
	// DefaultConnectionTimeout bounds the wait for a peer's ready envelope.
	DefaultConnectionTimeout = 5 * time.Second
	// DefaultOperationTimeout bounds the wait for an operation result.
	DefaultOperationTimeout = 5 * time.Second
)

// Config represents host protocol settings shared by providers, extensions
// and connections.
type Config struct {
	// LogLevel is the logging verbosity: "quiet", "info" or "verbose".
	LogLevel string `json:"log_level,omitempty" yaml:"log_level" toml:"log_level" env:"LOG_LEVEL" validate:"omitempty,oneof=quiet info verbose debug warn error"`

	// ConnectionTimeout is the maximum time to wait for a module handshake.
	ConnectionTimeout time.Duration `json:"connection_timeout" yaml:"connection_timeout" toml:"connection_timeout" env:"CONNECTION_TIMEOUT" validate:"gte=0"`

	// OperationTimeout is the maximum time to wait for an operation result.
	OperationTimeout time.Duration `json:"operation_timeout" yaml:"operation_timeout" toml:"operation_timeout" env:"OPERATION_TIMEOUT" validate:"gte=0"`

	// ErrorOnUnauthorized surfaces unauthorized envelopes as error events
	// instead of dropping them silently.
	ErrorOnUnauthorized bool `json:"error_on_unauthorized" yaml:"error_on_unauthorized" toml:"error_on_unauthorized" env:"ERROR_ON_UNAUTHORIZED"`
}

// DefaultConfig returns the default host configuration.
// Unauthorized envelopes are swallowed by default so an unknown sender learns
// nothing about connection liveness.
func DefaultConfig() Config {
	return Config{
		LogLevel:          "info",
		ConnectionTimeout: DefaultConnectionTimeout,
		OperationTimeout:  DefaultOperationTimeout,
	}
}

// ConfigOption is a functional option for configuring host settings.
type ConfigOption func(*Config)

// WithConnectionTimeout sets the handshake timeout.
func WithConnectionTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		if d > 0 {
			c.ConnectionTimeout = d
		}
	}
}

// WithOperationTimeout sets the operation result timeout.
func WithOperationTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		if d > 0 {
			c.OperationTimeout = d
		}
	}
}

// WithErrorOnUnauthorized enables or disables reporting of unauthorized envelopes.
func WithErrorOnUnauthorized(enabled bool) ConfigOption {
	return func(c *Config) {
		c.ErrorOnUnauthorized = enabled
	}
}

// WithLogLevel sets the logging verbosity level.
func WithLogLevel(level string) ConfigOption {
	return func(c *Config) {
		c.LogLevel = level
	}
}

// NewConfig creates a new Config with the given options.
func NewConfig(opts ...ConfigOption) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Normalize fills zero timeouts with their defaults.
func (c Config) Normalize() Config {
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = DefaultConnectionTimeout
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = DefaultOperationTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c
}
