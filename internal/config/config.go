package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all gateway configuration.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Server basics
	Addr           string `env:"GATE_ADDR" envDefault:":4000"`
	MaxConnections int    `env:"GATE_MAX_CONNECTIONS" envDefault:"5000"`

	// Shards
	ShardCount    int `env:"GATE_SHARD_COUNT" envDefault:"3"`
	ShardCapacity int `env:"GATE_SHARD_CAPACITY" envDefault:"250"`

	// Aggregator (external counter service)
	AggregatorEnabled bool          `env:"GATE_AGGREGATOR_ENABLED" envDefault:"false"`
	NATSURL           string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	AggregatorTimeout time.Duration `env:"GATE_AGGREGATOR_TIMEOUT" envDefault:"2s"`

	// Population synchronizer
	SyncInterval     time.Duration `env:"GATE_SYNC_INTERVAL" envDefault:"1s"`
	SyncTimerEnabled bool          `env:"GATE_SYNC_TIMER_ENABLED" envDefault:"true"`

	// Connection admission
	ConnRateLimitEnabled bool    `env:"GATE_CONN_RATE_LIMIT_ENABLED" envDefault:"true"`
	ConnRateIPBurst      int     `env:"GATE_CONN_RATE_IP_BURST" envDefault:"10"`
	ConnRateIPRate       float64 `env:"GATE_CONN_RATE_IP_RATE" envDefault:"1.0"`
	ConnRateGlobalBurst  int     `env:"GATE_CONN_RATE_GLOBAL_BURST" envDefault:"300"`
	ConnRateGlobalRate   float64 `env:"GATE_CONN_RATE_GLOBAL_RATE" envDefault:"50.0"`

	// Monitoring
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from an optional .env file and the
// environment. Priority: ENV vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	// .env is a development convenience; production sets real env vars
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("GATE_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("GATE_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.ShardCount < 1 {
		return fmt.Errorf("GATE_SHARD_COUNT must be > 0, got %d", c.ShardCount)
	}
	if c.ShardCapacity < 1 {
		return fmt.Errorf("GATE_SHARD_CAPACITY must be > 0, got %d", c.ShardCapacity)
	}
	if c.AggregatorEnabled && c.NATSURL == "" {
		return fmt.Errorf("NATS_URL is required when GATE_AGGREGATOR_ENABLED is set")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("GATE_SYNC_INTERVAL must be positive, got %s", c.SyncInterval)
	}
	if c.AggregatorTimeout <= 0 {
		return fmt.Errorf("GATE_AGGREGATOR_TIMEOUT must be positive, got %s", c.AggregatorTimeout)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs the effective configuration at startup.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Int("max_connections", c.MaxConnections).
		Int("shard_count", c.ShardCount).
		Int("shard_capacity", c.ShardCapacity).
		Bool("aggregator_enabled", c.AggregatorEnabled).
		Str("nats_url", c.NATSURL).
		Dur("sync_interval", c.SyncInterval).
		Bool("sync_timer_enabled", c.SyncTimerEnabled).
		Bool("conn_rate_limit_enabled", c.ConnRateLimitEnabled).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Gateway configuration loaded")
}
