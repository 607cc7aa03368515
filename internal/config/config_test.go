package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":4000", cfg.Addr)
	assert.Equal(t, 5000, cfg.MaxConnections)
	assert.Equal(t, 3, cfg.ShardCount)
	assert.Equal(t, 250, cfg.ShardCapacity)
	assert.False(t, cfg.AggregatorEnabled)
	assert.Equal(t, 2*time.Second, cfg.AggregatorTimeout)
	assert.Equal(t, time.Second, cfg.SyncInterval)
	assert.True(t, cfg.SyncTimerEnabled)
	assert.True(t, cfg.ConnRateLimitEnabled)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GATE_ADDR", ":9000")
	t.Setenv("GATE_SHARD_COUNT", "5")
	t.Setenv("GATE_SHARD_CAPACITY", "100")
	t.Setenv("GATE_AGGREGATOR_ENABLED", "true")
	t.Setenv("NATS_URL", "nats://counter:4222")
	t.Setenv("GATE_SYNC_TIMER_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 5, cfg.ShardCount)
	assert.Equal(t, 100, cfg.ShardCapacity)
	assert.True(t, cfg.AggregatorEnabled)
	assert.Equal(t, "nats://counter:4222", cfg.NATSURL)
	assert.False(t, cfg.SyncTimerEnabled)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Addr:              ":4000",
			MaxConnections:    5000,
			ShardCount:        3,
			ShardCapacity:     250,
			NATSURL:           "nats://localhost:4222",
			AggregatorTimeout: 2 * time.Second,
			SyncInterval:      time.Second,
			LogLevel:          "info",
			LogFormat:         "json",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:    "missing addr",
			mutate:  func(c *Config) { c.Addr = "" },
			wantErr: "GATE_ADDR",
		},
		{
			name:    "zero max connections",
			mutate:  func(c *Config) { c.MaxConnections = 0 },
			wantErr: "GATE_MAX_CONNECTIONS",
		},
		{
			name:    "zero shards",
			mutate:  func(c *Config) { c.ShardCount = 0 },
			wantErr: "GATE_SHARD_COUNT",
		},
		{
			name:    "negative capacity",
			mutate:  func(c *Config) { c.ShardCapacity = -1 },
			wantErr: "GATE_SHARD_CAPACITY",
		},
		{
			name: "aggregator without url",
			mutate: func(c *Config) {
				c.AggregatorEnabled = true
				c.NATSURL = ""
			},
			wantErr: "NATS_URL",
		},
		{
			name:    "zero sync interval",
			mutate:  func(c *Config) { c.SyncInterval = 0 },
			wantErr: "GATE_SYNC_INTERVAL",
		},
		{
			name:    "zero aggregator timeout",
			mutate:  func(c *Config) { c.AggregatorTimeout = 0 },
			wantErr: "GATE_AGGREGATOR_TIMEOUT",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "LOG_LEVEL",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.LogFormat = "xml" },
			wantErr: "LOG_FORMAT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
