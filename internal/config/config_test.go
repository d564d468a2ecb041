package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidian-copilot/transport-core/pkg/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "./devpipe", cfg.DevpipePath)
	assert.Equal(t, 30000, cfg.MonitoringIntervalMs)
	assert.Equal(t, 300000, cfg.CacheDurationMs)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 30000, cfg.TimeoutMs)
	assert.False(t, cfg.DebugMode)
	assert.True(t, cfg.AutoFailover)
	assert.Equal(t, []types.TransportKind{types.TransportWebSocket, types.TransportHTTP, types.TransportFileSystem}, cfg.FallbackChain)
	assert.Equal(t, SelectionWeights{Latency: 0.3, Reliability: 0.4, Capability: 0.2, Cost: 0.1}, cfg.SelectionWeights)
	assert.True(t, cfg.HTTP.EnableSSE)
	assert.Equal(t, 10, cfg.WebSocket.MaxReconnectAttempts)
	assert.Equal(t, 100, cfg.FileSystem.MaxQueueSize)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestSelectionWeights_Normalize(t *testing.T) {
	t.Run("scales to sum of one", func(t *testing.T) {
		w := SelectionWeights{Latency: 1, Reliability: 1, Capability: 1, Cost: 1}.Normalize()
		assert.InDelta(t, 0.25, w.Latency, 0.0001)
		assert.InDelta(t, 0.25, w.Reliability, 0.0001)
		assert.InDelta(t, 0.25, w.Capability, 0.0001)
		assert.InDelta(t, 0.25, w.Cost, 0.0001)
	})

	t.Run("preserves relative proportions", func(t *testing.T) {
		w := SelectionWeights{Latency: 3, Reliability: 1, Capability: 0, Cost: 0}.Normalize()
		assert.InDelta(t, 0.75, w.Latency, 0.0001)
		assert.InDelta(t, 0.25, w.Reliability, 0.0001)
	})

	t.Run("all-zero falls back to equal weighting", func(t *testing.T) {
		w := SelectionWeights{}.Normalize()
		assert.Equal(t, SelectionWeights{Latency: 0.25, Reliability: 0.25, Capability: 0.25, Cost: 0.25}, w)
	})

	t.Run("negative sum falls back to equal weighting", func(t *testing.T) {
		w := SelectionWeights{Latency: -1, Reliability: -1}.Normalize()
		assert.Equal(t, SelectionWeights{Latency: 0.25, Reliability: 0.25, Capability: 0.25, Cost: 0.25}, w)
	})
}

func TestConfigValidation(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.DevpipePath = "./devpipe"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: ""},
		{name: "missing devpipe path", mutate: func(c *Config) { c.DevpipePath = "" }, wantErr: "devpipe_path"},
		{name: "zero monitoring interval", mutate: func(c *Config) { c.MonitoringIntervalMs = 0 }, wantErr: "monitoring_interval_ms"},
		{name: "zero cache duration", mutate: func(c *Config) { c.CacheDurationMs = 0 }, wantErr: "cache_duration_ms"},
		{name: "negative retry attempts", mutate: func(c *Config) { c.RetryAttempts = -1 }, wantErr: "retry_attempts"},
		{name: "zero timeout", mutate: func(c *Config) { c.TimeoutMs = 0 }, wantErr: "timeout_ms"},
		{name: "empty fallback chain", mutate: func(c *Config) { c.FallbackChain = nil }, wantErr: "fallback_chain"},
		{name: "unknown transport in fallback chain", mutate: func(c *Config) {
			c.FallbackChain = []types.TransportKind{"carrier-pigeon"}
		}, wantErr: "unknown transport kind"},
		{name: "duplicate transport in fallback chain", mutate: func(c *Config) {
			c.FallbackChain = []types.TransportKind{types.TransportHTTP, types.TransportHTTP}
		}, wantErr: "duplicate transport kind"},
		{name: "negative selection weight", mutate: func(c *Config) { c.SelectionWeights.Latency = -0.1 }, wantErr: "nonnegative"},
		{name: "negative max connections", mutate: func(c *Config) { c.HTTP.MaxConnections = -1 }, wantErr: "max_connections"},
		{name: "negative max reconnect attempts", mutate: func(c *Config) { c.WebSocket.MaxReconnectAttempts = -1 }, wantErr: "max_reconnect_attempts"},
		{name: "negative reconnect delay", mutate: func(c *Config) { c.WebSocket.ReconnectDelay = -time.Second }, wantErr: "reconnect_delay"},
		{name: "zero max queue size", mutate: func(c *Config) { c.FileSystem.MaxQueueSize = 0 }, wantErr: "max_queue_size"},
		{name: "negative lock timeout", mutate: func(c *Config) { c.FileSystem.LockTimeout = -time.Second }, wantErr: "lock_timeout"},
		{name: "unknown cache backend", mutate: func(c *Config) { c.Cache.Backend = "bogus" }, wantErr: "cache.backend"},
		{name: "dual backend without redis addr", mutate: func(c *Config) {
			c.Cache.Backend = "dual"
			c.Cache.Redis.Addr = ""
		}, wantErr: "cache.redis.addr"},
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

func TestLoadFromFile(t *testing.T) {
	t.Run("valid yaml overrides defaults", func(t *testing.T) {
		content := `
server_url: https://api.example.com
api_key: sk-test
devpipe_path: /tmp/devpipe
retry_attempts: 5
websocket:
  max_reconnect_attempts: 20
`
		path := createTempFile(t, content)

		cfg, err := LoadFromFile(path)
		require.NoError(t, err)

		assert.Equal(t, "https://api.example.com", cfg.ServerURL)
		assert.Equal(t, "sk-test", cfg.APIKey)
		assert.Equal(t, "/tmp/devpipe", cfg.DevpipePath)
		assert.Equal(t, 5, cfg.RetryAttempts)
		assert.Equal(t, 20, cfg.WebSocket.MaxReconnectAttempts)
		// untouched fields keep their defaults
		assert.Equal(t, 30000, cfg.TimeoutMs)
	})

	t.Run("environment variable expansion", func(t *testing.T) {
		os.Setenv("TEST_API_KEY", "secret-key-123")
		defer os.Unsetenv("TEST_API_KEY")

		content := `
devpipe_path: /tmp/devpipe
api_key: ${TEST_API_KEY}
`
		path := createTempFile(t, content)

		cfg, err := LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, "secret-key-123", cfg.APIKey)
	})

	t.Run("file not found", func(t *testing.T) {
		_, err := LoadFromFile("/nonexistent/path/config.yaml")
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := createTempFile(t, "devpipe_path: [invalid")
		_, err := LoadFromFile(path)
		assert.Error(t, err)
	})

	t.Run("invalid config fails validation", func(t *testing.T) {
		path := createTempFile(t, "retry_attempts: -1\n")
		_, err := LoadFromFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retry_attempts")
	})
}

func createTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
