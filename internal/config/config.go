// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/obsidian-copilot/transport-core/pkg/types"
)

// Config represents the complete bridge configuration: how to reach the
// remote AI backend, how the transport manager should select and fail over
// between transports, and the per-transport tuning knobs.
type Config struct {
	ServerURL            string                `yaml:"server_url"`
	APIKey               string                `yaml:"api_key"`
	DevpipePath          string                `yaml:"devpipe_path"`
	MonitoringIntervalMs int                   `yaml:"monitoring_interval_ms"`
	CacheDurationMs      int                   `yaml:"cache_duration_ms"`
	RetryAttempts        int                   `yaml:"retry_attempts"`
	TimeoutMs            int                   `yaml:"timeout_ms"`
	DebugMode            bool                  `yaml:"debug_mode"`
	SelectionWeights     SelectionWeights      `yaml:"selection_weights"`
	FallbackChain        []types.TransportKind `yaml:"fallback_chain"`
	AutoFailover         bool                  `yaml:"auto_failover"`
	HTTP                 HTTPConfig            `yaml:"http"`
	WebSocket            WebSocketConfig       `yaml:"websocket"`
	FileSystem           FileSystemConfig      `yaml:"filesystem"`
	Cache                CacheConfig           `yaml:"cache"`
	Logging              LoggingConfig         `yaml:"logging"`
	Metrics              MetricsConfig         `yaml:"metrics"`
	Observability        ObservabilityConfig   `yaml:"observability"`
}

// SelectionWeights controls the relative importance of each scoring factor
// used by the transport manager's candidate ranking (latency, reliability,
// capability fit, cost). Weights need not sum to 1.0 — they are normalized
// internally; see Normalize.
type SelectionWeights struct {
	Latency     float64 `yaml:"latency"`
	Reliability float64 `yaml:"reliability"`
	Capability  float64 `yaml:"capability"`
	Cost        float64 `yaml:"cost"`
}

// Normalize returns weights scaled so they sum to 1.0. When the input sums
// to zero (or less), it falls back to equal weighting across all four
// factors rather than dividing by zero.
func (w SelectionWeights) Normalize() SelectionWeights {
	sum := w.Latency + w.Reliability + w.Capability + w.Cost
	if sum <= 0 {
		return SelectionWeights{Latency: 0.25, Reliability: 0.25, Capability: 0.25, Cost: 0.25}
	}
	return SelectionWeights{
		Latency:     w.Latency / sum,
		Reliability: w.Reliability / sum,
		Capability:  w.Capability / sum,
		Cost:        w.Cost / sum,
	}
}

// HTTPConfig tunes the HTTP/SSE transport.
type HTTPConfig struct {
	EnableSSE      bool `yaml:"enable_sse"`
	MaxConnections int  `yaml:"max_connections"`
}

// WebSocketConfig tunes the WebSocket transport's reconnect and
// back-pressure behavior.
type WebSocketConfig struct {
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	PersistMessages      bool          `yaml:"persist_messages"`
}

// FileSystemConfig tunes the filesystem transport's polling and queueing
// behavior.
type FileSystemConfig struct {
	WatchInterval time.Duration `yaml:"watch_interval"`
	LockTimeout   time.Duration `yaml:"lock_timeout"`
	MaxQueueSize  int           `yaml:"max_queue_size"`
}

// CacheConfig selects and tunes the health/preferences cache backing.
type CacheConfig struct {
	Backend   string      `yaml:"backend"` // memory, dual
	Namespace string      `yaml:"namespace"`
	Redis     RedisConfig `yaml:"redis"`
}

// RedisConfig contains the L2 cache tier's Redis connection settings.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ObservabilityConfig enables/configures the transport event callbacks.
type ObservabilityConfig struct {
	Prometheus PrometheusCallbackConfig `yaml:"prometheus"`
	OTel       OTelCallbackConfig       `yaml:"otel"`
	Slack      SlackCallbackConfig      `yaml:"slack"`
	S3         S3CallbackConfig         `yaml:"s3"`
}

// PrometheusCallbackConfig enables the Prometheus transport-event callback.
type PrometheusCallbackConfig struct {
	Enabled bool `yaml:"enabled"`
}

// OTelCallbackConfig configures the OpenTelemetry transport-event callback.
type OTelCallbackConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// SlackCallbackConfig configures the Slack alert webhook callback.
type SlackCallbackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// S3CallbackConfig configures the debugging-trace archival callback.
type S3CallbackConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
	Prefix  string `yaml:"prefix"`
}

// DefaultConfig returns a configuration with the defaults named in the
// external interfaces section: 30s monitoring interval, 5 minute health
// cache, 3 retry attempts, 30s default timeout, websocket-first fallback
// chain with auto failover enabled.
func DefaultConfig() *Config {
	return &Config{
		DevpipePath:          "./devpipe",
		MonitoringIntervalMs: 30000,
		CacheDurationMs:      300000,
		RetryAttempts:        3,
		TimeoutMs:            30000,
		DebugMode:            false,
		SelectionWeights: SelectionWeights{
			Latency:     0.3,
			Reliability: 0.4,
			Capability:  0.2,
			Cost:        0.1,
		},
		FallbackChain: []types.TransportKind{
			types.TransportWebSocket,
			types.TransportHTTP,
			types.TransportFileSystem,
		},
		AutoFailover: true,
		HTTP: HTTPConfig{
			EnableSSE:      true,
			MaxConnections: 10,
		},
		WebSocket: WebSocketConfig{
			HeartbeatInterval:    30 * time.Second,
			ReconnectDelay:       time.Second,
			MaxReconnectAttempts: 10,
			PersistMessages:      false,
		},
		FileSystem: FileSystemConfig{
			WatchInterval: 2 * time.Second,
			LockTimeout:   5 * time.Second,
			MaxQueueSize:  100,
		},
		Cache: CacheConfig{
			Backend:   "memory",
			Namespace: "transport-core",
			Redis: RedisConfig{
				Addr:         "localhost:6379",
				DB:           0,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
				PoolSize:     10,
				MinIdleConns: 2,
				MaxRetries:   3,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.DevpipePath == "" {
		return fmt.Errorf("devpipe_path is required")
	}
	if c.MonitoringIntervalMs <= 0 {
		return fmt.Errorf("monitoring_interval_ms must be positive")
	}
	if c.CacheDurationMs <= 0 {
		return fmt.Errorf("cache_duration_ms must be positive")
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts cannot be negative")
	}
	if c.TimeoutMs <= 0 {
		return fmt.Errorf("timeout_ms must be positive")
	}
	if len(c.FallbackChain) == 0 {
		return fmt.Errorf("fallback_chain must name at least one transport")
	}
	seen := make(map[types.TransportKind]bool, len(c.FallbackChain))
	for i, kind := range c.FallbackChain {
		switch kind {
		case types.TransportHTTP, types.TransportWebSocket, types.TransportFileSystem:
		default:
			return fmt.Errorf("fallback_chain[%d]: unknown transport kind %q", i, kind)
		}
		if seen[kind] {
			return fmt.Errorf("fallback_chain[%d]: duplicate transport kind %q", i, kind)
		}
		seen[kind] = true
	}
	w := c.SelectionWeights
	if w.Latency < 0 || w.Reliability < 0 || w.Capability < 0 || w.Cost < 0 {
		return fmt.Errorf("selection_weights must be nonnegative")
	}
	if c.HTTP.MaxConnections < 0 {
		return fmt.Errorf("http.max_connections cannot be negative")
	}
	if c.WebSocket.MaxReconnectAttempts < 0 {
		return fmt.Errorf("websocket.max_reconnect_attempts cannot be negative")
	}
	if c.WebSocket.ReconnectDelay < 0 {
		return fmt.Errorf("websocket.reconnect_delay cannot be negative")
	}
	if c.FileSystem.MaxQueueSize <= 0 {
		return fmt.Errorf("filesystem.max_queue_size must be positive")
	}
	if c.FileSystem.LockTimeout < 0 {
		return fmt.Errorf("filesystem.lock_timeout cannot be negative")
	}
	switch strings.ToLower(c.Cache.Backend) {
	case "memory", "dual":
	default:
		return fmt.Errorf("cache.backend must be one of: memory, dual")
	}
	if strings.ToLower(c.Cache.Backend) == "dual" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required when cache.backend is dual")
	}
	return nil
}
