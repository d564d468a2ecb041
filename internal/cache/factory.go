package cache

import "fmt"

// Config selects and configures the cache backend used by
// internal/modelselect for getCachedHealth and getUserPreferences.
type Config struct {
	Backend Backend      `yaml:"backend"`
	Memory  MemoryConfig `yaml:"memory"`
	Redis   RedisConfig  `yaml:"redis"`
	Dual    DualConfig   `yaml:"dual"`
}

// DefaultConfig returns the memory-only backend, matching the core's
// "works with zero external dependencies" default.
func DefaultConfig() Config {
	return Config{
		Backend: BackendMemory,
		Memory:  DefaultMemoryConfig(),
		Redis:   DefaultRedisConfig(),
		Dual:    DefaultDualConfig(),
	}
}

// New builds the configured Cache backend. BackendDual dials Redis
// eagerly; callers that want to start without Redis should use
// BackendMemory instead.
func New(cfg Config) (Cache, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryCache(cfg.Memory), nil

	case BackendDual:
		local := NewMemoryCache(cfg.Memory)
		remote, err := NewRedisCache(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("cache: dual backend requires redis: %w", err)
		}
		return NewDualCache(local, remote, cfg.Dual), nil

	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}
