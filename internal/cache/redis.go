package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisConfig configures the optional L2 tier. Adapted from the teacher's
// caches/redis.Config, trimmed to the fields the transport core's
// namespace-scoped health/preferences cache actually needs.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Namespace    string        `yaml:"namespace"`
	DefaultTTL   time.Duration `yaml:"default_ttl"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries"`
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Namespace:    "transport-core",
		DefaultTTL:   time.Hour,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	}
}

// RedisCache is the L2 tier, backed by redis/go-redis/v9. Accepts a
// goredis.UniversalClient so tests can inject a miniredis-backed client or
// a real cluster/sentinel client interchangeably.
type RedisCache struct {
	client     goredis.UniversalClient
	namespace  string
	defaultTTL time.Duration

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
	errors atomic.Int64
}

// NewRedisCache dials Redis and verifies connectivity with a Ping.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
	})

	return newRedisCacheWithClient(client, cfg)
}

// NewRedisCacheWithClient wraps an already-constructed client (a
// miniredis-backed client in tests, or a cluster/sentinel client in
// production).
func NewRedisCacheWithClient(client goredis.UniversalClient, cfg RedisConfig) (*RedisCache, error) {
	return newRedisCacheWithClient(client, cfg)
}

func newRedisCacheWithClient(client goredis.UniversalClient, cfg RedisConfig) (*RedisCache, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	defaultTTL := cfg.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}

	return &RedisCache{
		client:     client,
		namespace:  cfg.Namespace,
		defaultTTL: defaultTTL,
	}, nil
}

func (c *RedisCache) prefixKey(key string) string {
	if c.namespace == "" {
		return key
	}
	return c.namespace + ":" + key
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefixKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			c.misses.Add(1)
			return nil, nil
		}
		c.errors.Add(1)
		return nil, fmt.Errorf("redis get: %w", err)
	}

	c.hits.Add(1)
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	if err := c.client.Set(ctx, c.prefixKey(key), value, ttl).Err(); err != nil {
		c.errors.Add(1)
		return fmt.Errorf("redis set: %w", err)
	}

	c.sets.Add(1)
	return nil
}

// Delete removes a key from Redis.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefixKey(key)).Err(); err != nil {
		c.errors.Add(1)
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// SetPipeline performs batch set operations using a Redis pipeline.
func (c *RedisCache) SetPipeline(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for _, e := range entries {
		ttl := e.TTL
		if ttl <= 0 {
			ttl = c.defaultTTL
		}
		pipe.Set(ctx, c.prefixKey(e.Key), e.Value, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		c.errors.Add(1)
		return fmt.Errorf("redis pipeline exec: %w", err)
	}

	c.sets.Add(int64(len(entries)))
	return nil
}

// GetMulti retrieves multiple keys using MGET.
func (c *RedisCache) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.prefixKey(k)
	}

	vals, err := c.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		c.errors.Add(1)
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	result := make(map[string][]byte, len(keys))
	for i, val := range vals {
		switch v := val.(type) {
		case string:
			result[keys[i]] = []byte(v)
			c.hits.Add(1)
		case []byte:
			result[keys[i]] = v
			c.hits.Add(1)
		default:
			c.misses.Add(1)
		}
	}

	return result, nil
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Stats returns hit/miss/error counters.
func (c *RedisCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:    hits,
		Misses:  misses,
		Sets:    c.sets.Load(),
		Errors:  c.errors.Load(),
		HitRate: hitRate,
	}
}
