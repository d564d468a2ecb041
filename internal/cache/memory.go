package cache

import (
	"context"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryConfig configures the in-process L1 tier.
type MemoryConfig struct {
	DefaultTTL      time.Duration // default: 5 minutes, matching spec's cache_duration_ms default of 300000
	CleanupInterval time.Duration // default: 1 minute
}

// DefaultMemoryConfig returns the defaults used when no configuration is
// supplied.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		DefaultTTL:      5 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// MemoryCache is the L1 tier, backed by patrickmn/go-cache.
type MemoryCache struct {
	store      *gocache.Cache
	defaultTTL time.Duration

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// NewMemoryCache builds the L1 tier.
func NewMemoryCache(cfg MemoryConfig) *MemoryCache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	return &MemoryCache{
		store:      gocache.New(cfg.DefaultTTL, cfg.CleanupInterval),
		defaultTTL: cfg.DefaultTTL,
	}
}

// Get retrieves a value, returning nil, nil on a miss or expired entry.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := c.store.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, nil
	}
	c.hits.Add(1)
	return v.([]byte), nil
}

// Set stores a value, substituting the configured default TTL when ttl is
// not positive.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	c.store.Set(key, valueCopy, ttl)
	c.sets.Add(1)
	return nil
}

// Delete removes a key.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.store.Delete(key)
	return nil
}

// SetPipeline performs sequential sets; the in-process tier has no
// network round trip to batch.
func (c *MemoryCache) SetPipeline(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := c.Set(ctx, e.Key, e.Value, e.TTL); err != nil {
			return err
		}
	}
	return nil
}

// GetMulti retrieves multiple keys, omitting misses from the result map.
func (c *MemoryCache) GetMulti(_ context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if v, ok := c.store.Get(key); ok {
			result[key] = v.([]byte)
			c.hits.Add(1)
		} else {
			c.misses.Add(1)
		}
	}
	return result, nil
}

// Ping always succeeds for the in-process tier.
func (c *MemoryCache) Ping(context.Context) error {
	return nil
}

// Close removes every entry from the store. It does not stop the store's
// background cleanup goroutine.
func (c *MemoryCache) Close() error {
	c.store.Flush()
	return nil
}

// Stats returns hit/miss counters.
func (c *MemoryCache) Stats() Stats {
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
		HitRate: hitRate,
	}
}

// Len reports the number of live (non-expired) items, used by tests.
func (c *MemoryCache) Len() int {
	return c.store.ItemCount()
}

// Flush removes every entry.
func (c *MemoryCache) Flush() {
	c.store.Flush()
}
