package cache

import (
	"context"
	"sync/atomic"
	"time"
)

// DualConfig configures the two-tier combinator.
type DualConfig struct {
	LocalTTL time.Duration // TTL applied to local-cache backfills; default 5 minutes.
}

// DefaultDualConfig returns sensible defaults.
func DefaultDualConfig() DualConfig {
	return DualConfig{LocalTTL: 5 * time.Minute}
}

// DualCache layers an in-process L1 (MemoryCache) in front of a
// distributed L2 (RedisCache). Reads check L1 first, fall back to L2 on a
// miss, and backfill L1 on an L2 hit. Writes go to both tiers so that a
// restart of this process still benefits from another process's warm
// cache. Adapted from the teacher's caches/dual.DualCache.
type DualCache struct {
	local  *MemoryCache
	remote *RedisCache
	config DualConfig

	localHits  atomic.Int64
	remoteHits atomic.Int64
	misses     atomic.Int64
	backfills  atomic.Int64
}

// NewDualCache builds the combinator. remote may be nil, in which case
// DualCache behaves exactly like local alone. New never passes a nil
// remote: it fails instead when Redis is unreachable at startup.
func NewDualCache(local *MemoryCache, remote *RedisCache, cfg DualConfig) *DualCache {
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = 5 * time.Minute
	}
	return &DualCache{local: local, remote: remote, config: cfg}
}

// Get checks L1, then L2, backfilling L1 on an L2 hit.
func (c *DualCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, err := c.local.Get(ctx, key); err == nil && val != nil {
		c.localHits.Add(1)
		return val, nil
	}

	if c.remote != nil {
		val, err := c.remote.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if val != nil {
			c.remoteHits.Add(1)
			_ = c.local.Set(ctx, key, val, c.config.LocalTTL)
			c.backfills.Add(1)
			return val, nil
		}
	}

	c.misses.Add(1)
	return nil, nil
}

// Set writes to both tiers.
func (c *DualCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, key, value, c.config.LocalTTL); err != nil {
		return err
	}
	if c.remote != nil {
		return c.remote.Set(ctx, key, value, ttl)
	}
	return nil
}

// Delete removes the key from both tiers, best-effort on the local side.
func (c *DualCache) Delete(ctx context.Context, key string) error {
	_ = c.local.Delete(ctx, key)
	if c.remote != nil {
		return c.remote.Delete(ctx, key)
	}
	return nil
}

// SetPipeline writes the batch to both tiers.
func (c *DualCache) SetPipeline(ctx context.Context, entries []Entry) error {
	localEntries := make([]Entry, len(entries))
	for i, e := range entries {
		localEntries[i] = Entry{Key: e.Key, Value: e.Value, TTL: c.config.LocalTTL}
	}
	if err := c.local.SetPipeline(ctx, localEntries); err != nil {
		return err
	}
	if c.remote != nil {
		return c.remote.SetPipeline(ctx, entries)
	}
	return nil
}

// GetMulti checks L1 first, then queries L2 only for the keys L1 missed.
func (c *DualCache) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	result, err := c.local.GetMulti(ctx, keys)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, k := range keys {
		if _, ok := result[k]; !ok {
			missing = append(missing, k)
		}
	}

	if c.remote != nil && len(missing) > 0 {
		remoteResults, err := c.remote.GetMulti(ctx, missing)
		if err != nil {
			return result, err
		}
		for k, v := range remoteResults {
			result[k] = v
			c.remoteHits.Add(1)
			_ = c.local.Set(ctx, k, v, c.config.LocalTTL)
			c.backfills.Add(1)
		}
		for _, k := range missing {
			if _, ok := remoteResults[k]; !ok {
				c.misses.Add(1)
			}
		}
	}

	return result, nil
}

// Ping checks both tiers; a nil remote is treated as healthy.
func (c *DualCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return err
	}
	if c.remote != nil {
		return c.remote.Ping(ctx)
	}
	return nil
}

// Close closes both tiers.
func (c *DualCache) Close() error {
	_ = c.local.Close()
	if c.remote != nil {
		return c.remote.Close()
	}
	return nil
}

// Stats returns combined hit/miss counters across both tiers.
func (c *DualCache) Stats() Stats {
	localStats := c.local.Stats()
	var remoteStats Stats
	if c.remote != nil {
		remoteStats = c.remote.Stats()
	}

	totalHits := c.localHits.Load() + c.remoteHits.Load()
	totalMisses := c.misses.Load()
	total := totalHits + totalMisses

	var hitRate float64
	if total > 0 {
		hitRate = float64(totalHits) / float64(total)
	}

	return Stats{
		Hits:    totalHits,
		Misses:  totalMisses,
		Sets:    localStats.Sets + remoteStats.Sets,
		Errors:  remoteStats.Errors,
		HitRate: hitRate,
	}
}
