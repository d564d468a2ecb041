package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRealRedisIfAvailable starts a real Redis container for testing and
// returns nil if Docker is not available, so the dual-cache integration
// test gracefully degrades to skipped rather than failing on a laptop or CI
// runner with no Docker daemon.
func setupRealRedisIfAvailable(t *testing.T) *goredis.Client {
	t.Helper()

	defer func() {
		if r := recover(); r != nil {
			t.Logf("docker setup failed (panic recovered): %v", r)
		}
	}()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Logf("failed to start redis container: %v", err)
		return nil
	}
	t.Cleanup(func() {
		if terminateErr := redisContainer.Terminate(ctx); terminateErr != nil {
			t.Logf("failed to terminate redis container: %v", terminateErr)
		}
	})

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Logf("failed to get container host: %v", err)
		return nil
	}
	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Logf("failed to get container port: %v", err)
		return nil
	}

	client := goredis.NewClient(&goredis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		t.Logf("failed to ping redis: %v", err)
		return nil
	}

	t.Logf("redis container ready at %s", client.Options().Addr)
	return client
}

// TestDualCache_RealRedis_BackfillsLocalOnRemoteHit exercises the dual
// cache against a real Redis instance rather than miniredis, matching the
// teacher's own preference for a genuine distributed backend in at least
// one contract test per store. Skips when Docker is unavailable.
func TestDualCache_RealRedis_BackfillsLocalOnRemoteHit(t *testing.T) {
	client := setupRealRedisIfAvailable(t)
	if client == nil {
		t.Skip("docker not available, skipping real-redis dual cache test")
	}
	t.Cleanup(func() { _ = client.Close() })

	remote, err := NewRedisCacheWithClient(client, RedisConfig{Namespace: "dualtest", DefaultTTL: time.Minute})
	require.NoError(t, err)

	local := NewMemoryCache(DefaultMemoryConfig())
	dual := NewDualCache(local, remote, DefaultDualConfig())
	ctx := context.Background()

	require.NoError(t, dual.Set(ctx, "selection:claude-haiku", []byte("cached-response"), time.Minute))

	// Evict the local tier only, so a Get must cross to the real Redis
	// container and then backfill L1.
	require.NoError(t, local.Delete(ctx, "selection:claude-haiku"))

	val, err := dual.Get(ctx, "selection:claude-haiku")
	require.NoError(t, err)
	assert.Equal(t, []byte("cached-response"), val)

	backfilled, err := local.Get(ctx, "selection:claude-haiku")
	require.NoError(t, err)
	assert.Equal(t, []byte("cached-response"), backfilled, "a remote hit must backfill the local tier")

	stats := dual.Stats()
	assert.Equal(t, int64(1), stats.Hits)
}
