package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultIsMemory(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	_, ok := c.(*MemoryCache)
	assert.True(t, ok)
}

func TestNew_MemoryBackend(t *testing.T) {
	c, err := New(Config{Backend: BackendMemory, Memory: DefaultMemoryConfig()})
	require.NoError(t, err)
	_, ok := c.(*MemoryCache)
	assert.True(t, ok)
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(Config{Backend: "bogus"})
	assert.Error(t, err)
}

func TestNew_DualBackendFailsWithoutRedis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendDual
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Redis.DialTimeout = 50 * time.Millisecond
	_, err := New(cfg)
	assert.Error(t, err)
}
