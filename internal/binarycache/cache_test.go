package binarycache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetSet(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("key1", []byte("value1"), 5*time.Minute)

	val, ok := c.Get("key1")
	require.True(t, ok)
	assert.Equal(t, []byte("value1"), val)

	_, ok = c.Get("nonexistent")
	assert.False(t, ok)
}

func TestMemoryCache_NegativeEntry(t *testing.T) {
	c := NewMemoryCache(0)
	c.Set("gone", nil, time.Minute)

	val, ok := c.Get("gone")
	assert.True(t, ok)
	assert.Nil(t, val)
}

func TestMemoryCache_Expiration(t *testing.T) {
	c := NewMemoryCache(0)
	c.Set("shortlived", []byte("v"), 50*time.Millisecond)

	_, ok := c.Get("shortlived")
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)

	_, ok = c.Get("shortlived")
	assert.False(t, ok, "expected key to be expired")
}

func TestMemoryCache_Janitor(t *testing.T) {
	c := NewMemoryCache(20 * time.Millisecond)
	defer c.Close()

	c.Set("a", []byte("1"), 10*time.Millisecond)
	c.Set("b", []byte("2"), time.Hour)

	assert.Eventually(t, func() bool {
		return c.Stats().CurrentSize == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache(0)
	c.Set("key1", []byte("value1"), time.Minute)
	c.Delete("key1")

	_, ok := c.Get("key1")
	assert.False(t, ok)
}

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, newRedisCache(client, "", zerolog.Nop())
}

func TestRedisCache_SetGet(t *testing.T) {
	mr, c := setupMiniRedis(t)

	c.Set("abc", []byte("StorePath: /nix/store/x\n"), 5*time.Minute)

	val, ok := c.Get("abc")
	require.True(t, ok)
	assert.Equal(t, "StorePath: /nix/store/x\n", string(val))
	assert.True(t, mr.Exists("narci:narinfo:abc"))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 1, stats.CurrentSize)
}

func TestRedisCache_NegativeEntry(t *testing.T) {
	_, c := setupMiniRedis(t)

	c.Set("missing", nil, time.Minute)
	val, ok := c.Get("missing")
	assert.True(t, ok)
	assert.Nil(t, val)
}

func TestRedisCache_Expiration(t *testing.T) {
	mr, c := setupMiniRedis(t)

	c.Set("k", []byte("v"), time.Minute)
	mr.FastForward(2 * time.Minute)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestRedisCache_Delete(t *testing.T) {
	_, c := setupMiniRedis(t)

	c.Set("k", []byte("v"), time.Minute)
	c.Delete("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestClientHealthCheck(t *testing.T) {
	mr, rc := setupMiniRedis(t)
	c := NewClient("http://127.0.0.1:1", WithLogger(zerolog.Nop()), WithCache(rc, time.Hour, time.Minute))
	require.NoError(t, c.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, c.HealthCheck(context.Background()))

	mem := NewClient("http://127.0.0.1:1", WithCache(NewMemoryCache(0), time.Hour, time.Minute))
	assert.NoError(t, mem.HealthCheck(context.Background()))
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	_, err := NewRedisCache(RedisConfig{Addr: "127.0.0.1:1"}, zerolog.Nop())
	assert.Error(t, err)
}
