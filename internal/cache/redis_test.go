package cache_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holmesproxy/alert-core/internal/cache"
)

func setupTestCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cache.NewFromClient(client, nil), mr
}

func TestGetMiss(t *testing.T) {
	c, _ := setupTestCache(t)
	_, ok, err := c.Get(t.Context(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetThenGet(t *testing.T) {
	c, _ := setupTestCache(t)
	require.NoError(t, c.Set(t.Context(), "k1", "v1", time.Minute))

	val, ok, err := c.Get(t.Context(), "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", val)
}

func TestSetRespectsTTL(t *testing.T) {
	c, mr := setupTestCache(t)
	require.NoError(t, c.Set(t.Context(), "k1", "v1", time.Second))
	mr.FastForward(2 * time.Second)

	_, ok, err := c.Get(t.Context(), "k1")
	require.NoError(t, err)
	assert.False(t, ok, "expired key must read as a miss")
}

func TestDelete(t *testing.T) {
	c, _ := setupTestCache(t)
	require.NoError(t, c.Set(t.Context(), "k1", "v1", time.Minute))
	require.NoError(t, c.Delete(t.Context(), "k1"))

	_, ok, err := c.Get(t.Context(), "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteAbsentKeyIsNotAnError(t *testing.T) {
	c, _ := setupTestCache(t)
	assert.NoError(t, c.Delete(t.Context(), "never-existed"))
}
