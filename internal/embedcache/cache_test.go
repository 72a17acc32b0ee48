package embedcache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T, capacity int, ttl time.Duration) *Cache {
	t.Helper()
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "cache.db"), capacity, ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheMissThenHit(t *testing.T) {
	c := openTestCache(t, 16, 0)

	key := Key("voyage-code-3", "func add(a, b int) int { return a + b }")
	_, ok := c.Get(key)
	require.False(t, ok)

	vec := make([]float32, 1024)
	vec[0] = 0.5
	require.NoError(t, c.Put(key, vec))

	got, ok := c.Get(key)
	require.True(t, ok)
	require.Equal(t, vec, got)
}

func TestCacheKeyIgnoresWhitespaceDrift(t *testing.T) {
	k1 := Key("voyage-code-3", "line one\nline two")
	k2 := Key("voyage-code-3", "line one  \n  line two")
	require.Equal(t, k1, k2)
}

func TestCacheSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")

	c1, err := Open(path, 16, 0)
	require.NoError(t, err)
	key := Key("voyage-code-3", "persisted content")
	vec := []float32{1, 2, 3}
	require.NoError(t, c1.Put(key, vec))
	require.NoError(t, c1.Close())

	c2, err := Open(path, 16, 0)
	require.NoError(t, err)
	defer c2.Close()

	got, ok := c2.Get(key)
	require.True(t, ok)
	require.Equal(t, vec, got)
}

func TestCacheExpiry(t *testing.T) {
	c := openTestCache(t, 16, time.Millisecond)

	key := Key("voyage-code-3", "expiring content")
	require.NoError(t, c.Put(key, []float32{1}))

	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(key)
	require.False(t, ok)
}
