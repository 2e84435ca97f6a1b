package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadReturnsEmptyCacheWhenFileMissing(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	require.True(t, c.IsEmpty())
}

func TestLoadToleratesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	require.True(t, c.IsEmpty())
}

func TestPutThenGetRoundTrips(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "cache.json"))
	require.NoError(t, err)

	c.Put("203.0.113.10", "Germany", 0)
	country, ok := c.Get("203.0.113.10")
	require.True(t, ok)
	require.Equal(t, "Germany", country)

	_, ok = c.Get("203.0.113.11")
	require.False(t, ok)
}

func TestSaveThenLoadRoundTripsAcrossProcesses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	c, err := Load(path)
	require.NoError(t, err)
	c.Put("198.51.100.5", "France", 0)
	require.NoError(t, c.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	country, ok := reloaded.Get("198.51.100.5")
	require.True(t, ok)
	require.Equal(t, "France", country)
}

func TestPutTrimsToMaxCountByRecency(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "cache.json"))
	require.NoError(t, err)

	c.Put("10.0.0.1", "A", 2)
	c.Put("10.0.0.2", "B", 2)
	c.Put("10.0.0.3", "C", 2)

	require.Equal(t, 2, c.Len())
	_, ok := c.Get("10.0.0.1")
	require.False(t, ok, "oldest entry should have been trimmed")
	_, ok = c.Get("10.0.0.3")
	require.True(t, ok)
}

func TestClearEmptiesCache(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "cache.json"))
	require.NoError(t, err)
	c.Put("10.0.0.1", "A", 0)
	require.Equal(t, 1, c.Len())

	c.Clear()
	require.True(t, c.IsEmpty())
}
