package statedir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveHonorsEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvOverride, dir)

	d, err := Resolve()
	require.NoError(t, err)
	require.Equal(t, dir, d.Root)
	require.Equal(t, filepath.Join(dir, "logs"), d.Logs)
}

func TestEnsureCreatesLayout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	t.Setenv(EnvOverride, dir)

	d, err := Ensure()
	require.NoError(t, err)

	for _, p := range []string{d.Root, d.Logs, d.Exports, d.Cache} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestConfigAndSessionStatsPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvOverride, dir)

	d, err := Resolve()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "config.json"), d.ConfigPath())
	require.Equal(t, filepath.Join(dir, "session-stats.json"), d.SessionStatsPath())
}
