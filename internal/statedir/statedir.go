// Package statedir manages the scanner's on-disk state directory layout:
// <home>/.minecraft-scanner/{logs,exports,cache,config.json,session-stats.json},
// per spec.md §6.
package statedir

import (
	"os"
	"path/filepath"
)

// EnvOverride is the environment variable that overrides the default
// state directory location, for tests and containerized deployments.
const EnvOverride = "MCSCAN_STATE_DIR"

const dirName = ".minecraft-scanner"

// Dir is the resolved layout of a scanner state directory.
type Dir struct {
	Root    string
	Logs    string
	Exports string
	Cache   string
}

// Resolve returns the state directory layout without creating anything:
// $MCSCAN_STATE_DIR if set, otherwise <home>/.minecraft-scanner.
func Resolve() (Dir, error) {
	root := os.Getenv(EnvOverride)
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Dir{}, err
		}
		root = filepath.Join(home, dirName)
	}
	return Dir{
		Root:    root,
		Logs:    filepath.Join(root, "logs"),
		Exports: filepath.Join(root, "exports"),
		Cache:   filepath.Join(root, "cache"),
	}, nil
}

// Ensure creates the directory layout if it does not already exist.
func Ensure() (Dir, error) {
	d, err := Resolve()
	if err != nil {
		return Dir{}, err
	}
	for _, dir := range []string{d.Root, d.Logs, d.Exports, d.Cache} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return Dir{}, err
		}
	}
	return d, nil
}

// ConfigPath returns the path to config.json within the state directory.
func (d Dir) ConfigPath() string {
	return filepath.Join(d.Root, "config.json")
}

// SessionStatsPath returns the path to session-stats.json within the
// state directory.
func (d Dir) SessionStatsPath() string {
	return filepath.Join(d.Root, "session-stats.json")
}

// GeoCachePath returns the path to the geolocation resolver's persisted
// hostname/country lookup cache, within the cache/ subdirectory.
func (d Dir) GeoCachePath() string {
	return filepath.Join(d.Cache, "geoip-lookups.json")
}
