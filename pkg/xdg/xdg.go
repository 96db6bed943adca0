// Package xdg resolves dsr's on-disk layout per spec.md §6: a config, state,
// and cache directory, each overridable by a dsr-specific environment
// variable and falling back to the standard XDG_* variables before a final
// hardcoded default under $HOME.
package xdg

import (
	"os"
	"path/filepath"
)

// Dirs is the resolved set of on-disk roots for one dsr invocation.
type Dirs struct {
	Config string
	State  string
	Cache  string
}

// Resolve computes Dirs from the environment, the way spec.md §6 describes:
// DSR_CONFIG_DIR/DSR_STATE_DIR/DSR_CACHE_DIR take precedence, then
// XDG_CONFIG_HOME/XDG_STATE_HOME/XDG_CACHE_HOME, then a dsr-specific
// subdirectory of $HOME.
func Resolve() Dirs {
	home, _ := os.UserHomeDir()
	return Dirs{
		Config: firstNonEmpty(
			os.Getenv("DSR_CONFIG_DIR"),
			joinIfSet(os.Getenv("XDG_CONFIG_HOME"), "dsr"),
			filepath.Join(home, ".config", "dsr"),
		),
		State: firstNonEmpty(
			os.Getenv("DSR_STATE_DIR"),
			joinIfSet(os.Getenv("XDG_STATE_HOME"), "dsr"),
			filepath.Join(home, ".local", "state", "dsr"),
		),
		Cache: firstNonEmpty(
			os.Getenv("DSR_CACHE_DIR"),
			joinIfSet(os.Getenv("XDG_CACHE_HOME"), "dsr"),
			filepath.Join(home, ".cache", "dsr"),
		),
	}
}

// HealthCachePath returns the path to a host's cached health probe result.
func (d Dirs) HealthCachePath(hostID string) string {
	return filepath.Join(d.Cache, "health", hostID+".json")
}

// InstallerCachePath returns the offline-mode installer cache path for a
// tool's asset.
func (d Dirs) InstallerCachePath(tool, filename string) string {
	return filepath.Join(d.Cache, "installers", tool, filename)
}

// BuildStatePath returns the state.json path for a specific run.
func (d Dirs) BuildStatePath(tool, version, runID string) string {
	return filepath.Join(d.State, "builds", tool, version, runID, "state.json")
}

// BuildLatestLinkPath returns the "latest" pointer path for a (tool,
// version) pair.
func (d Dirs) BuildLatestLinkPath(tool, version string) string {
	return filepath.Join(d.State, "builds", tool, version, "latest")
}

// ArtifactsDir returns the root directory for a (tool, version) build's
// artifacts.
func (d Dirs) ArtifactsDir(tool, version string) string {
	return filepath.Join(d.State, "artifacts", tool, version)
}

// ManifestPath returns the persisted manifest path for a (tool, version)
// build.
func (d Dirs) ManifestPath(tool, version string) string {
	return filepath.Join(d.State, "manifests", tool+"-"+version+".json")
}

// LogPath returns today's log file path and its "latest" symlink path.
func (d Dirs) LogPath(day string) (logFile, latestLink string) {
	return filepath.Join(d.State, "logs", day, "run.log"), filepath.Join(d.State, "logs", "latest")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func joinIfSet(base, suffix string) string {
	if base == "" {
		return ""
	}
	return filepath.Join(base, suffix)
}
