// Package paths resolves the platform-conventional directories used for
// persisted state: the database, managed worktrees, the instance lock, and
// user configuration.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// EnvDataDir overrides the data directory when set, for users who want
// state somewhere non-standard.
const EnvDataDir = "LOOM_DATA_DIR"

// DataDir returns the directory holding db.sqlite, worktrees/ and the
// instance lock, creating it if needed.
func DataDir() (string, error) {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir, os.MkdirAll(dir, 0o755)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	var dir string
	switch runtime.GOOS {
	case "darwin":
		dir = filepath.Join(home, "Library", "Application Support", "loom")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			dir = filepath.Join(xdg, "loom")
		} else {
			dir = filepath.Join(home, ".local", "share", "loom")
		}
	}
	return dir, os.MkdirAll(dir, 0o755)
}

// DatabasePath returns the path of the SQLite database file.
func DatabasePath(dataDir string) string {
	return filepath.Join(dataDir, "db.sqlite")
}

// WorktreesDir returns the directory that holds one worktree per session.
func WorktreesDir(dataDir string) string {
	return filepath.Join(dataDir, "worktrees")
}

// WorktreePath returns the managed worktree path for a session.
func WorktreePath(dataDir, sessionID string) string {
	return filepath.Join(WorktreesDir(dataDir), sessionID)
}

// LockPath returns the path of the single-instance lock file.
func LockPath(dataDir string) string {
	return filepath.Join(dataDir, "lock")
}

// ConfigDir returns the user configuration directory (~/.config/loom).
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "loom"), nil
}
