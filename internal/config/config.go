// Package config loads user configuration from ~/.config/loom/config.toml.
// A missing file means defaults; a malformed file is a startup error.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	apperrors "github.com/loomdev/loom/internal/errors"
	"github.com/loomdev/loom/internal/paths"
)

// Config holds user-tunable settings.
type Config struct {
	// DefaultAgent is the agent kind used for new sessions ("claude",
	// "gemini" or "codex").
	DefaultAgent string `toml:"default_agent"`
	// DefaultModel is passed to the agent adapter for new sessions.
	DefaultModel string `toml:"default_model"`
	// DefaultPermissionMode controls how aggressively agents may act.
	DefaultPermissionMode string `toml:"default_permission_mode"`
	// BranchPrefix is prepended to generated branch names.
	BranchPrefix string `toml:"branch_prefix"`
	// PRPollSeconds is the merge-poll cadence for sessions with an open PR.
	PRPollSeconds int `toml:"pr_poll_seconds"`
	// Notifications toggles desktop notifications on agent completion.
	Notifications bool `toml:"notifications"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		DefaultAgent:          "claude",
		DefaultModel:          "sonnet",
		DefaultPermissionMode: "suggest",
		BranchPrefix:          "loom",
		PRPollSeconds:         15,
		Notifications:         true,
	}
}

// PRPollInterval returns the poll cadence as a duration.
func (c *Config) PRPollInterval() time.Duration {
	if c.PRPollSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.PRPollSeconds) * time.Second
}

// Load reads config.toml from the user config directory. The file is
// optional.
func Load() (*Config, error) {
	dir, err := paths.ConfigDir()
	if err != nil {
		return Defaults(), nil
	}
	return LoadFrom(filepath.Join(dir, "config.toml"))
}

// LoadFrom reads configuration from an explicit path.
func LoadFrom(path string) (*Config, error) {
	const op = apperrors.Op("config.LoadFrom")

	cfg := Defaults()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, apperrors.E(op, apperrors.KindEnvironment, path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, apperrors.E(op, apperrors.KindInvalid, "malformed config.toml", err)
	}
	return cfg, nil
}
