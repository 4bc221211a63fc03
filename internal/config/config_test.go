package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.DefaultAgent != "claude" {
		t.Errorf("default agent = %q", cfg.DefaultAgent)
	}
	if cfg.BranchPrefix != "loom" {
		t.Errorf("branch prefix = %q", cfg.BranchPrefix)
	}
	if cfg.PRPollInterval() != 15*time.Second {
		t.Errorf("poll interval = %v", cfg.PRPollInterval())
	}
	if !cfg.Notifications {
		t.Error("notifications should default on")
	}
}

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.DefaultAgent != "claude" {
		t.Errorf("agent = %q", cfg.DefaultAgent)
	}
}

func TestLoadFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
default_agent = "codex"
default_model = "o4"
branch_prefix = "wip"
pr_poll_seconds = 30
notifications = false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.DefaultAgent != "codex" || cfg.DefaultModel != "o4" {
		t.Errorf("agent/model = %q/%q", cfg.DefaultAgent, cfg.DefaultModel)
	}
	if cfg.BranchPrefix != "wip" {
		t.Errorf("branch prefix = %q", cfg.BranchPrefix)
	}
	if cfg.PRPollInterval() != 30*time.Second {
		t.Errorf("poll interval = %v", cfg.PRPollInterval())
	}
	if cfg.Notifications {
		t.Error("notifications should be off")
	}
	// Unset keys keep their defaults.
	if cfg.DefaultPermissionMode != "suggest" {
		t.Errorf("permission mode = %q", cfg.DefaultPermissionMode)
	}
}

func TestLoadFromMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("default_agent = ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("malformed config should error")
	}
}
