package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadDefault()
	require.NoError(t, err)
	require.Equal(t, 60, cfg.History.InitialCount)
	require.Equal(t, 200, cfg.History.PageSize)
	require.Equal(t, "bubble", cfg.Projection.Presentation)
	require.Equal(t, 100*time.Millisecond, cfg.Dispatch.ViewCountDelay)
	require.Equal(t, filepath.Join(cfg.Global.DataDir, "history.db"), cfg.DatabasePath())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
global:
  chat: support
history:
  page_size: 100
  max_window: 300
projection:
  presentation: list
  group_window: 2m
dispatch:
  mention_delay: 350ms
read_state:
  path: ~/state.json
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "support", cfg.Global.Chat)
	require.Equal(t, 100, cfg.History.PageSize)
	require.Equal(t, 300, cfg.History.MaxWindow)
	require.Equal(t, "list", cfg.Projection.Presentation)
	require.Equal(t, 2*time.Minute, cfg.Projection.GroupWindow)
	require.Equal(t, 350*time.Millisecond, cfg.Dispatch.MentionDelay)

	home, _ := os.UserHomeDir()
	require.Equal(t, filepath.Join(home, "state.json"), cfg.ReadStatePath())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
projection:
  presentation: list
`)
	t.Setenv("CHATHISTORY_PROJECTION_PRESENTATION", "bubble")
	t.Setenv("CHATHISTORY_HISTORY_PAGE_SIZE", "50")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "bubble", cfg.Projection.Presentation)
	require.Equal(t, 50, cfg.History.PageSize)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
projection:
  presentation: carousel
`)
	_, err := LoadFromFile(path)
	require.ErrorContains(t, err, "projection.presentation")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero page size", mutate: func(c *Config) { c.History.PageSize = 0 }, wantErr: true},
		{name: "window smaller than page", mutate: func(c *Config) { c.History.MaxWindow = 10 }, wantErr: true},
		{name: "no workers", mutate: func(c *Config) { c.Prefetch.Workers = 0 }, wantErr: true},
		{name: "tiny delay", mutate: func(c *Config) { c.Dispatch.MentionDelay = time.Millisecond }, wantErr: true},
		{name: "unknown theme", mutate: func(c *Config) { c.TUI.Theme = "neon" }, wantErr: true},
		{name: "light theme", mutate: func(c *Config) { c.TUI.Theme = "light" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Global.DataDir = filepath.Join(root, "data")
	cfg.Global.ConfigDir = filepath.Join(root, "conf")

	require.NoError(t, cfg.EnsureDirectories())
	require.DirExists(t, cfg.Global.DataDir)
	require.DirExists(t, cfg.Global.ConfigDir)
	require.Equal(t, filepath.Join(root, "conf", "positions.yaml"), cfg.PositionsPath())
}
