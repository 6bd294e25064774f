// Package config handles chathistory configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure for chathistory.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Database settings
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// History window settings
	History HistoryConfig `yaml:"history" mapstructure:"history"`

	// Projection settings
	Projection ProjectionConfig `yaml:"projection" mapstructure:"projection"`

	// Media prefetch settings
	Prefetch PrefetchConfig `yaml:"prefetch" mapstructure:"prefetch"`

	// Throttled acknowledgement settings
	Dispatch DispatchConfig `yaml:"dispatch" mapstructure:"dispatch"`

	// Read state persistence
	ReadState ReadStateConfig `yaml:"read_state" mapstructure:"read_state"`

	// TUI settings
	TUI TUIConfig `yaml:"tui" mapstructure:"tui"`

	// Metrics endpoint
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// GlobalConfig contains global settings.
type GlobalConfig struct {
	// DataDir is where chathistory stores its data (default: ~/.local/share/chathistory).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/chathistory).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`

	// Chat is the chat opened when none is given on the command line.
	Chat string `yaml:"chat" mapstructure:"chat"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`

	// BusyTimeout is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path. The TUI logs here instead of stderr.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// HistoryConfig sizes the loaded window.
type HistoryConfig struct {
	// InitialCount is the number of entries loaded when a view opens.
	InitialCount int `yaml:"initial_count" mapstructure:"initial_count"`

	// PageSize is the number of entries fetched per extension.
	PageSize int `yaml:"page_size" mapstructure:"page_size"`

	// MaxWindow bounds the entries kept in memory.
	MaxWindow int `yaml:"max_window" mapstructure:"max_window"`

	// PaginationMargin is how close to a loaded edge the next page is requested.
	PaginationMargin int `yaml:"pagination_margin" mapstructure:"pagination_margin"`

	// RestorePosition reopens each chat where it was left.
	RestorePosition bool `yaml:"restore_position" mapstructure:"restore_position"`
}

// ProjectionConfig selects how history is turned into display entries.
type ProjectionConfig struct {
	// Presentation is "bubble" (grouped, oldest first) or "list" (flat, newest first).
	Presentation string `yaml:"presentation" mapstructure:"presentation"`

	// GroupWindow is the maximum gap between grouped messages.
	GroupWindow time.Duration `yaml:"group_window" mapstructure:"group_window"`

	// MaxGroupSize caps the number of messages per group.
	MaxGroupSize int `yaml:"max_group_size" mapstructure:"max_group_size"`

	// UnreadMarker shows the unread separator in bubble presentation.
	UnreadMarker bool `yaml:"unread_marker" mapstructure:"unread_marker"`
}

// PrefetchConfig tunes media prefetching.
type PrefetchConfig struct {
	// MaxItems caps the candidates per direction.
	MaxItems int `yaml:"max_items" mapstructure:"max_items"`

	// Workers bounds concurrent media fetches.
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// DispatchConfig tunes the throttled acknowledgement batches.
type DispatchConfig struct {
	ViewCountDelay        time.Duration `yaml:"view_count_delay" mapstructure:"view_count_delay"`
	UnsupportedMediaDelay time.Duration `yaml:"unsupported_media_delay" mapstructure:"unsupported_media_delay"`
	MentionDelay          time.Duration `yaml:"mention_delay" mapstructure:"mention_delay"`

	// RecentTTL is how long a flushed id is not sent again.
	RecentTTL time.Duration `yaml:"recent_ttl" mapstructure:"recent_ttl"`

	// RecentCapacity bounds the recently flushed id memory.
	RecentCapacity int `yaml:"recent_capacity" mapstructure:"recent_capacity"`
}

// ReadStateConfig contains read state persistence settings.
type ReadStateConfig struct {
	// Path is the read state file (default: ConfigDir/read_state.json).
	Path string `yaml:"path" mapstructure:"path"`

	// Debounce delays writes after a read index advance.
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
}

// TUIConfig contains TUI settings.
type TUIConfig struct {
	// Theme is the color theme (default, dark, light).
	Theme string `yaml:"theme" mapstructure:"theme"`

	// Locale selects date formatting (en, iso).
	Locale string `yaml:"locale" mapstructure:"locale"`

	// ShowTimestamps shows timestamps in the UI.
	ShowTimestamps bool `yaml:"show_timestamps" mapstructure:"show_timestamps"`

	// CompactMode uses a more compact layout.
	CompactMode bool `yaml:"compact_mode" mapstructure:"compact_mode"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	// Addr is the listen address of /metrics; empty disables the endpoint.
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "chathistory"),
			ConfigDir: filepath.Join(homeDir, ".config", "chathistory"),
			Chat:      "general",
		},
		Database: DatabaseConfig{
			Path:          "", // Will be set to DataDir/history.db
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		History: HistoryConfig{
			InitialCount:     60,
			PageSize:         200,
			MaxWindow:        600,
			PaginationMargin: 5,
			RestorePosition:  true,
		},
		Projection: ProjectionConfig{
			Presentation: "bubble",
			GroupWindow:  5 * time.Minute,
			MaxGroupSize: 10,
			UnreadMarker: true,
		},
		Prefetch: PrefetchConfig{
			MaxItems: 3,
			Workers:  2,
		},
		Dispatch: DispatchConfig{
			ViewCountDelay:        100 * time.Millisecond,
			UnsupportedMediaDelay: 100 * time.Millisecond,
			MentionDelay:          200 * time.Millisecond,
			RecentTTL:             5 * time.Minute,
			RecentCapacity:        1024,
		},
		ReadState: ReadStateConfig{
			Debounce: 500 * time.Millisecond,
		},
		TUI: TUIConfig{
			Theme:          "default",
			Locale:         "en",
			ShowTimestamps: true,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.History.InitialCount < 1 {
		return fmt.Errorf("history.initial_count must be at least 1")
	}
	if c.History.PageSize < 1 {
		return fmt.Errorf("history.page_size must be at least 1")
	}
	if c.History.MaxWindow < c.History.PageSize {
		return fmt.Errorf("history.max_window must be at least history.page_size")
	}
	if c.History.PaginationMargin < 1 {
		return fmt.Errorf("history.pagination_margin must be at least 1")
	}

	switch c.Projection.Presentation {
	case "bubble", "list":
		// ok
	default:
		return fmt.Errorf("projection.presentation must be one of bubble, list")
	}
	if c.Projection.MaxGroupSize < 1 {
		return fmt.Errorf("projection.max_group_size must be at least 1")
	}

	if c.Prefetch.MaxItems < 0 {
		return fmt.Errorf("prefetch.max_items must not be negative")
	}
	if c.Prefetch.Workers < 1 {
		return fmt.Errorf("prefetch.workers must be at least 1")
	}

	for key, d := range map[string]time.Duration{
		"dispatch.view_count_delay":        c.Dispatch.ViewCountDelay,
		"dispatch.unsupported_media_delay": c.Dispatch.UnsupportedMediaDelay,
		"dispatch.mention_delay":           c.Dispatch.MentionDelay,
	} {
		if d < 10*time.Millisecond {
			return fmt.Errorf("%s must be at least 10ms", key)
		}
	}

	switch c.TUI.Theme {
	case "default", "dark", "light":
		// ok
	default:
		return fmt.Errorf("tui.theme must be one of default, dark, light")
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Global.DataDir, c.Global.ConfigDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the full database path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Global.DataDir, "history.db")
}

// ReadStatePath returns the read state file path.
func (c *Config) ReadStatePath() string {
	if c.ReadState.Path != "" {
		return c.ReadState.Path
	}
	return filepath.Join(c.Global.ConfigDir, "read_state.json")
}

// PositionsPath returns the saved scroll positions file path.
func (c *Config) PositionsPath() string {
	return filepath.Join(c.Global.ConfigDir, "positions.yaml")
}
