package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "CHATHISTORY"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// SetConfigFile sets an explicit config file path. A missing explicit file
// is an error; a missing file on the search path is not.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load resolves the configuration. Precedence, lowest first: defaults,
// config file, CHATHISTORY_* environment. Callers apply CLI flags on top.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	l.setup(cfg)

	if err := l.readConfigFile(); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// setup registers search paths, then a default and an explicitly bound
// environment variable per key. Unmarshal only sees nested env values for
// keys bound this way.
func (l *Loader) setup(cfg *Config) {
	v := l.v
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		v.AddConfigPath(filepath.Join(xdg, "chathistory"))
	}
	if home, _ := os.UserHomeDir(); home != "" {
		v.AddConfigPath(filepath.Join(home, ".config", "chathistory"))
	}
	v.AddConfigPath(".")

	for key, value := range defaults(cfg) {
		v.SetDefault(key, value)
		_ = v.BindEnv(key, envVarName(key))
	}
}

// defaults flattens cfg into Viper keys.
func defaults(cfg *Config) map[string]any {
	return map[string]any{
		"global.data_dir":   cfg.Global.DataDir,
		"global.config_dir": cfg.Global.ConfigDir,
		"global.chat":       cfg.Global.Chat,

		"database.path":            cfg.Database.Path,
		"database.busy_timeout_ms": cfg.Database.BusyTimeoutMs,

		"logging.level":         cfg.Logging.Level,
		"logging.format":        cfg.Logging.Format,
		"logging.file":          cfg.Logging.File,
		"logging.enable_caller": cfg.Logging.EnableCaller,

		"history.initial_count":     cfg.History.InitialCount,
		"history.page_size":         cfg.History.PageSize,
		"history.max_window":        cfg.History.MaxWindow,
		"history.pagination_margin": cfg.History.PaginationMargin,
		"history.restore_position":  cfg.History.RestorePosition,

		"projection.presentation":   cfg.Projection.Presentation,
		"projection.group_window":   cfg.Projection.GroupWindow,
		"projection.max_group_size": cfg.Projection.MaxGroupSize,
		"projection.unread_marker":  cfg.Projection.UnreadMarker,

		"prefetch.max_items": cfg.Prefetch.MaxItems,
		"prefetch.workers":   cfg.Prefetch.Workers,

		"dispatch.view_count_delay":        cfg.Dispatch.ViewCountDelay,
		"dispatch.unsupported_media_delay": cfg.Dispatch.UnsupportedMediaDelay,
		"dispatch.mention_delay":           cfg.Dispatch.MentionDelay,
		"dispatch.recent_ttl":              cfg.Dispatch.RecentTTL,
		"dispatch.recent_capacity":         cfg.Dispatch.RecentCapacity,

		"read_state.path":     cfg.ReadState.Path,
		"read_state.debounce": cfg.ReadState.Debounce,

		"tui.theme":           cfg.TUI.Theme,
		"tui.locale":          cfg.TUI.Locale,
		"tui.show_timestamps": cfg.TUI.ShowTimestamps,
		"tui.compact_mode":    cfg.TUI.CompactMode,

		"metrics.addr": cfg.Metrics.Addr,
	}
}

// envVarName maps history.page_size to CHATHISTORY_HISTORY_PAGE_SIZE.
func envVarName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func (l *Loader) readConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}
	err := l.v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

func expandPaths(cfg *Config) {
	for _, p := range []*string{
		&cfg.Global.DataDir,
		&cfg.Global.ConfigDir,
		&cfg.Database.Path,
		&cfg.Logging.File,
		&cfg.ReadState.Path,
	} {
		*p = expandTilde(*p)
	}
}

func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}

// ConfigFileUsed returns the config file that was loaded, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Viper returns the underlying Viper instance.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration from the default search paths.
func LoadDefault() (*Config, error) {
	return NewLoader().Load()
}
