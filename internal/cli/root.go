// Package cli implements the chathistory command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tOgg1/chathistory/internal/config"
	"github.com/tOgg1/chathistory/internal/logging"
)

// annotationTUI marks commands that own the terminal; they log to a file.
const annotationTUI = "tui"

// Execute runs the root command until it finishes or the process is interrupted.
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd(version).ExecuteContext(ctx)
}

type rootFlags struct {
	configFile  string
	logLevel    string
	logFormat   string
	dbPath      string
	metricsAddr string
}

// app carries the loaded configuration through subcommands.
type app struct {
	flags   rootFlags
	cfg     *config.Config
	loader  *config.Loader
	logger  zerolog.Logger
	logFile *os.File
}

func newRootCmd(version string) *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "chathistory",
		Short:         "Browse chat history in the terminal",
		Long:          "chathistory opens a scrollable, incrementally loaded view over a chat's message history.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.flags.configFile, "config", "", "config file (default is $HOME/.config/chathistory/config.yaml)")
	flags.StringVar(&a.flags.logLevel, "log-level", "", "override logging level (debug, info, warn, error)")
	flags.StringVar(&a.flags.logFormat, "log-format", "", "override logging format (json, console)")
	flags.StringVar(&a.flags.dbPath, "db", "", "history database path")
	flags.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	cmd.AddCommand(
		newViewCmd(a),
		newReplayCmd(a),
		newSeedCmd(a),
		newStatsCmd(a),
		newVersionCmd(version),
	)
	return cmd
}

func (a *app) init(cmd *cobra.Command) error {
	loader := config.NewLoader()
	if a.flags.configFile != "" {
		loader.SetConfigFile(a.flags.configFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	// CLI flags take precedence over everything else.
	if a.flags.logLevel != "" {
		cfg.Logging.Level = a.flags.logLevel
	}
	if a.flags.logFormat != "" {
		cfg.Logging.Format = a.flags.logFormat
	}
	if a.flags.dbPath != "" {
		cfg.Database.Path = a.flags.dbPath
	}
	if a.flags.metricsAddr != "" {
		cfg.Metrics.Addr = a.flags.metricsAddr
	}

	var output io.Writer = cmd.ErrOrStderr()
	logFile := cfg.Logging.File
	if logFile == "" && cmd.Annotations[annotationTUI] == "true" && hasTTY() {
		logFile = filepath.Join(cfg.Global.DataDir, "chathistory.log")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		a.logFile = f
		output = f
	}

	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       output,
		NoColor:      a.logFile != nil,
		EnableCaller: cfg.Logging.EnableCaller,
	})
	a.cfg = cfg
	a.loader = loader
	a.logger = logging.Component("cli")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logging.WithContext(ctx, a.logger))

	if used := loader.ConfigFileUsed(); used != "" {
		a.logger.Debug().Str("config_file", used).Msg("loaded config file")
	}
	a.logger.Debug().
		Interface("settings", logging.RedactSettings(loader.Viper().AllSettings())).
		Msg("effective configuration")
	return nil
}

func (a *app) close() {
	if a.logFile != nil {
		_ = a.logFile.Close()
		a.logFile = nil
	}
}

// chatArg returns the chat named on the command line or the configured default.
func (a *app) chatArg(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return a.cfg.Global.Chat
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "chathistory %s\n", version)
			return err
		},
	}
}
