package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/use-agent/glimpse/config"
)

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "glimpse",
		Short:         "Render, extract and cache web pages and videos for agents",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override GLIMPSE_LOG_LEVEL (debug, info, warn, error)")

	loadConfig := func() *config.Config {
		cfg := config.Load()
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		initLogger(cfg.Log)
		return cfg
	}

	root.AddCommand(newServeCmd(loadConfig))
	root.AddCommand(newFetchCmd(loadConfig))
	return root
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	slog.SetDefault(slog.New(newLogHandler(cfg)))
}

func newLogHandler(cfg config.LogConfig) slog.Handler {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.NewJSONHandler(os.Stderr, opts)
}
