package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"smart-roll-call/internal/config"
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:           "rollcall",
	Short:         "Wi-Fi presence attendance gateway and server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "config.json", "Path to the JSON runtime config")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format: text or json (overrides config)")
}

// loadConfig reads the config file, applies flag overrides and installs the
// process logger as the slog default.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.LogFormat = flagLogFormat
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("--log-level: %w", err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, nil, fmt.Errorf("--log-format must be text or json, got %q", cfg.LogFormat)
	}

	logger := config.NewLogger(os.Stderr, level, cfg.LogFormat)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
