// Package cli contains all bilicache commands.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bilicache/bilicache/internal/config"
	"github.com/bilicache/bilicache/internal/logging"
	"github.com/bilicache/bilicache/internal/rish"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"

	cfgFile  string
	logLevel string
	jsonLog  bool

	rootCmd = &cobra.Command{
		Use:   "bilicache",
		Short: "Extract Bilibili offline caches from an Android device",
		Long: `bilicache pulls offline video caches out of the Bilibili app's
private storage over a Shizuku rish shell, verifies them chunk by
chunk, and remuxes them into playable MP4 files.

The device side only needs the stock toybox shell utilities; no
daemon or byte-stream transport is required.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.config/bilicache/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "json-log", false, "emit JSON log records")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(pullAllCmd)
	rootCmd.AddCommand(errorsCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadEnv resolves config and builds the logger and device channel
// shared by every subcommand.
func loadEnv() (config.Config, *slog.Logger, rish.Channel, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if jsonLog {
		cfg.JSONLog = true
	}
	log := logging.NewWithWriter(os.Stderr, "bilicache", cfg.LogLevel, cfg.JSONLog)
	ch := rish.NewExecutor(cfg.Rish.BinPath, cfg.Rish.AppID)
	return cfg, log, ch, nil
}
