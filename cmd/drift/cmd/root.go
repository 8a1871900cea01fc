// Package cmd implements the CLI commands for drift.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/driftserve/drift/internal/config"
	"github.com/driftserve/drift/internal/observability"
	"github.com/driftserve/drift/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "drift",
	Short:   "Media playback delivery service",
	Version: version.Short(),
	Long: `drift decides how media reaches each client: direct play when the
client can handle the file as-is, remux or audio-only transcode when the
container or a single track is the problem, and full HLS transcode as the
last resort.

It probes media with ffprobe, resolves client capabilities from the
User-Agent, plans the cheapest viable delivery, and supervises the ffmpeg
processes that carry it out.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// Logging is configured before any subcommand runs so startup errors
	// are reported through the structured logger.
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Accept underscores in flag names so --log_level works too.
	rootCmd.PersistentFlags().SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	// These flags are applied on top of config/env values only when
	// explicitly set, preserving CLI flag > env var > config > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/drift, $HOME/.drift)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initLogging configures the default slog logger. Level and format come
// from DRIFT_LOGGING_LEVEL / DRIFT_LOGGING_FORMAT or the config file,
// overridden by --log-level / --log-format when explicitly given.
func initLogging() error {
	level := os.Getenv("DRIFT_LOGGING_LEVEL")
	format := os.Getenv("DRIFT_LOGGING_FORMAT")

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "json"
	}

	logCfg := config.LoggingConfig{
		Level:  strings.ToLower(level),
		Format: strings.ToLower(format),
	}
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	slog.SetDefault(observability.NewLoggerWithWriter(logCfg, os.Stderr))
	return nil
}
