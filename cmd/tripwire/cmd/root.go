package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/tripwire/internal/core/config"
	"github.com/solatis/tripwire/internal/core/logging"
)

const Version = "0.1.0"

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:          "tripwire",
	Short:        "Condition monitoring and run orchestration engine",
	Long:         `tripwire watches webhooks and contract events, evaluates conditional logic over them and fires actions through a remote executor.`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "archive database URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads file and environment, then applies persistent flags
// the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db-url") {
		cfg.DB.URL = dbURL
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	return logger, nil
}
