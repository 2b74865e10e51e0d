package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/splitlink/pkg/config"
)

// loadConfig reads --config if given, otherwise the defaults, and applies
// --log-level on top. The result is validated.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()

	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	// --log-level takes precedence over the file
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configureLogger creates the logger for a command; it writes to the command's stderr.
func configureLogger(cmd *cobra.Command, cfg *config.Config) *logrus.Logger {
	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return logger
}
