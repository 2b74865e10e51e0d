package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel          string        `yaml:"log_level" default:"info"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout" default:"10s"`
	UpdateTimeout     time.Duration `yaml:"update_timeout" default:"2s"`
	QueueCapacity     int           `yaml:"queue_capacity" default:"8"`

	// Sensors is set when the keymap has sensors; sensor events then count as activity.
	Sensors bool `yaml:"sensors" default:"false"`

	// SkipUnchanged avoids re-sending parameters a connection already holds.
	SkipUnchanged bool `yaml:"skip_unchanged" default:"false"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file. Missing fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.InactivityTimeout <= 0 {
		return fmt.Errorf("inactivity_timeout must be > 0, got %s", c.InactivityTimeout)
	}
	if c.UpdateTimeout <= 0 {
		return fmt.Errorf("update_timeout must be > 0, got %s", c.UpdateTimeout)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be > 0, got %d", c.QueueCapacity)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := c.Level()
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
