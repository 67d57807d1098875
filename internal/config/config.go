// Package config loads timebank settings from defaults, an optional YAML
// file and TIMEBANK_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix envconfig uses for environment overrides.
const EnvPrefix = "TIMEBANK"

// Config holds the settings shared by every command.
type Config struct {
	DatabasePath     string `yaml:"databasePath"     envconfig:"DATABASE_PATH"`
	LogLevel         string `yaml:"logLevel"         envconfig:"LOG_LEVEL"`
	LogFormat        string `yaml:"logFormat"        envconfig:"LOG_FORMAT"`
	MetricsAddr      string `yaml:"metricsAddr"      envconfig:"METRICS_ADDR"`
	SnapshotInterval int    `yaml:"snapshotInterval" envconfig:"SNAPSHOT_INTERVAL"`
	QueueWarn        int    `yaml:"queueWarn"        envconfig:"QUEUE_WARN"`
}

var (
	ValidLogLevels  = []string{"debug", "info", "warn", "error"}
	ValidLogFormats = []string{"text", "json"}
)

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		DatabasePath:     "timebank.db",
		LogLevel:         "info",
		LogFormat:        "text",
		MetricsAddr:      "",
		SnapshotInterval: 100,
		QueueWarn:        1000,
	}
}

// DefaultPath returns ~/.timebank/timebank.yaml, or "" when the home
// directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".timebank", "timebank.yaml")
}

// Load builds a Config. An explicit configFile must exist; when it is empty
// the default path is used if present.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile == "" {
		if p := DefaultPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				configFile = p
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", configFile, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("databasePath must not be empty"))
	}
	if !slices.Contains(ValidLogLevels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("invalid logLevel %q: must be one of %v", c.LogLevel, ValidLogLevels))
	}
	if !slices.Contains(ValidLogFormats, c.LogFormat) {
		errs = append(errs, fmt.Errorf("invalid logFormat %q: must be one of %v", c.LogFormat, ValidLogFormats))
	}
	if c.SnapshotInterval < 0 {
		errs = append(errs, fmt.Errorf("snapshotInterval must be >= 0, got %d", c.SnapshotInterval))
	}
	if c.QueueWarn < 0 {
		errs = append(errs, fmt.Errorf("queueWarn must be >= 0, got %d", c.QueueWarn))
	}
	return errors.Join(errs...)
}
