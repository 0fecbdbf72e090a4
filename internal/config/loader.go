package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"vouch/pkg/logging"
)

const (
	userConfigDir  = ".config/vouch"
	configFileName = "config.yaml"
)

// GetDefaultConfigPathOrPanic returns the user's vouch configuration
// directory.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}
	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads configuration from the specified directory: built-in
// defaults, overlaid by config.yaml when present, overlaid by VOUCH_*
// environment variables.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("error reading config from %s: %w", configFilePath, err)
		}
		logging.Info("Config", "No config.yaml found at %s, using defaults", configFilePath)
	} else {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Info("Config", "Loaded configuration from %s", configFilePath)
	}

	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("error applying environment overrides: %w", err)
	}

	return config, config.Validate()
}

// Validate rejects configurations no command could run with.
func (c Config) Validate() error {
	if c.Authority == "" {
		return fmt.Errorf("authority must not be empty")
	}
	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("httpTimeoutSeconds must be positive, got %d", c.HTTPTimeoutSeconds)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}
