// Package config loads and validates configuration from YAML files and
// environment variables, with hot reload support.
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/dicom-sentinel/")
	viper.AddConfigPath("$HOME/.dicom-sentinel/")

	viper.SetEnvPrefix("SENTINEL")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, the defaults apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration.
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.Render.BitDepth != 8 && config.Render.BitDepth != 16 {
		return fmt.Errorf("invalid render bit depth: %d (must be 8 or 16)", config.Render.BitDepth)
	}

	if config.Render.Format != "png" && config.Render.Format != "jpeg" {
		return fmt.Errorf("invalid render format: %s (must be png or jpeg)", config.Render.Format)
	}

	if config.Render.HistogramBins <= 0 {
		return fmt.Errorf("invalid histogram bin count: %d", config.Render.HistogramBins)
	}

	if config.Batch.Workers < 0 {
		return fmt.Errorf("invalid batch worker count: %d", config.Batch.Workers)
	}

	switch config.Watch.Operation {
	case "anonymize", "render", "validate":
	default:
		return fmt.Errorf("invalid watch operation: %s (must be anonymize, render, or validate)", config.Watch.Operation)
	}

	return nil
}

// Watch starts watching the configuration file for changes.
func Watch(config *Config, callback func(*Config)) error {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := viper.Unmarshal(newConfig); err != nil {
			return
		}
		if err := validateConfig(newConfig); err != nil {
			return
		}
		callback(newConfig)
	})

	return nil
}
