// Package config provides configuration management for brokersync.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Vendors  VendorConfig   `mapstructure:"vendors"`
	Security SecurityConfig `mapstructure:"security"`
}

// SecurityConfig holds credential vault settings. The master key is
// usually supplied through BROKERSYNC_SECURITY_MASTER_KEY rather than
// the config file.
type SecurityConfig struct {
	MasterKey string `mapstructure:"master_key"`
}

// DatabaseConfig holds persistence configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
	Path    string `mapstructure:"path"`
}

// SyncConfig holds synchronization configuration.
type SyncConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	Workers     int           `mapstructure:"workers"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// VendorConfig holds per-vendor API settings.
type VendorConfig struct {
	AngelOne VendorAPIConfig `mapstructure:"angelone"`
	Upstox   VendorAPIConfig `mapstructure:"upstox"`
}

// VendorAPIConfig holds one vendor's API endpoint settings.
type VendorAPIConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/brokersync"
	}
	return filepath.Join(home, ".config", "brokersync")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v, configDir)

	v.SetEnvPrefix("BROKERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config.toml: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("database.path", filepath.Join(configDir, "brokersync.db"))
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.path", filepath.Join(configDir, "logs", "brokersync.log"))
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.call_timeout", 30*time.Second)
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("vendors.angelone.base_url", "https://apiconnect.angelone.in")
	v.SetDefault("vendors.angelone.rate_per_second", 10)
	v.SetDefault("vendors.upstox.base_url", "https://api.upstox.com/v2")
	v.SetDefault("vendors.upstox.rate_per_second", 10)
	v.SetDefault("security.master_key", "")
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Sync.CallTimeout <= 0 {
		return fmt.Errorf("sync.call_timeout must be positive")
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be positive")
	}
	if c.Sync.Interval < time.Minute {
		return fmt.Errorf("sync.interval must be at least one minute")
	}
	return nil
}
