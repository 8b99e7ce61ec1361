// Package config loads startup configuration from environment variables and
// an optional YAML file. Everything mutable at runtime lives in the settings
// table instead (internal/store).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all startup configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Media    MediaConfig    `mapstructure:"media"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// MediaConfig holds media library paths.
type MediaConfig struct {
	Root      string `mapstructure:"root"`
	ConfigDir string `mapstructure:"config_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults.
func Load(configPath string) (*Config, error) {
	// A .env next to the binary is a dev convenience only.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.sublarr")
	}

	v.SetEnvPrefix("SUBLARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks constraints that must hold before the process can start.
func (c *Config) Validate() error {
	if c.Media.Root == "" {
		return fmt.Errorf("media root is not configured (SUBLARR_MEDIA_ROOT)")
	}
	info, err := os.Stat(c.Media.Root)
	if err != nil {
		return fmt.Errorf("media root %q: %w", c.Media.Root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("media root %q is not a directory", c.Media.Root)
	}
	probe, err := os.CreateTemp(c.Media.Root, ".sublarr-write-check-*")
	if err != nil {
		return fmt.Errorf("media root %q is not writable: %w", c.Media.Root, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8555)
	v.SetDefault("server.api_key", "")

	v.SetDefault("database.path", "./data/sublarr.db")

	v.SetDefault("media.root", "")
	v.SetDefault("media.config_dir", "./data")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.path", "")
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
