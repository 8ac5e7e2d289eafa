// Package config loads service settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/TomasB/ipgeo/pkg/ipinfo"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the settings of the ipgeo service and CLI.
// Keys map one-to-one to upper-case environment variables.
type Config struct {
	Port     string `mapstructure:"port"      validate:"required,numeric"`
	GRPCPort string `mapstructure:"grpc_port" validate:"omitempty,numeric"`

	LogLevel  string `mapstructure:"log_level"  validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json text"`

	Token      string        `mapstructure:"ipinfo_token"`
	TokenFile  string        `mapstructure:"ipinfo_token_file"`
	BaseURL    string        `mapstructure:"ipinfo_base_url" validate:"required,url"`
	Timeout    time.Duration `mapstructure:"ipinfo_timeout"  validate:"gt=0"`
	CacheSize  int           `mapstructure:"cache_size"      validate:"gt=0"`
	MaxRetries int           `mapstructure:"max_retries"     validate:"gte=0,lte=10"`

	MMDBPath      string `mapstructure:"mmdb_path"`
	OfflineDBPath string `mapstructure:"offline_db_path"`
}

// DefaultViper returns a viper instance reading the environment with all
// defaults of Config set.
func DefaultViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("grpc_port", "9090")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("ipinfo_token", "")
	v.SetDefault("ipinfo_token_file", "")
	v.SetDefault("ipinfo_base_url", ipinfo.DefaultBaseURL)
	v.SetDefault("ipinfo_timeout", ipinfo.DefaultTimeout)
	v.SetDefault("cache_size", ipinfo.DefaultCacheSize)
	v.SetDefault("max_retries", 2)

	v.SetDefault("mmdb_path", "")
	v.SetDefault("offline_db_path", "")

	v.AutomaticEnv()
	return v
}

// Load reads .env files (if present) into the process environment and decodes
// the settings from v. A nil v uses DefaultViper.
func Load(v *viper.Viper, envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	if v == nil {
		v = DefaultViper()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the field constraints of c.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Client returns the ipinfo client settings of c.
func (c Config) Client() ipinfo.Config {
	return ipinfo.Config{
		Token:      c.Token,
		BaseURL:    c.BaseURL,
		Timeout:    c.Timeout,
		CacheSize:  c.CacheSize,
		MaxRetries: c.MaxRetries,
	}
}

// SlogLevel converts the configured log level to slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
