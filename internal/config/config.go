// Package config loads row-store service configuration from an optional
// YAML file plus SYNC_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the row-store service configuration.
type Config struct {
	Addr           string        `mapstructure:"addr"`
	DSN            string        `mapstructure:"dsn"`
	JWTKey         string        `mapstructure:"jwt_key"`
	AccessTTL      time.Duration `mapstructure:"access_ttl"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`

	Limiter LimiterConfig `mapstructure:"limiter"`
}

// LimiterConfig tunes the sign-in rate limiter.
type LimiterConfig struct {
	Window   time.Duration `mapstructure:"window"`
	MaxFails int           `mapstructure:"max_fails"`
	BlockFor time.Duration `mapstructure:"block_for"`
}

// Load reads configuration from path (optional; empty means env only).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("addr", ":8080")
	// Registering every key as a default is what lets AutomaticEnv feed
	// Unmarshal; viper only consults env vars for keys it knows about.
	v.SetDefault("dsn", "")
	v.SetDefault("jwt_key", "")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("access_ttl", 15*time.Minute)
	v.SetDefault("limiter.window", 15*time.Minute)
	v.SetDefault("limiter.max_fails", 5)
	v.SetDefault("limiter.block_for", 15*time.Minute)

	v.SetEnvPrefix("SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.DSN == "" {
		return nil, errors.New("dsn is required (SYNC_DSN or config file)")
	}
	if cfg.JWTKey == "" {
		return nil, errors.New("jwt signing key is required (SYNC_JWT_KEY or config file)")
	}
	return &cfg, nil
}
