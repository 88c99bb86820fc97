// Package config loads the alertd configuration from a TOML file and
// ALERTD_* environment variables. The resulting struct is built once at
// process start and handed to constructors; nothing reads the environment at
// call time.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the full alertd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	SQLite     SQLiteConfig     `koanf:"sqlite"`
	Logging    LoggingConfig    `koanf:"logging"`
	Expo       ExpoConfig       `koanf:"expo"`
	Twilio     TwilioConfig     `koanf:"twilio"`
	Reconciler ReconcilerConfig `koanf:"reconciler"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	ListenAddr   string        `koanf:"listen_addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// SQLiteConfig holds database settings.
type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `koanf:"level"` // info or debug
}

// ExpoConfig holds push provider settings. MaxBatchSize is the provider's
// hard per-request message limit.
type ExpoConfig struct {
	BaseURL      string        `koanf:"base_url"`
	AccessToken  string        `koanf:"access_token"`
	MaxBatchSize int           `koanf:"max_batch_size"`
	Timeout      time.Duration `koanf:"timeout"`
}

// TwilioConfig holds SMS provider settings.
type TwilioConfig struct {
	BaseURL    string        `koanf:"base_url"`
	AccountSID string        `koanf:"account_sid"`
	AuthToken  string        `koanf:"auth_token"`
	FromNumber string        `koanf:"from_number"`
	Timeout    time.Duration `koanf:"timeout"`
}

// ReconcilerConfig controls the receipt reconciler. CronSecret guards the
// HTTP poll endpoint. Schedule, when non-empty, runs the reconciler
// in-process on a cron expression; leave it empty when an external scheduler
// drives the endpoint instead.
type ReconcilerConfig struct {
	CronSecret string `koanf:"cron_secret"`
	Schedule   string `koanf:"schedule"`
}

// Default returns the configuration defaults applied before file and
// environment loading.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:   ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		SQLite: SQLiteConfig{
			Path: "alertd.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Expo: ExpoConfig{
			BaseURL:      "https://exp.host/--/api/v2",
			MaxBatchSize: 100,
			Timeout:      10 * time.Second,
		},
		Twilio: TwilioConfig{
			BaseURL: "https://api.twilio.com",
			Timeout: 10 * time.Second,
		},
	}
}

// Load reads configuration from the given TOML file (if it exists) and then
// overlays ALERTD_* environment variables (ALERTD_SERVER_LISTEN_ADDR ->
// server.listen_addr).
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("ALERTD_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "ALERTD_")), "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks the settings the server cannot run without.
func (c *Config) Validate() error {
	if c.SQLite.Path == "" {
		return fmt.Errorf("sqlite.path is required")
	}
	if c.Expo.MaxBatchSize <= 0 {
		return fmt.Errorf("expo.max_batch_size must be positive")
	}
	if c.Twilio.AccountSID != "" && c.Twilio.FromNumber == "" {
		return fmt.Errorf("twilio.from_number is required when twilio.account_sid is set")
	}
	return nil
}
