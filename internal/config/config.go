// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Store drivers for the message log.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// Config holds all application configuration.
type Config struct {
	Port           string        `envconfig:"PORT" default:"5000"`
	AppEnv         string        `envconfig:"APP_ENV"`
	FrontendURL    string        `envconfig:"FRONTEND_URL" default:"http://localhost:3000"`
	DBPath         string        `envconfig:"DB_PATH" default:"./data/chatrelay.db"`
	StoreDriver    string        `envconfig:"STORE_DRIVER" default:"sqlite"`
	BadgerDir      string        `envconfig:"BADGER_DIR" default:"./data/messages"`
	JWTSecret      string        `envconfig:"JWT_SECRET"`
	TokenTTL       time.Duration `envconfig:"TOKEN_TTL" default:"1h"`
	GRPCHealthAddr string        `envconfig:"GRPC_HEALTH_ADDR"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`

	Fallback FallbackConfig `envconfig:"FALLBACK"`
}

// FallbackConfig configures the automated responder used for busy recipients.
// Variables are prefixed with FALLBACK_.
type FallbackConfig struct {
	URL     string        `envconfig:"URL"`
	APIKey  string        `envconfig:"API_KEY"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"10s"`
	// Message replaces the built-in reply when the responder has none.
	Message string `envconfig:"MESSAGE"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET cannot be empty")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be > 0")
	}
	switch c.StoreDriver {
	case DriverSQLite:
	case DriverBadger:
		if c.BadgerDir == "" {
			return fmt.Errorf("BADGER_DIR cannot be empty when STORE_DRIVER=badger")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverSQLite, DriverBadger, c.StoreDriver)
	}
	if c.Fallback.URL != "" && c.Fallback.Timeout <= 0 {
		return fmt.Errorf("FALLBACK_TIMEOUT must be > 0")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LOG_LEVEL.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if c.AppEnv != "" {
		return c.AppEnv == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}
