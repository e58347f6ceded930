// Package config loads console configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/unnet/isp-console/pkg/utilities"
)

// Store drivers accepted in STORE_DRIVER.
const (
	DriverFile     = "file"
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config holds all console configuration.
type Config struct {
	// Remote site API
	APIBaseURL    string        `envconfig:"API_BASE_URL" default:"http://localhost:9000/api"`
	APITimeout    time.Duration `envconfig:"API_TIMEOUT" default:"10s"`
	APISigningKey string        `envconfig:"API_SIGNING_KEY"`

	// Login gate
	AdminPassword     string        `envconfig:"ADMIN_PASSWORD"`
	AdminPasswordHash string        `envconfig:"ADMIN_PASSWORD_HASH"`
	LockoutMaxFailed  int           `envconfig:"LOCKOUT_MAX_FAILED" default:"3"`
	LockoutDuration   time.Duration `envconfig:"LOCKOUT_DURATION" default:"5m"`
	SaveBadgeWindow   time.Duration `envconfig:"SAVE_BADGE_WINDOW" default:"2s"`

	// Durable client state
	StoreDriver    string `envconfig:"STORE_DRIVER" default:"file"`
	StoreFile      string `envconfig:"STORE_FILE" default:".console-state.json"`
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	RedisURL       string `envconfig:"REDIS_URL"`
	StoreKeyPrefix string `envconfig:"STORE_KEY_PREFIX" default:"isp-console:"`

	// Ops endpoint; empty disables it
	OpsAddr string `envconfig:"OPS_ADDR"`

	// Logging
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	LogDev          bool          `envconfig:"LOG_DEV" default:"false"`
	LogFile         string        `envconfig:"LOG_FILE"`
	LogFileMaxAge   time.Duration `envconfig:"LOG_FILE_MAX_AGE" default:"168h"`
	LogFileRotation time.Duration `envconfig:"LOG_FILE_ROTATION" default:"24h"`

	SnowflakeNode int64 `envconfig:"SNOWFLAKE_NODE" default:"1"`
}

// Load reads a .env file if present, then the process environment.
func Load() (*Config, error) {
	// best-effort: no .env is fine
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.AdminPassword == "" && c.AdminPasswordHash == "" {
		return errors.New("ADMIN_PASSWORD or ADMIN_PASSWORD_HASH is required")
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("API_BASE_URL %q is not an absolute URL", c.APIBaseURL)
	}
	if c.LockoutMaxFailed <= 0 {
		return errors.New("LOCKOUT_MAX_FAILED must be > 0")
	}
	if c.LockoutDuration <= 0 {
		return errors.New("LOCKOUT_DURATION must be > 0")
	}
	if c.SaveBadgeWindow < 0 {
		return errors.New("SAVE_BADGE_WINDOW must not be negative")
	}
	switch c.StoreDriver {
	case DriverFile:
		if c.StoreFile == "" {
			return errors.New("STORE_FILE is required for the file store")
		}
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case DriverRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	return nil
}

// LogConfig returns the logger settings.
func (c *Config) LogConfig() utilities.LogConfig {
	return utilities.LogConfig{
		Level:    c.LogLevel,
		Dev:      c.LogDev,
		File:     c.LogFile,
		MaxAge:   c.LogFileMaxAge,
		Rotation: c.LogFileRotation,
	}
}
