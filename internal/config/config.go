// Package config loads service configuration from a YAML file with
// environment overrides. A .env file, if present, is folded into the
// environment first.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface of the identity service.
type Config struct {
	Env string `yaml:"env"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	JWT struct {
		// Secret is required: without it the service refuses to start
		// issuing tokens at all.
		Secret                       string `yaml:"secret"`
		Issuer                       string `yaml:"issuer"`
		Audience                     string `yaml:"audience"`
		AccessTokenExpirationMinutes int    `yaml:"access_token_expiration_minutes"`
		RefreshTokenExpirationDays   int    `yaml:"refresh_token_expiration_days"`
	} `yaml:"jwt"`

	Lockout struct {
		MaxFailedAttempts int    `yaml:"max_failed_attempts"`
		Duration          string `yaml:"duration"`
	} `yaml:"lockout"`

	RateLimit struct {
		Burst     int `yaml:"burst"`
		PerSecond int `yaml:"per_second"`
	} `yaml:"rate_limit"`
}

// Load reads path (optional) and applies environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{Env: "dev"}
	cfg.Server.Addr = ":8080"
	cfg.JWT.Issuer = "govdesk"
	cfg.JWT.Audience = "govdesk-backoffice"
	cfg.JWT.AccessTokenExpirationMinutes = 15
	cfg.JWT.RefreshTokenExpirationDays = 7
	cfg.Lockout.MaxFailedAttempts = 5
	cfg.Lockout.Duration = "30m"
	cfg.RateLimit.Burst = 10
	cfg.RateLimit.PerSecond = 5
	return cfg
}

func applyEnv(cfg *Config) {
	setString(&cfg.Env, "GOVDESK_ENV")
	setString(&cfg.Server.Addr, "GOVDESK_ADDR")
	setString(&cfg.Database.DSN, "GOVDESK_PG_DSN")
	setString(&cfg.JWT.Secret, "GOVDESK_JWT_SECRET")
	setString(&cfg.JWT.Issuer, "GOVDESK_JWT_ISSUER")
	setString(&cfg.JWT.Audience, "GOVDESK_JWT_AUDIENCE")
	setInt(&cfg.JWT.AccessTokenExpirationMinutes, "GOVDESK_JWT_ACCESS_MINUTES")
	setInt(&cfg.JWT.RefreshTokenExpirationDays, "GOVDESK_JWT_REFRESH_DAYS")
	setInt(&cfg.Lockout.MaxFailedAttempts, "GOVDESK_LOCKOUT_MAX_ATTEMPTS")
	setString(&cfg.Lockout.Duration, "GOVDESK_LOCKOUT_DURATION")
}

// AccessTokenTTL returns the configured access token lifetime.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.JWT.AccessTokenExpirationMinutes) * time.Minute
}

// RefreshTokenTTL returns the configured refresh token lifetime.
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.JWT.RefreshTokenExpirationDays) * 24 * time.Hour
}

// LockoutDuration parses the lockout duration, falling back to 30 minutes.
func (c *Config) LockoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Lockout.Duration)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
