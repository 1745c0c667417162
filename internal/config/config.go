// Package config loads app config from the environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"defiers-auth/internal/pkg/jwt"

	"github.com/spf13/viper"
)

const placeholderSecret = "your-secret-key-change-in-production"

// Auth modes. In jwt mode a valid bearer token alone authorizes a request;
// strict mode also requires the token's session to be live and touches it.
const (
	AuthModeJWT    = "jwt"
	AuthModeStrict = "strict"
)

type AppConfig struct {
	// Server
	HTTPAddr    string `mapstructure:"HTTP_ADDR"`
	AppName     string `mapstructure:"APP_NAME"`
	AppVersion  string `mapstructure:"APP_VERSION"`
	Env         string `mapstructure:"APP_ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	CORSOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	// Redis
	RedisURL      string `mapstructure:"REDIS_URL"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPoolSize int    `mapstructure:"REDIS_POOL_SIZE"`

	// Postgres, optional; empty disables the session audit trail.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// JWT
	JWTSecret        string `mapstructure:"JWT_SECRET_KEY"`
	JWTAlgorithm     string `mapstructure:"JWT_ALGORITHM"`
	AccessTTLMinutes int    `mapstructure:"ACCESS_TOKEN_EXPIRE_MINUTES"`
	RefreshTTLDays   int    `mapstructure:"REFRESH_TOKEN_EXPIRE_DAYS"`

	// Sessions
	SessionTimeoutMinutes int    `mapstructure:"SESSION_TIMEOUT_MINUTES"`
	MaxSessionTTLHours    int    `mapstructure:"MAX_SESSION_TTL_HOURS"`
	AuthMode              string `mapstructure:"AUTH_MODE"`
	SweepInterval         string `mapstructure:"SESSION_SWEEP_INTERVAL"`
}

// Load reads .env (if present), then builds and validates AppConfig from the environment.
// Env vars override .env.
func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("APP_NAME", "Crypto Portfolio Tracker")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("REDIS_URL", "redis://localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_SECRET_KEY", placeholderSecret)
	v.SetDefault("JWT_ALGORITHM", "HS256")
	v.SetDefault("ACCESS_TOKEN_EXPIRE_MINUTES", 30)
	v.SetDefault("REFRESH_TOKEN_EXPIRE_DAYS", 7)
	v.SetDefault("SESSION_TIMEOUT_MINUTES", 30)
	v.SetDefault("MAX_SESSION_TTL_HOURS", 24)
	v.SetDefault("AUTH_MODE", AuthModeJWT)
	v.SetDefault("SESSION_SWEEP_INTERVAL", "10m")

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET_KEY must be set")
	}
	if c.IsProduction() && c.JWTSecret == placeholderSecret {
		return errors.New("config: JWT_SECRET_KEY must be changed when APP_ENV=production")
	}
	if _, err := jwt.SigningMethod(c.JWTAlgorithm); err != nil {
		return fmt.Errorf("config: JWT_ALGORITHM: %w", err)
	}
	switch c.AuthMode {
	case AuthModeJWT, AuthModeStrict:
	default:
		return fmt.Errorf("config: AUTH_MODE must be %q or %q, got %q", AuthModeJWT, AuthModeStrict, c.AuthMode)
	}
	if c.AccessTTLMinutes <= 0 || c.RefreshTTLDays <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	if c.SessionTimeoutMinutes <= 0 || c.MaxSessionTTLHours <= 0 {
		return errors.New("config: session timeouts must be positive")
	}
	return nil
}

func (c *AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func (c *AppConfig) IsDevelopment() bool {
	return strings.EqualFold(c.Env, "development")
}

func (c *AppConfig) StrictSessions() bool {
	return c.AuthMode == AuthModeStrict
}

// JWT returns the token manager config.
func (c *AppConfig) JWT() jwt.Config {
	return jwt.Config{
		Secret:     c.JWTSecret,
		Algorithm:  c.JWTAlgorithm,
		AccessTTL:  time.Duration(c.AccessTTLMinutes) * time.Minute,
		RefreshTTL: time.Duration(c.RefreshTTLDays) * 24 * time.Hour,
	}
}

func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMinutes) * time.Minute
}

func (c *AppConfig) SessionTTL() time.Duration {
	return time.Duration(c.MaxSessionTTLHours) * time.Hour
}

// SweepEvery parses SESSION_SWEEP_INTERVAL. Zero or "off" disables the sweeper.
func (c *AppConfig) SweepEvery() time.Duration {
	if strings.EqualFold(c.SweepInterval, "off") {
		return 0
	}
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d < 0 {
		return 10 * time.Minute
	}
	return d
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *AppConfig) AllowedOrigins() []string {
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
