package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
	// Env is the deployment environment (development, production).
	// Refresh cookies are marked Secure outside development.
	Env string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// AuthConfig holds token and password hashing configuration
type AuthConfig struct {
	// AccessSecret signs short-lived access tokens. The server refuses to
	// start without it.
	AccessSecret string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	Issuer       string
	BcryptCost   int
}

// RateLimitConfig holds the fixed-window limiter settings applied to the
// signup and login endpoints.
type RateLimitConfig struct {
	MaxAttempts int
	Window      time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("APP_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "crypto_advisor"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Auth: AuthConfig{
			AccessSecret: getEnv("JWT_ACCESS_SECRET", ""),
			AccessTTL:    getTTLEnv("ACCESS_TTL", 15*time.Minute),
			RefreshTTL:   getTTLEnv("REFRESH_TTL", 7*24*time.Hour),
			Issuer:       getEnv("JWT_ISSUER", "crypto-advisor"),
			BcryptCost:   getIntEnv("BCRYPT_COST", 12),
		},
		RateLimit: RateLimitConfig{
			MaxAttempts: getIntEnv("RATE_LIMIT_MAX_ATTEMPTS", 3),
			Window:      getTTLEnv("RATE_LIMIT_WINDOW", 15*time.Minute),
		},
	}
}

// IsProduction reports whether the server runs in production mode.
func (s *ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Env, "production")
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv returns an integer from an environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getTTLEnv returns a duration from an environment variable or default.
// Values use Go duration syntax ("15m", "30s") plus a "d" day suffix ("7d").
func getTTLEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := ParseTTL(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// ParseTTL parses a TTL string. time.ParseDuration has no day unit, so "7d"
// style values are handled here.
func ParseTTL(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if strings.HasSuffix(value, "d") {
		days, err := strconv.ParseFloat(strings.TrimSuffix(value, "d"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid TTL %q: %w", value, err)
		}
		return time.Duration(days * float64(24*time.Hour)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid TTL %q: %w", value, err)
	}
	return d, nil
}
