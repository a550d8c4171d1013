// Package config holds process configuration, sourced from the
// environment with sensible local defaults. Flags in cmd/server may
// override individual fields.
package config

import (
	"os"
	"strconv"
)

// Config is the full process configuration.
type Config struct {
	HTTPPort int

	PostgresURL   string
	RedisAddr     string
	RedisPassword string

	PosBaseURL string
	ExportDir  string
}

// FromEnv builds a Config from the environment.
func FromEnv() *Config {
	return &Config{
		HTTPPort:      envInt("HTTP_PORT", 8080),
		PostgresURL:   envOrDefault("POSTGRES_URL", "postgres://localhost:5432/posledger?sslmode=disable"),
		RedisAddr:     envOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		PosBaseURL:    envOrDefault("POS_BASE_URL", "https://api.posvendor.com"),
		ExportDir:     envOrDefault("EXPORT_DIR", "./exports"),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
