package config

import (
	"os"
	"strconv"
)

// EnvConfig holds environment variable-based configuration
type EnvConfig struct {
	Port             int
	LogLevel         string
	ConfigFile       string
	SecretsDir       string
	RedisURL         string
	DatabaseDSN      string
	GenerationAPIKey string
}

// LoadFromEnv reads configuration from environment variables
func LoadFromEnv() *EnvConfig {
	env := &EnvConfig{
		Port:             getEnvAsInt("PORT", 0),
		LogLevel:         getEnv("LOG_LEVEL", ""),
		ConfigFile:       getEnv("CONFIG_FILE", "config.yaml"),
		SecretsDir:       getEnv("SECRETS_DIR", "/secrets"),
		RedisURL:         getEnv("REDIS_URL", ""),
		DatabaseDSN:      getEnv("DATABASE_DSN", ""),
		GenerationAPIKey: getEnv("GENERATION_API_KEY", ""),
	}

	return env
}

// Apply overrides file configuration with any values set in the environment
func (e *EnvConfig) Apply(cfg *Config) {
	if e.Port != 0 {
		cfg.Server.Port = e.Port
	}
	if e.LogLevel != "" {
		cfg.LogLevel = e.LogLevel
	}
	if e.RedisURL != "" {
		cfg.Queue.RedisURL = e.RedisURL
	}
	if e.DatabaseDSN != "" {
		cfg.Store.DSN = e.DatabaseDSN
	}
	if e.GenerationAPIKey != "" {
		cfg.Generation.APIKey = e.GenerationAPIKey
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
