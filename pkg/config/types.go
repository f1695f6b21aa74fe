package config

import "time"

// QueueBackend selects the job queue implementation
type QueueBackend string

const (
	QueueBackendRedis  QueueBackend = "redis"
	QueueBackendMemory QueueBackend = "memory"
)

// StoreDriver selects the record store dialect
type StoreDriver string

const (
	StoreDriverSQLite StoreDriver = "sqlite"
	StoreDriverMySQL  StoreDriver = "mysql"
)

// GenerationType selects the text-generation backend
type GenerationType string

const (
	GenerationTypeOpenAI GenerationType = "openai"
	GenerationTypeGemini GenerationType = "gemini"
)

// Config represents the complete application configuration
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
	Queue      QueueConfig      `yaml:"queue"`
	Worker     WorkerConfig     `yaml:"worker"`
	Store      StoreConfig      `yaml:"store"`
	Generation GenerationConfig `yaml:"generation"`
	Poller     PollerConfig     `yaml:"poller"`
	Auth       AuthConfig       `yaml:"auth"`
}

// LoggingConfig holds optional file output settings
type LoggingConfig struct {
	File LogFileConfig `yaml:"file"`
}

// LogFileConfig configures rotated log file output
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ServerConfig holds HTTP API server settings
type ServerConfig struct {
	Port            int    `yaml:"port"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	MaxRequestSize  int64  `yaml:"max_request_size"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// QueueConfig holds job queue settings
type QueueConfig struct {
	Backend     QueueBackend `yaml:"backend"`
	RedisURL    string       `yaml:"redis_url"`
	Name        string       `yaml:"name"`
	BufferSize  int          `yaml:"buffer_size"`
	DedupWindow string       `yaml:"dedup_window"`
}

// WorkerConfig holds scan worker settings
type WorkerConfig struct {
	MaxInFlight    int    `yaml:"max_in_flight"`
	DrainTimeout   string `yaml:"drain_timeout"`
	JobTimeout     string `yaml:"job_timeout"`
	MetricsPort    int    `yaml:"metrics_port"`
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
}

// StoreConfig holds the record store connection
type StoreConfig struct {
	Driver StoreDriver `yaml:"driver"`
	DSN    string      `yaml:"dsn"`
}

// GenerationConfig holds text-generation backend settings
type GenerationConfig struct {
	Type        GenerationType `yaml:"type"`
	APIURL      string         `yaml:"api_url"`
	APIKey      string         `yaml:"api_key"`
	Model       string         `yaml:"model"`
	Timeout     string         `yaml:"timeout"`
	Temperature float64        `yaml:"temperature"`
}

// PollerConfig holds client-side polling defaults
type PollerConfig struct {
	APIURL      string `yaml:"api_url"`
	Token       string `yaml:"token"`
	Interval    string `yaml:"interval"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// AuthConfig defines API caller authentication
type AuthConfig struct {
	Type   string        `yaml:"type"` // bearer or none
	Tokens []TokenConfig `yaml:"tokens"`
}

// TokenConfig maps a bearer token to the owner id it authenticates
type TokenConfig struct {
	Owner string `yaml:"owner"`
	Token string `yaml:"token"`
}

// ParseDuration converts string duration to time.Duration
func (c *Config) ParseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

// MustDuration parses a duration already checked by Validate
func (c *Config) MustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
