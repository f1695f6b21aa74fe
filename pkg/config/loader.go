package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the YAML configuration file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadConfig resolves the config file from the environment, loads it, then
// applies mounted secrets and environment overrides. Validation runs once,
// after every override.
func LoadConfig() (*Config, error) {
	env := LoadFromEnv()

	var data []byte
	if _, statErr := os.Stat(env.ConfigFile); statErr == nil {
		raw, err := os.ReadFile(env.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		data = raw
	}
	// No file: run on defaults plus environment

	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	secrets, err := LoadSecretsFromFiles(env.SecretsDir)
	if err != nil {
		return nil, err
	}
	InjectSecretsIntoConfig(cfg, secrets)

	env.Apply(cfg)
	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// decode expands environment variables and unmarshals YAML, leaving
// ${FILE:...} secret references for InjectSecretsIntoConfig
func decode(data []byte) (*Config, error) {
	expanded := os.Expand(string(data), func(key string) string {
		if strings.HasPrefix(key, secretPrefix) {
			return "${" + key + "}"
		}
		return os.Getenv(key)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// applyDerivedDefaults fills values computed from other settings. It runs
// after environment overrides so they see the final values.
func (c *Config) applyDerivedDefaults() {
	if c.Poller.APIURL == "" {
		c.Poller.APIURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
}

// applyDefaults sets default values for unspecified configuration options
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Logging.File.Path != "" {
		if c.Logging.File.MaxSizeMB == 0 {
			c.Logging.File.MaxSizeMB = 100
		}
		if c.Logging.File.MaxBackups == 0 {
			c.Logging.File.MaxBackups = 5
		}
		if c.Logging.File.MaxAgeDays == 0 {
			c.Logging.File.MaxAgeDays = 30
		}
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "30s"
	}
	if c.Server.WriteTimeout == "" {
		// Remediation calls the model synchronously
		c.Server.WriteTimeout = "150s"
	}
	if c.Server.MaxRequestSize == 0 {
		c.Server.MaxRequestSize = 1 * 1024 * 1024 // 1MB
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "30s"
	}

	// Queue defaults
	if c.Queue.Backend == "" {
		c.Queue.Backend = QueueBackendRedis
	}
	if c.Queue.RedisURL == "" {
		c.Queue.RedisURL = "redis://localhost:6379"
	}
	if c.Queue.Name == "" {
		c.Queue.Name = "scan_jobs"
	}
	if c.Queue.BufferSize == 0 {
		c.Queue.BufferSize = 100
	}
	if c.Queue.DedupWindow == "" {
		c.Queue.DedupWindow = "0s"
	}

	// Worker defaults
	if c.Worker.MaxInFlight == 0 {
		c.Worker.MaxInFlight = 8
	}
	if c.Worker.DrainTimeout == "" {
		c.Worker.DrainTimeout = "30s"
	}
	if c.Worker.JobTimeout == "" {
		c.Worker.JobTimeout = "10m"
	}
	if c.Worker.MetricsPort == 0 {
		c.Worker.MetricsPort = 9090
	}
	if c.Worker.InitialBackoff == "" {
		c.Worker.InitialBackoff = "1s"
	}
	if c.Worker.MaxBackoff == "" {
		c.Worker.MaxBackoff = "30s"
	}

	// Store defaults
	if c.Store.Driver == "" {
		c.Store.Driver = StoreDriverSQLite
	}
	if c.Store.DSN == "" && c.Store.Driver == StoreDriverSQLite {
		c.Store.DSN = "promptguard.db"
	}

	// Generation defaults
	if c.Generation.Type == "" {
		c.Generation.Type = GenerationTypeGemini
	}
	if c.Generation.APIURL == "" {
		switch c.Generation.Type {
		case GenerationTypeGemini:
			c.Generation.APIURL = "https://generativelanguage.googleapis.com"
		case GenerationTypeOpenAI:
			c.Generation.APIURL = "https://api.openai.com"
		}
	}
	if c.Generation.Model == "" {
		switch c.Generation.Type {
		case GenerationTypeGemini:
			c.Generation.Model = "gemini-1.5-flash"
		case GenerationTypeOpenAI:
			c.Generation.Model = "gpt-4o-mini"
		}
	}
	if c.Generation.Timeout == "" {
		c.Generation.Timeout = "120s"
	}

	// Poller defaults
	if c.Poller.Interval == "" {
		c.Poller.Interval = "2s"
	}
	if c.Poller.MaxAttempts == 0 {
		c.Poller.MaxAttempts = 60
	}

	// Auth defaults
	if c.Auth.Type == "" {
		c.Auth.Type = "none"
	}
}

// Validate checks the configuration for required fields and valid values
func (c *Config) Validate() error {
	if err := validateOneOf("log_level", c.LogLevel, "debug", "info", "warn", "error"); err != nil {
		return err
	}

	if err := validateOneOf("queue.backend", string(c.Queue.Backend),
		string(QueueBackendRedis), string(QueueBackendMemory)); err != nil {
		return err
	}
	if c.Queue.BufferSize < 0 {
		return fmt.Errorf("queue.buffer_size must not be negative")
	}

	if err := validateOneOf("store.driver", string(c.Store.Driver),
		string(StoreDriverSQLite), string(StoreDriverMySQL)); err != nil {
		return err
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
	}

	if err := validateOneOf("generation.type", string(c.Generation.Type),
		string(GenerationTypeOpenAI), string(GenerationTypeGemini)); err != nil {
		return err
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature must be between 0 and 2, got: %v", c.Generation.Temperature)
	}

	if c.Worker.MaxInFlight < 0 {
		return fmt.Errorf("worker.max_in_flight must not be negative")
	}
	if c.Poller.MaxAttempts < 1 {
		return fmt.Errorf("poller.max_attempts must be at least 1")
	}

	if err := validateAuthConfig(c.Auth); err != nil {
		return err
	}

	// Validate duration strings
	durations := map[string]string{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"queue.dedup_window":      c.Queue.DedupWindow,
		"worker.drain_timeout":    c.Worker.DrainTimeout,
		"worker.job_timeout":      c.Worker.JobTimeout,
		"worker.initial_backoff":  c.Worker.InitialBackoff,
		"worker.max_backoff":      c.Worker.MaxBackoff,
		"generation.timeout":      c.Generation.Timeout,
		"poller.interval":         c.Poller.Interval,
	}

	for name, value := range durations {
		d, err := c.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid %s: must not be negative", name)
		}
	}

	return nil
}

func validateOneOf(name, value string, valid ...string) error {
	for _, v := range valid {
		if value == v {
			return nil
		}
	}
	return fmt.Errorf("invalid %s '%s', must be one of: %s", name, value, strings.Join(valid, ", "))
}

func validateAuthConfig(auth AuthConfig) error {
	if auth.Type != "bearer" && auth.Type != "none" {
		return fmt.Errorf("invalid auth type '%s', must be 'bearer' or 'none'", auth.Type)
	}

	if auth.Type == "bearer" {
		if len(auth.Tokens) == 0 {
			return fmt.Errorf("auth.tokens is required when auth type is 'bearer'")
		}
		for i, tok := range auth.Tokens {
			if tok.Owner == "" {
				return fmt.Errorf("auth.tokens[%d]: owner is required", i)
			}
			if tok.Token == "" {
				return fmt.Errorf("auth.tokens[%d]: token is required", i)
			}
		}
	}

	return nil
}
