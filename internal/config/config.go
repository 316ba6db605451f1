// ABOUTME: Configuration loading and parsing for the flamingo gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Freshchat FreshchatConfig `yaml:"freshchat"`
	Coalesce  CoalesceConfig  `yaml:"coalesce"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
	Push      PushConfig      `yaml:"push"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig selects the persistence backend.
// Driver is "postgres" (DSN is a connection string/URL) or "sqlite"
// (DSN is a file path, or ":memory:").
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AnalysisConfig holds settings for the OpenAI-compatible classification endpoint
type AnalysisConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// FreshchatConfig holds the chat-platform API settings used for user lookups
type FreshchatConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// CoalesceConfig holds the debounce windows for conversation buffering
type CoalesceConfig struct {
	InitialDelay  time.Duration `yaml:"-"`
	FollowUpDelay time.Duration `yaml:"-"`
	FlushTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	InitialDelayRaw  string `yaml:"initial_delay"`
	FollowUpDelayRaw string `yaml:"follow_up_delay"`
	FlushTimeoutRaw  string `yaml:"flush_timeout"`
}

// DedupeConfig bounds the duplicate-webhook suppression cache
type DedupeConfig struct {
	TTL        time.Duration `yaml:"-"`
	MaxEntries int           `yaml:"max_entries"`

	TTLRaw string `yaml:"ttl"`
}

// PushConfig holds WebSocket push-channel settings
type PushConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RateLimitConfig bounds per-client request rates on the read API
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults applied when the config file leaves a field empty.
const (
	DefaultInitialDelay  = 30 * time.Second
	DefaultFollowUpDelay = 10 * time.Minute
	DefaultFlushTimeout  = 30 * time.Second
	DefaultDedupeTTL     = 10 * time.Minute
	DefaultDedupeEntries = 10000
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	case "":
		return fmt.Errorf("database.driver is required (postgres or sqlite)")
	default:
		return fmt.Errorf("database.driver %q is not supported (postgres or sqlite)", c.Database.Driver)
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Analysis.BaseURL == "" {
		return fmt.Errorf("analysis.base_url is required")
	}
	if c.Analysis.Model == "" {
		return fmt.Errorf("analysis.model is required")
	}

	if c.Coalesce.InitialDelay >= c.Coalesce.FollowUpDelay {
		return fmt.Errorf("coalesce.initial_delay must be shorter than coalesce.follow_up_delay")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Analysis.TimeoutRaw, "analysis.timeout", &cfg.Analysis.Timeout},
		{cfg.Coalesce.InitialDelayRaw, "coalesce.initial_delay", &cfg.Coalesce.InitialDelay},
		{cfg.Coalesce.FollowUpDelayRaw, "coalesce.follow_up_delay", &cfg.Coalesce.FollowUpDelay},
		{cfg.Coalesce.FlushTimeoutRaw, "coalesce.flush_timeout", &cfg.Coalesce.FlushTimeout},
		{cfg.Dedupe.TTLRaw, "dedupe.ttl", &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Coalesce.InitialDelay == 0 {
		cfg.Coalesce.InitialDelay = DefaultInitialDelay
	}
	if cfg.Coalesce.FollowUpDelay == 0 {
		cfg.Coalesce.FollowUpDelay = DefaultFollowUpDelay
	}
	if cfg.Coalesce.FlushTimeout == 0 {
		cfg.Coalesce.FlushTimeout = DefaultFlushTimeout
	}
	if cfg.Dedupe.TTL == 0 {
		cfg.Dedupe.TTL = DefaultDedupeTTL
	}
	if cfg.Dedupe.MaxEntries == 0 {
		cfg.Dedupe.MaxEntries = DefaultDedupeEntries
	}
	if cfg.RateLimit.RPS == 0 {
		cfg.RateLimit.RPS = 5
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 10
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
