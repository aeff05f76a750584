// Package config loads botmaster settings from an optional YAML file and the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port
	HTTPPort int

	// Connection pool
	DBMaxOpenConns   int
	DBMaxIdleConns   int
	DBAcquireTimeout time.Duration
	DBIdleTimeout    time.Duration

	// Organization recorded when a request names none
	DefaultOrganization string

	// Per-folder request rate; 0 disables limiting
	RateLimit      float64
	RateLimitBurst int

	TracingEnabled   bool
	OTELEndpoint     string
	TraceSampleRatio float64

	LogLevel slog.Level
	LogFile  string

	// Exports are signed against ExportBucket when set, else served from ExportBaseURL
	ExportBucket  string
	ExportBaseURL string
}

// env maps each key to the variable that overrides it.
var env = map[string]string{
	"database_url":         "DATABASE_URL",
	"http_port":            "PORT",
	"db_max_open_conns":    "DB_MAX_OPEN_CONNS",
	"db_max_idle_conns":    "DB_MAX_IDLE_CONNS",
	"db_acquire_timeout":   "DB_ACQUIRE_TIMEOUT",
	"db_idle_timeout":      "DB_IDLE_TIMEOUT",
	"default_organization": "DEFAULT_ORGANIZATION",
	"rate_limit":           "RATE_LIMIT",
	"rate_limit_burst":     "RATE_LIMIT_BURST",
	"tracing_enabled":      "TRACING_ENABLED",
	"otel_endpoint":        "OTEL_EXPORTER_OTLP_ENDPOINT",
	"trace_sample_ratio":   "OTEL_TRACES_SAMPLER_ARG",
	"log_level":            "LOG_LEVEL",
	"log_file":             "LOG_FILE",
	"export_bucket":        "EXPORT_BUCKET",
	"export_base_url":      "EXPORT_BASE_URL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 6161)
	v.SetDefault("db_max_open_conns", 10)
	v.SetDefault("db_max_idle_conns", 5)
	v.SetDefault("db_acquire_timeout", 5*time.Second)
	v.SetDefault("db_idle_timeout", 30*time.Second)
	v.SetDefault("default_organization", "botmaster")
	v.SetDefault("rate_limit", 0)
	v.SetDefault("rate_limit_burst", 20)
	v.SetDefault("tracing_enabled", true)
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("trace_sample_ratio", 1.0)
	v.SetDefault("log_level", "info")
	v.SetDefault("export_base_url", "http://localhost:6161/exports")
}

// Load reads configuration from path, if given, then applies environment
// overrides on top.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, name := range env {
		if err := v.BindEnv(key, name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", name, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		DatabaseURL:         v.GetString("database_url"),
		HTTPPort:            v.GetInt("http_port"),
		DBMaxOpenConns:      v.GetInt("db_max_open_conns"),
		DBMaxIdleConns:      v.GetInt("db_max_idle_conns"),
		DBAcquireTimeout:    v.GetDuration("db_acquire_timeout"),
		DBIdleTimeout:       v.GetDuration("db_idle_timeout"),
		DefaultOrganization: v.GetString("default_organization"),
		RateLimit:           v.GetFloat64("rate_limit"),
		RateLimitBurst:      v.GetInt("rate_limit_burst"),
		TracingEnabled:      v.GetBool("tracing_enabled"),
		OTELEndpoint:        v.GetString("otel_endpoint"),
		TraceSampleRatio:    v.GetFloat64("trace_sample_ratio"),
		LogFile:             v.GetString("log_file"),
		ExportBucket:        v.GetString("export_bucket"),
		ExportBaseURL:       v.GetString("export_base_url"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is required (env: DATABASE_URL)")
	}
	level, err := parseLevel(v.GetString("log_level"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.HTTPPort <= 0 || c.HTTPPort > 65535:
		return fmt.Errorf("invalid http_port: %d", c.HTTPPort)
	case c.DBMaxOpenConns <= 0:
		return fmt.Errorf("db_max_open_conns must be positive, got %d", c.DBMaxOpenConns)
	case c.DBMaxIdleConns < 0:
		return fmt.Errorf("db_max_idle_conns cannot be negative, got %d", c.DBMaxIdleConns)
	case c.DBAcquireTimeout <= 0:
		return fmt.Errorf("db_acquire_timeout must be positive, got %s", c.DBAcquireTimeout)
	case c.DBIdleTimeout < 0:
		return fmt.Errorf("db_idle_timeout cannot be negative, got %s", c.DBIdleTimeout)
	case c.RateLimit < 0:
		return fmt.Errorf("rate_limit cannot be negative, got %v", c.RateLimit)
	case c.RateLimit > 0 && c.RateLimitBurst <= 0:
		return fmt.Errorf("rate_limit_burst must be positive when rate_limit is set")
	case c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1:
		return fmt.Errorf("trace_sample_ratio must be within [0,1], got %v", c.TraceSampleRatio)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log_level %q", s)
}
