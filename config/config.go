// Package config provides configuration loading for the inventory engine.
//
// Precedence is layered: built-in defaults, then an optional YAML file,
// then command-line flags (applied by cmd/server).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "250ms"
// or "15s" strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"250ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped standard-library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the complete server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Port is the HTTP server port
	Port int `yaml:"port"`
	// ReadTimeout bounds how long a request body read may take
	ReadTimeout Duration `yaml:"read_timeout"`
	// WriteTimeout bounds how long a response write may take
	WriteTimeout Duration `yaml:"write_timeout"`
	// ShutdownTimeout is the grace period for in-flight requests on SIGTERM
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures persistence.
type DatabaseConfig struct {
	// Path is the SQLite database path; ":memory:" for ephemeral runs
	Path string `yaml:"path"`
}

// EngineConfig tunes the movement engine.
type EngineConfig struct {
	// MaxAttempts bounds optimistic-conflict retries per operation
	MaxAttempts int `yaml:"max_attempts"`
	// RetryDelay is the first backoff step; it doubles per attempt
	RetryDelay Duration `yaml:"retry_delay"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "inventory.db",
		},
		Engine: EngineConfig{
			MaxAttempts: 3,
			RetryDelay:  Duration(10 * time.Millisecond),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine.max_attempts must be at least 1, got %d", c.Engine.MaxAttempts)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

// LoadFromFile reads a YAML config file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &config, nil
}

// Merge overlays non-zero fields from other onto c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.ReadTimeout != 0 {
		c.Server.ReadTimeout = other.Server.ReadTimeout
	}
	if other.Server.WriteTimeout != 0 {
		c.Server.WriteTimeout = other.Server.WriteTimeout
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}
	if other.Database.Path != "" {
		c.Database.Path = other.Database.Path
	}
	if other.Engine.MaxAttempts != 0 {
		c.Engine.MaxAttempts = other.Engine.MaxAttempts
	}
	if other.Engine.RetryDelay != 0 {
		c.Engine.RetryDelay = other.Engine.RetryDelay
	}
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
}

// Load builds the effective config: defaults overlaid with an optional file.
// An empty path means defaults only; a missing file at an explicit path is
// an error.
func Load(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		config.Merge(fileConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
