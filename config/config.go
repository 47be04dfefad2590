// Package config provides YAML configuration parsing for serialbridge.
//
// This package enables running the bridge as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//	poll_interval: 100ms
//	database: m5_data.db
//	log_level: info
//
//	device:
//	  name: ${SERIAL_DEVICE:-COM6}
//	  baud_rate: 115200
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// minPollInterval keeps the ingest loop from spinning on the port.
	minPollInterval = 10 * time.Millisecond
	maxPollInterval = 10 * time.Second

	defaultPort         = 8080
	defaultPollInterval = 100 * time.Millisecond
	defaultDatabase     = "m5_data.db"
	defaultQueryTimeout = 5 * time.Second
	defaultBaudRate     = 115200
	defaultReadTimeout  = 10 * time.Millisecond
	defaultLogLevel     = "info"
)

// Config is the root configuration structure for serialbridge.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// PollInterval is the pause between device polls.
	// Accepts duration strings like "100ms" or "1s". Defaults to 100ms.
	PollInterval Duration `yaml:"poll_interval"`

	// Database is the SQLite file path. Defaults to m5_data.db.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	Database string `yaml:"database"`

	// QueryTimeout bounds each history query. Defaults to 5s.
	QueryTimeout Duration `yaml:"query_timeout"`

	// AssetsDir serves index.html and style.css from disk instead of the
	// embedded dashboard. Supports environment variable substitution.
	AssetsDir string `yaml:"assets_dir"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`

	// Device describes the serial port.
	Device DeviceConfig `yaml:"device"`
}

// DeviceConfig describes the serial device the bridge reads from.
type DeviceConfig struct {
	// Name is the port name, such as COM6 or /dev/ttyUSB0. Required.
	// Supports environment variable substitution.
	Name string `yaml:"name"`

	// BaudRate is the line speed. Defaults to 115200.
	BaudRate int `yaml:"baud_rate"`

	// ReadTimeout is how long a single read waits for data. Defaults to 10ms.
	ReadTimeout Duration `yaml:"read_timeout"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (expected debug, info, warn, or error)", s)
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Override adjusts a parsed Config before defaults and validation apply.
type Override func(*Config)

// DeviceOverride replaces device.name unless name is empty.
func DeviceOverride(name string) Override {
	return func(c *Config) {
		if name != "" {
			c.Device.Name = name
		}
	}
}

// Load reads and parses a YAML configuration file.
//
// Returns an error if the file cannot be read or parsed.
func Load(path string, overrides ...Override) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, overrides...)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in device.name, database and
// assets_dir. Defaults are applied before validation.
func Parse(data []byte, overrides ...Override) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for _, o := range overrides {
		o(&cfg)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.PollInterval == 0 {
		c.PollInterval = Duration(defaultPollInterval)
	}
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = Duration(defaultQueryTimeout)
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Device.BaudRate == 0 {
		c.Device.BaudRate = defaultBaudRate
	}
	if c.Device.ReadTimeout == 0 {
		c.Device.ReadTimeout = Duration(defaultReadTimeout)
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	var err error

	if c.Device.Name, err = expandEnvVars(c.Device.Name); err != nil {
		return fmt.Errorf("device.name: %w", err)
	}
	if c.Device.Name == "" {
		return errors.New("device.name is required")
	}
	if c.Database, err = expandEnvVars(c.Database); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Database == "" {
		return errors.New("database cannot be empty")
	}
	if c.AssetsDir, err = expandEnvVars(c.AssetsDir); err != nil {
		return fmt.Errorf("assets_dir: %w", err)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	poll := c.PollInterval.Duration()
	if poll < minPollInterval || poll > maxPollInterval {
		return fmt.Errorf("poll_interval must be between %s and %s, got %s", minPollInterval, maxPollInterval, poll)
	}

	if c.QueryTimeout.Duration() < 0 {
		return fmt.Errorf("query_timeout cannot be negative, got %s", c.QueryTimeout.Duration())
	}

	if c.Device.BaudRate < 0 {
		return fmt.Errorf("device.baud_rate must be positive, got %d", c.Device.BaudRate)
	}
	if c.Device.ReadTimeout.Duration() < 0 {
		return fmt.Errorf("device.read_timeout cannot be negative, got %s", c.Device.ReadTimeout.Duration())
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	return nil
}
