package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/session"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration. Zero values are replaced by the default tags.
type Config struct {
	LogLevel       string        `yaml:"log_level" json:"log_level" default:"info"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"10s"`
	HistorySize    int           `yaml:"history_size" json:"history_size" default:"64"`
	PayloadBuffer  int           `yaml:"payload_buffer" json:"payload_buffer" default:"256"`
	OutputFormat   string        `yaml:"output_format" json:"output_format" default:"text"` // text, json

	// Device is the address to monitor; empty picks the first matching peripheral.
	Device   string   `yaml:"device" json:"device,omitempty"`
	Services []string `yaml:"services" json:"services,omitempty"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file on top of the defaults.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	defaults.SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that defaults cannot fix.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if c.ScanTimeout < 0 {
		return fmt.Errorf("scan_timeout must not be negative, got %s", c.ScanTimeout)
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("connect_timeout must not be negative, got %s", c.ConnectTimeout)
	}
	if c.HistorySize < 0 || c.PayloadBuffer < 0 {
		return fmt.Errorf("history_size and payload_buffer must not be negative")
	}
	switch c.OutputFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid output_format %q (expected text or json)", c.OutputFormat)
	}
	if len(c.Services) > 0 {
		services, err := device.ValidateUUID(c.Services...)
		if err != nil {
			return fmt.Errorf("invalid services: %w", err)
		}
		c.Services = services
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// SessionOptions maps the configuration onto session manager options.
func (c *Config) SessionOptions(logger *logrus.Logger) session.Options {
	return session.Options{
		ConnectTimeout: c.ConnectTimeout,
		HistorySize:    c.HistorySize,
		Logger:         logger,
	}
}

// ScanFilter builds the scan filter for the configured device and services.
func (c *Config) ScanFilter() session.ScanFilter {
	f := session.ScanFilter{
		Services: c.Services,
		Duration: c.ScanTimeout,
	}
	if c.Device != "" {
		f.AllowList = []string{c.Device}
	}
	return f
}
