// Package config holds the tunables of the isochronous channel tooling.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration. Zero values are filled from the
// struct defaults.
type Config struct {
	LogLevel      string `yaml:"log_level" default:"info"`
	HistorySize   uint32 `yaml:"history_size" default:"64"`     // diagnostic breadcrumb ring capacity
	SinkBuffer    int    `yaml:"sink_buffer" default:"100"`     // buffered data events per sink
	StagingBuffer int    `yaml:"staging_buffer" default:"8192"` // reassembly staging bytes per stream
}

// Default returns the configuration with all defaults applied.
func Default() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	return c
}

// Load reads a YAML configuration file, filling unset fields with defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return c, nil
}

// NewLogger creates a logger configured per LogLevel.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}
