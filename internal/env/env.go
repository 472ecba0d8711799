// Package env decodes the engine's recognized environment knobs.
package env

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every recognized knob. Variables are prefixed with
// NIGHTGLOW_, e.g. NIGHTGLOW_BATCH_SIZE.
type Config struct {
	BatchSize int `envconfig:"BATCH_SIZE" default:"50"`
	LingerMs  int `envconfig:"LINGER_MS" default:"500"`

	Compression string `envconfig:"COMPRESSION" default:"none"`
	TopicPrefix string `envconfig:"TOPIC_PREFIX" default:"nightglow"`

	TraceEndpoint   string        `envconfig:"TRACE_ENDPOINT"`
	MetricsEndpoint string        `envconfig:"METRICS_ENDPOINT"`
	MetricsInterval time.Duration `envconfig:"METRICS_INTERVAL" default:"15s"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	AutoEnableInstruments bool `envconfig:"AUTO_ENABLE_INSTRUMENTS" default:"true"`
	MaxContinuous         int  `envconfig:"MAX_CONTINUOUS" default:"10"`
}

func (c *Config) Linger() time.Duration {
	return time.Duration(c.LingerMs) * time.Millisecond
}

// SlogLevel maps the configured log level onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads the environment.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("nightglow", &c); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	switch c.Compression {
	case "gzip", "snappy", "lz4", "none":
	default:
		return nil, fmt.Errorf("unsupported compression %q", c.Compression)
	}

	return &c, nil
}
