// Package config loads broker configuration from environment variables,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all broker configuration.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Ingress
	Port int `env:"BROKER_PORT" envDefault:"8080"`

	// Store-and-forward / registry sizing (initial capacities; all structures
	// grow by doubling past these, they are not hard caps).
	InitialSubscriberCap int `env:"BROKER_SUBSCRIBER_CAP" envDefault:"64"`
	InitialStoreCap      int `env:"BROKER_STORE_CAP" envDefault:"1024"`

	// Resource limits
	CPULimit    float64 `env:"BROKER_CPU_LIMIT" envDefault:"1.0"`
	MemoryLimit int64   `env:"BROKER_MEMORY_LIMIT" envDefault:"536870912"` // 512MB

	// Rate limiting
	MaxDatagramsPerSec int `env:"BROKER_MAX_DATAGRAM_RATE" envDefault:"5000"`
	MaxDrainPerSec     int `env:"BROKER_MAX_DRAIN_RATE" envDefault:"2000"`

	// CPU safety thresholds, relative to container CPU allocation the way
	// gopsutil reports it.
	CPURejectThreshold float64 `env:"BROKER_CPU_REJECT_THRESHOLD" envDefault:"85.0"`
	CPUPauseThreshold  float64 `env:"BROKER_CPU_PAUSE_THRESHOLD" envDefault:"90.0"`

	// Monitoring
	MetricsAddr     string        `env:"BROKER_METRICS_ADDR" envDefault:":9090"`
	MetricsInterval time.Duration `env:"BROKER_METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from an optional .env file and the environment.
// Priority: env vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("BROKER_PORT must be 1-65535, got %d", c.Port)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("BROKER_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.CPUPauseThreshold < 0 || c.CPUPauseThreshold > 100 {
		return fmt.Errorf("BROKER_CPU_PAUSE_THRESHOLD must be 0-100, got %.1f", c.CPUPauseThreshold)
	}
	if c.CPUPauseThreshold < c.CPURejectThreshold {
		return fmt.Errorf("BROKER_CPU_PAUSE_THRESHOLD (%.1f) must be >= BROKER_CPU_REJECT_THRESHOLD (%.1f)",
			c.CPUPauseThreshold, c.CPURejectThreshold)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "text": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, text, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// Print logs configuration in a human-readable form, for local debugging.
func (c *Config) Print() {
	fmt.Println("=== Broker Configuration ===")
	fmt.Printf("Environment:     %s\n", c.Environment)
	fmt.Printf("Port:            %d\n", c.Port)
	fmt.Println("\n=== Resource Limits ===")
	fmt.Printf("CPU Limit:       %.1f cores\n", c.CPULimit)
	fmt.Printf("Memory Limit:    %d MB\n", c.MemoryLimit/(1024*1024))
	fmt.Println("\n=== Rate Limits ===")
	fmt.Printf("Datagrams:       %d/sec\n", c.MaxDatagramsPerSec)
	fmt.Printf("Backlog drain:   %d/sec\n", c.MaxDrainPerSec)
	fmt.Println("\n=== Safety Thresholds ===")
	fmt.Printf("CPU Reject:      %.1f%%\n", c.CPURejectThreshold)
	fmt.Printf("CPU Pause:       %.1f%%\n", c.CPUPauseThreshold)
	fmt.Println("============================")
}

// LogConfig logs configuration via structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Int("port", c.Port).
		Float64("cpu_limit", c.CPULimit).
		Int64("memory_limit_mb", c.MemoryLimit/(1024*1024)).
		Int("max_datagram_rate", c.MaxDatagramsPerSec).
		Int("max_drain_rate", c.MaxDrainPerSec).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Float64("cpu_pause_threshold", c.CPUPauseThreshold).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("broker configuration loaded")
}
