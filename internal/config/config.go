// Package config loads and validates puller configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Pull     PullConfig     `mapstructure:"pull"`
	Registry RegistryConfig `mapstructure:"registry"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// PullConfig governs scheduler behavior.
type PullConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// RegistryConfig configures the blob fetcher and its retry behavior.
type RegistryConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	Repository       string `mapstructure:"repository"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	// RequestsPerSecond caps blob request starts; 0 disables the limiter.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// ProgressConfig tunes the event hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LAYERPULL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("pull.max_concurrent", 3)
	v.SetDefault("registry.timeout_seconds", 300)
	v.SetDefault("registry.max_retries", 2)
	v.SetDefault("registry.backoff_initial_ms", 250)
	v.SetDefault("registry.backoff_max_ms", 5000)
	v.SetDefault("registry.requests_per_second", 0)
	v.SetDefault("registry.burst", 1)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 200)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits. The concurrency
// limit is validated here at the boundary as well as by the scheduler, so a
// bad value fails before any pull begins.
func (c Config) Validate() error {
	if c.Pull.MaxConcurrent < 1 {
		return fmt.Errorf("pull.max_concurrent must be >= 1, got %d", c.Pull.MaxConcurrent)
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	if c.Registry.TimeoutSeconds <= 0 {
		return fmt.Errorf("registry.timeout_seconds must be > 0")
	}
	if c.Registry.MaxRetries < 0 {
		return fmt.Errorf("registry.max_retries must be >= 0")
	}
	if c.Registry.BackoffInitialMs <= 0 || c.Registry.BackoffMaxMs < c.Registry.BackoffInitialMs {
		return fmt.Errorf("registry backoff bounds are inconsistent")
	}
	if c.Registry.RequestsPerSecond < 0 {
		return fmt.Errorf("registry.requests_per_second must be >= 0")
	}
	return nil
}

// BlobTimeout converts the registry timeout into a duration.
func (c Config) BlobTimeout() time.Duration {
	return time.Duration(c.Registry.TimeoutSeconds) * time.Second
}

// BatchWait converts the hub batch wait into a duration.
func (c Config) BatchWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond
}
