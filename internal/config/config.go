// Package config loads engine configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the visitsync engine.
type Config struct {
	DataDir      string             `mapstructure:"data_dir"`
	API          APIConfig          `mapstructure:"api"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Retention    RetentionConfig    `mapstructure:"retention"`
	Image        ImageConfig        `mapstructure:"image"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// APIConfig describes the remote visitor service.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ConnectivityConfig tunes the connectivity monitor.
type ConnectivityConfig struct {
	ProbeURLs        []string      `mapstructure:"probe_urls"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	PeriodicInterval time.Duration `mapstructure:"periodic_interval"`
	OfflineThreshold int           `mapstructure:"offline_threshold"`
	MaxAutoRetries   int           `mapstructure:"max_auto_retries"`
}

// SyncConfig tunes the submission drain pass.
type SyncConfig struct {
	BatchSize  int           `mapstructure:"batch_size"`
	BatchPause time.Duration `mapstructure:"batch_pause"`
	Schedule   string        `mapstructure:"schedule"`
}

// TelemetryConfig tunes the diagnostic log queue.
type TelemetryConfig struct {
	Debounce    time.Duration `mapstructure:"debounce"`
	BatchSize   int           `mapstructure:"batch_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	RetainDays  int           `mapstructure:"retain_days"`
}

// RetentionConfig tunes housekeeping of synced records.
type RetentionConfig struct {
	RetainDays  int           `mapstructure:"retain_days"`
	GraceWindow time.Duration `mapstructure:"grace_window"`
	Schedule    string        `mapstructure:"schedule"`
}

// ImageConfig tunes payload compression.
type ImageConfig struct {
	MaxDimension int `mapstructure:"max_dimension"`
	JPEGQuality  int `mapstructure:"jpeg_quality"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from the given file, applying defaults and
// VISITSYNC_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", "data")
	// Registered empty so the env override is visible to Unmarshal.
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.timeout", 15*time.Second)
	v.SetDefault("connectivity.probe_urls", []string{
		"https://www.gstatic.com/generate_204",
		"https://cloudflare.com/cdn-cgi/trace",
		"https://www.apple.com/library/test/success.html",
		"https://httpbin.org/status/200",
	})
	v.SetDefault("connectivity.probe_timeout", 4*time.Second)
	v.SetDefault("connectivity.periodic_interval", 30*time.Second)
	v.SetDefault("connectivity.offline_threshold", 2)
	v.SetDefault("connectivity.max_auto_retries", 5)
	v.SetDefault("sync.batch_size", 5)
	v.SetDefault("sync.batch_pause", 300*time.Millisecond)
	v.SetDefault("sync.schedule", "@every 1m")
	v.SetDefault("telemetry.debounce", 2*time.Second)
	v.SetDefault("telemetry.batch_size", 200)
	v.SetDefault("telemetry.max_attempts", 5)
	v.SetDefault("telemetry.base_backoff", 2*time.Second)
	v.SetDefault("telemetry.retain_days", 30)
	v.SetDefault("retention.retain_days", 30)
	v.SetDefault("retention.grace_window", time.Hour)
	v.SetDefault("retention.schedule", "0 0 3 * * *")
	v.SetDefault("image.max_dimension", 1280)
	v.SetDefault("image.jpeg_quality", 70)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetEnvPrefix("VISITSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks fields without workable defaults.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive")
	}
	if len(c.Connectivity.ProbeURLs) == 0 {
		return fmt.Errorf("connectivity.probe_urls must not be empty")
	}
	return nil
}
