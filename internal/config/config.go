// Package config loads and validates dispatcher configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends for result blobs.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Recovery   RecoveryConfig   `mapstructure:"recovery"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DispatcherConfig sets the claim loop cadence.
type DispatcherConfig struct {
	IntervalMs int  `mapstructure:"interval_ms"`
	Enabled    bool `mapstructure:"enabled"`
}

// RecoveryConfig sets the exhausted-account sweep.
type RecoveryConfig struct {
	IntervalMs       int `mapstructure:"interval_ms"`
	ThresholdMinutes int `mapstructure:"threshold_minutes"`
}

// CrawlConfig governs requests against the remote service.
type CrawlConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	UserAgent         string  `mapstructure:"user_agent"`
	PageSize          int     `mapstructure:"page_size"`
	MaxPages          int     `mapstructure:"max_pages"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	CloseEnoughRatio  float64 `mapstructure:"close_enough_ratio"`
	RenderProfiles    bool    `mapstructure:"render_profiles"`
	MaxAttempts       int     `mapstructure:"max_attempts"`
}

// HeadlessConfig configures chromedp profile rendering. When Enabled, plain
// profile fetches that look like script shells are promoted to a render.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs   int  `mapstructure:"settle_delay_ms"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// StorageConfig selects where result blobs go.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DatabaseConfig controls access to Postgres. An empty DSN selects the
// in-memory stores.
type DatabaseConfig struct {
	DSN                    string `mapstructure:"dsn"`
	TaskTable              string `mapstructure:"task_table"`
	AccountTable           string `mapstructure:"account_table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	Migrate                bool   `mapstructure:"migrate"`
}

// PubSubConfig holds metadata for completion notices. An empty topic
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 30)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("dispatcher.interval_ms", 10000)
	v.SetDefault("dispatcher.enabled", true)
	v.SetDefault("recovery.interval_ms", 60000)
	v.SetDefault("recovery.threshold_minutes", 60)
	v.SetDefault("crawl.base_url", "https://www.instagram.com")
	v.SetDefault("crawl.user_agent", "crawl-dispatcher/0.1")
	v.SetDefault("crawl.page_size", 50)
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("crawl.timeout_seconds", 20)
	v.SetDefault("crawl.requests_per_second", 0.5)
	v.SetDefault("crawl.burst", 1)
	v.SetDefault("crawl.close_enough_ratio", 0.95)
	v.SetDefault("crawl.render_profiles", false)
	v.SetDefault("crawl.max_attempts", 3)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.settle_delay_ms", 5000)
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "data/results")
	v.SetDefault("storage.prefix", "results")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.task_table", "crawl_tasks")
	v.SetDefault("database.account_table", "login_accounts")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)
	v.SetDefault("database.migrate", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.service_name", "crawl-dispatcher")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Dispatcher.IntervalMs <= 0 {
		return fmt.Errorf("dispatcher.interval_ms must be > 0")
	}
	if c.Recovery.IntervalMs <= 0 {
		return fmt.Errorf("recovery.interval_ms must be > 0")
	}
	if c.Recovery.ThresholdMinutes < 0 {
		return fmt.Errorf("recovery.threshold_minutes must be >= 0")
	}
	if c.Crawl.BaseURL == "" {
		return fmt.Errorf("crawl.base_url is required")
	}
	if c.Crawl.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawl.timeout_seconds must be > 0")
	}
	if c.Crawl.RequestsPerSecond <= 0 {
		return fmt.Errorf("crawl.requests_per_second must be > 0")
	}
	if c.Crawl.CloseEnoughRatio <= 0 || c.Crawl.CloseEnoughRatio > 1 {
		return fmt.Errorf("crawl.close_enough_ratio must be in (0, 1]")
	}
	if (c.Headless.Enabled || c.Crawl.RenderProfiles) && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when rendering is enabled")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// DispatchInterval converts dispatcher.interval_ms.
func (c Config) DispatchInterval() time.Duration {
	return time.Duration(c.Dispatcher.IntervalMs) * time.Millisecond
}

// RecoveryInterval converts recovery.interval_ms.
func (c Config) RecoveryInterval() time.Duration {
	return time.Duration(c.Recovery.IntervalMs) * time.Millisecond
}

// RecoveryThreshold converts recovery.threshold_minutes.
func (c Config) RecoveryThreshold() time.Duration {
	return time.Duration(c.Recovery.ThresholdMinutes) * time.Minute
}

// CrawlTimeout converts crawl.timeout_seconds.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawl.TimeoutSeconds) * time.Second
}

// ShutdownTimeout converts server.shutdown_timeout_seconds.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
