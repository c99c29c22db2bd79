package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
dispatcher:
  interval_ms: 2500
  enabled: false
recovery:
  interval_ms: 30000
  threshold_minutes: 90
crawl:
  base_url: https://social.example.com
  page_size: 25
  requests_per_second: 2
  close_enough_ratio: 0.9
  render_profiles: true
storage:
  backend: gcs
  gcs_bucket: crawl-results
database:
  dsn: postgres://crawler@localhost/crawl
  task_table: tasks_v2
pubsub:
  project_id: demo
  topic_name: crawl-notices
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Dispatcher.Enabled {
		t.Fatalf("expected dispatcher disabled by file")
	}
	if got := cfg.DispatchInterval(); got != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s dispatch interval, got %v", got)
	}
	if got := cfg.RecoveryThreshold(); got != 90*time.Minute {
		t.Fatalf("expected 90m recovery threshold, got %v", got)
	}
	if cfg.Crawl.PageSize != 25 || !cfg.Crawl.RenderProfiles || cfg.Crawl.CloseEnoughRatio != 0.9 {
		t.Fatalf("expected crawl overrides to apply: %+v", cfg.Crawl)
	}
	if cfg.Storage.Backend != StorageGCS || cfg.Storage.Prefix != "results" {
		t.Fatalf("expected gcs storage with default prefix: %+v", cfg.Storage)
	}
	if cfg.Database.TaskTable != "tasks_v2" || cfg.Database.AccountTable != "login_accounts" {
		t.Fatalf("expected table overrides merged with defaults: %+v", cfg.Database)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.DispatchInterval(); got != 10*time.Second {
		t.Fatalf("expected 10s default interval, got %v", got)
	}
	if !cfg.Dispatcher.Enabled {
		t.Fatalf("dispatcher should start enabled by default")
	}
	if got := cfg.RecoveryInterval(); got != time.Minute {
		t.Fatalf("expected 1m recovery interval, got %v", got)
	}
	if cfg.Crawl.CloseEnoughRatio != 0.95 {
		t.Fatalf("expected 0.95 ratio, got %v", cfg.Crawl.CloseEnoughRatio)
	}
	if cfg.Storage.Backend != StorageMemory || cfg.Database.DSN != "" {
		t.Fatalf("expected in-memory defaults")
	}
	if got := cfg.ShutdownTimeout(); got != 30*time.Second {
		t.Fatalf("expected 30s shutdown timeout, got %v", got)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CRAWLER_DISPATCHER_INTERVAL_MS", "1500")
	t.Setenv("CRAWLER_AUTH_ENABLED", "true")
	t.Setenv("CRAWLER_AUTH_API_KEY", "from-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Dispatcher.IntervalMs != 1500 {
		t.Fatalf("expected env interval, got %d", cfg.Dispatcher.IntervalMs)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "from-env" {
		t.Fatalf("expected env auth, got %+v", cfg.Auth)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:     ServerConfig{Port: 8080},
		Dispatcher: DispatcherConfig{IntervalMs: 1000},
		Recovery:   RecoveryConfig{IntervalMs: 1000, ThresholdMinutes: 60},
		Crawl: CrawlConfig{
			BaseURL:           "https://social.example.com",
			TimeoutSeconds:    10,
			RequestsPerSecond: 1,
			CloseEnoughRatio:  0.95,
		},
		Storage: StorageConfig{Backend: StorageMemory},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"zero interval", func(c *Config) { c.Dispatcher.IntervalMs = 0 }, "dispatcher.interval_ms"},
		{"zero recovery interval", func(c *Config) { c.Recovery.IntervalMs = 0 }, "recovery.interval_ms"},
		{"negative threshold", func(c *Config) { c.Recovery.ThresholdMinutes = -1 }, "recovery.threshold_minutes"},
		{"missing base url", func(c *Config) { c.Crawl.BaseURL = "" }, "crawl.base_url"},
		{"zero rate", func(c *Config) { c.Crawl.RequestsPerSecond = 0 }, "crawl.requests_per_second"},
		{"ratio above one", func(c *Config) { c.Crawl.CloseEnoughRatio = 1.5 }, "crawl.close_enough_ratio"},
		{"headless without workers", func(c *Config) { c.Headless.Enabled = true }, "headless.max_parallel"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = StorageGCS }, "storage.gcs_bucket"},
		{"local without dir", func(c *Config) { c.Storage.Backend = StorageLocal }, "storage.local_dir"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "notices" }, "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
