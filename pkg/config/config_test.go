package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flakestry/flakestry/pkg/observability"
	"github.com/flakestry/flakestry/pkg/storage"
)

// setRequired sets the minimum environment for LoadConfig to succeed
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/flakestry")
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "custom")
	t.Setenv("TEST_BOOL", "1")
	t.Setenv("TEST_BAD_BOOL", "maybe")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_LIST", " a, ,b ")

	if got := getEnv("TEST_STR", "default"); got != "custom" {
		t.Errorf("getEnv() = %v, want custom", got)
	}
	if got := getEnv("TEST_UNSET", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want default", got)
	}
	if got := getEnvBool("TEST_BOOL", false); !got {
		t.Error("getEnvBool() = false, want true")
	}
	if got := getEnvBool("TEST_BAD_BOOL", true); !got {
		t.Error("getEnvBool() should fall back to default on bad input")
	}
	if got := getEnvInt("TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt() = %v, want 42", got)
	}
	if got := getEnvInt("TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvInt() = %v, want 7", got)
	}
	if got := getEnvDuration("TEST_DURATION", 0); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	if got := getEnvFloat("TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvFloat() = %v, want 0.25", got)
	}
	if got := getEnvList("TEST_LIST", nil); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("getEnvList() = %v, want [a b]", got)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8000" || cfg.Server.HealthPort != "9090" {
		t.Errorf("unexpected ports %s/%s", cfg.Server.Port, cfg.Server.HealthPort)
	}
	if len(cfg.Server.AllowedOrigins) != 4 {
		t.Errorf("expected 4 default origins, got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Storage.PostgresURL != "postgres://localhost/flakestry" {
		t.Errorf("DATABASE_URL not applied, got %q", cfg.Storage.PostgresURL)
	}
	if cfg.Search.Index != "flakes" || cfg.Search.Timeout != 5*time.Second {
		t.Errorf("unexpected search defaults %+v", cfg.Search)
	}
	if cfg.Observability.LogLevel != observability.InfoLevel {
		t.Errorf("unexpected log level %v", cfg.Observability.LogLevel)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("FLAKESTRY_POSTGRES_URL", "postgres://primary/flakestry")
	t.Setenv("FLAKESTRY_POSTGRES_REPLICA_URLS", "postgres://r1/db, postgres://r2/db")
	t.Setenv("FLAKESTRY_PORT", "8080")
	t.Setenv("FLAKESTRY_OPENSEARCH_ADDRESSES", "https://os1:9200,https://os2:9200")
	t.Setenv("FLAKESTRY_OPENSEARCH_AWS_REGION", "eu-west-1")
	t.Setenv("FLAKESTRY_CACHE_DETAIL_TTL", "1h")
	t.Setenv("FLAKESTRY_LOG_LEVEL", "debug")
	t.Setenv("FLAKESTRY_OTEL_SAMPLE_RATIO", "0.1")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Storage.PostgresURL != "postgres://primary/flakestry" {
		t.Errorf("FLAKESTRY_POSTGRES_URL should win over DATABASE_URL, got %q", cfg.Storage.PostgresURL)
	}
	if len(cfg.Storage.PostgresReplicaURLs) != 2 {
		t.Errorf("expected 2 replicas, got %v", cfg.Storage.PostgresReplicaURLs)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if len(cfg.Search.Addresses) != 2 || cfg.Search.AWSRegion != "eu-west-1" {
		t.Errorf("unexpected search config %+v", cfg.Search)
	}
	if cfg.Storage.TTL(storage.TTLDetail) != time.Hour {
		t.Errorf("expected detail TTL 1h, got %v", cfg.Storage.TTL(storage.TTLDetail))
	}
	if cfg.Storage.TTL(storage.TTLSummary) != 10*time.Minute {
		t.Errorf("summary TTL should keep its default, got %v", cfg.Storage.TTL(storage.TTLSummary))
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("expected debug level, got %v", cfg.Observability.LogLevel)
	}
	if cfg.Observability.OTelSampleRatio != 0.1 {
		t.Errorf("expected sample ratio 0.1, got %v", cfg.Observability.OTelSampleRatio)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flakestry.yaml")
	content := `
server:
  port: "8001"
  request_timeout: 3s
  allowed_origins: [https://flakestry.dev]
storage:
  postgres_url: postgres://file/flakestry
  cache_enabled: false
  summary_ttl: 2m
search:
  addresses: [http://search:9200]
  ensure_index: false
maintenance:
  replica_check_schedule: "*/5 * * * *"
observability:
  log_level: warn
  otel_sample_ratio: 0.5
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FLAKESTRY_CONFIG_FILE", path)
	t.Setenv("FLAKESTRY_PORT", "8002")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8002" {
		t.Errorf("environment should win over file, got port %s", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout != 3*time.Second {
		t.Errorf("expected request timeout 3s, got %v", cfg.Server.RequestTimeout)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://flakestry.dev" {
		t.Errorf("unexpected origins %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Storage.PostgresURL != "postgres://file/flakestry" {
		t.Errorf("unexpected postgres URL %q", cfg.Storage.PostgresURL)
	}
	if cfg.Storage.CacheEnabled {
		t.Error("cache_enabled: false should disable the cache")
	}
	if cfg.Storage.TTL(storage.TTLSummary) != 2*time.Minute {
		t.Errorf("expected summary TTL 2m, got %v", cfg.Storage.TTL(storage.TTLSummary))
	}
	if cfg.Search.EnsureIndex {
		t.Error("ensure_index: false should be honoured")
	}
	if cfg.Maintenance.ReplicaCheckSchedule != "*/5 * * * *" {
		t.Errorf("unexpected schedule %q", cfg.Maintenance.ReplicaCheckSchedule)
	}
	if cfg.Observability.LogLevel != observability.WarnLevel || cfg.Observability.OTelSampleRatio != 0.5 {
		t.Errorf("unexpected observability config %+v", cfg.Observability)
	}
}

func TestLoadConfig_FileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		setRequired(t)
		t.Setenv("FLAKESTRY_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
		if _, err := LoadConfig(); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		setRequired(t)
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("FLAKESTRY_CONFIG_FILE", path)
		if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "parse config file") {
			t.Errorf("expected parse error, got %v", err)
		}
	})
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Storage.PostgresURL = "postgres://localhost/flakestry"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing database URL", func(c *Config) { c.Storage.PostgresURL = "" }, "database URL is required"},
		{"missing OpenSearch address", func(c *Config) { c.Search.Addresses = nil }, "OpenSearch address"},
		{"missing index", func(c *Config) { c.Search.Index = "" }, "index name is required"},
		{"same ports", func(c *Config) { c.Server.HealthPort = c.Server.Port }, "must be different"},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port is required"},
		{"zero request timeout", func(c *Config) { c.Server.RequestTimeout = 0 }, "request timeout must be positive"},
		{"negative search timeout", func(c *Config) { c.Search.Timeout = -time.Second }, "search timeout must be positive"},
		{"bad redis URL", func(c *Config) { c.Storage.RedisURL = "http://cache" }, "invalid redis URL"},
		{"bad schedule", func(c *Config) { c.Maintenance.PoolStatsSchedule = "every now and then" }, "invalid pool stats schedule"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, "endpoint is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("FLAKESTRY_POSTGRES_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Error("expected validation error without a database URL")
	}
}
