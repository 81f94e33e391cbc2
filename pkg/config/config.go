package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flakestry/flakestry/pkg/observability"
	"github.com/flakestry/flakestry/pkg/search"
	"github.com/flakestry/flakestry/pkg/storage"
	"github.com/robfig/cron/v3"
)

const envPrefix = "FLAKESTRY_"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Search index configuration
	Search SearchConfig

	// Background maintenance jobs
	Maintenance MaintenanceConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// SearchConfig holds OpenSearch settings
type SearchConfig struct {
	search.ClientConfig

	Index       string
	Timeout     time.Duration
	EnsureIndex bool
}

// MaintenanceConfig holds cron schedules for background jobs
type MaintenanceConfig struct {
	ReplicaCheckSchedule string
	PoolStatsSchedule    string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// DefaultAllowedOrigins are the browser origins of the local frontends
var DefaultAllowedOrigins = []string{
	"http://localhost",
	"http://localhost:8000",
	"http://localhost:3000",
	"http://localhost:1234",
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8000",
			HealthPort:      "9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  10 * time.Second,
			AllowedOrigins:  append([]string(nil), DefaultAllowedOrigins...),
		},
		Storage: storage.DefaultConfig(),
		Search: SearchConfig{
			ClientConfig: search.ClientConfig{
				Addresses: []string{"http://localhost:9200"},
			},
			Index:       search.DefaultIndexName,
			Timeout:     search.DefaultIndexTimeout,
			EnsureIndex: true,
		},
		Maintenance: MaintenanceConfig{
			ReplicaCheckSchedule: "@every 30s",
			PoolStatsSchedule:    "@every 15s",
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.InfoLevel,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "flakestry",
			OTelServiceVersion: "dev",
			OTelInsecure:       true,
			OTelSampleRatio:    1.0,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by FLAKESTRY_CONFIG_FILE and environment variables, in that order of
// precedence from lowest to highest.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := getEnv(envPrefix+"CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Server = loadServerConfig(cfg.Server)
	cfg.Storage = loadStorageConfig(cfg.Storage)
	cfg.Search = loadSearchConfig(cfg.Search)
	cfg.Maintenance = loadMaintenanceConfig(cfg.Maintenance)
	cfg.Observability = loadObservabilityConfig(cfg.Observability)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig overrides server configuration from environment
func loadServerConfig(cfg ServerConfig) ServerConfig {
	cfg.Host = getEnv(envPrefix+"HOST", cfg.Host)
	cfg.Port = getEnv(envPrefix+"PORT", cfg.Port)
	cfg.HealthPort = getEnv(envPrefix+"HEALTH_PORT", cfg.HealthPort)
	cfg.ReadTimeout = getEnvDuration(envPrefix+"READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getEnvDuration(envPrefix+"WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = getEnvDuration(envPrefix+"IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.ShutdownTimeout = getEnvDuration(envPrefix+"SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.RequestTimeout = getEnvDuration(envPrefix+"REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.AllowedOrigins = getEnvList(envPrefix+"ALLOWED_ORIGINS", cfg.AllowedOrigins)
	return cfg
}

// loadStorageConfig overrides storage configuration from environment.
// DATABASE_URL is honoured when FLAKESTRY_POSTGRES_URL is not set.
func loadStorageConfig(cfg storage.Config) storage.Config {
	cfg.PostgresURL = getEnv("DATABASE_URL", cfg.PostgresURL)
	cfg.PostgresURL = getEnv(envPrefix+"POSTGRES_URL", cfg.PostgresURL)
	cfg.PostgresReplicaURLs = getEnvList(envPrefix+"POSTGRES_REPLICA_URLS", cfg.PostgresReplicaURLs)
	cfg.PostgresMaxConns = getEnvInt(envPrefix+"POSTGRES_MAX_CONNS", cfg.PostgresMaxConns)
	cfg.PostgresMinConns = getEnvInt(envPrefix+"POSTGRES_MIN_CONNS", cfg.PostgresMinConns)
	cfg.PostgresTimeout = getEnvDuration(envPrefix+"POSTGRES_TIMEOUT", cfg.PostgresTimeout)
	cfg.QueryTimeout = getEnvDuration(envPrefix+"QUERY_TIMEOUT", cfg.QueryTimeout)
	cfg.MaxLifetime = getEnvDuration(envPrefix+"POSTGRES_MAX_LIFETIME", cfg.MaxLifetime)
	cfg.MaxIdleTime = getEnvDuration(envPrefix+"POSTGRES_MAX_IDLE_TIME", cfg.MaxIdleTime)

	// Redis config
	cfg.RedisURL = getEnv(envPrefix+"REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv(envPrefix+"REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt(envPrefix+"REDIS_DB", cfg.RedisDB)
	cfg.RedisMaxRetries = getEnvInt(envPrefix+"REDIS_MAX_RETRIES", cfg.RedisMaxRetries)
	cfg.RedisPoolSize = getEnvInt(envPrefix+"REDIS_POOL_SIZE", cfg.RedisPoolSize)

	// Cache config
	cfg.CacheEnabled = getEnvBool(envPrefix+"CACHE_ENABLED", cfg.CacheEnabled)
	cfg.L1CacheSize = getEnvInt(envPrefix+"L1_CACHE_SIZE", cfg.L1CacheSize)
	cfg.CacheTTL = copyTTL(cfg.CacheTTL)
	cfg.CacheTTL[storage.TTLSummary] = getEnvDuration(envPrefix+"CACHE_SUMMARY_TTL", cfg.CacheTTL[storage.TTLSummary])
	cfg.CacheTTL[storage.TTLDetail] = getEnvDuration(envPrefix+"CACHE_DETAIL_TTL", cfg.CacheTTL[storage.TTLDetail])

	return cfg
}

// loadSearchConfig overrides search configuration from environment
func loadSearchConfig(cfg SearchConfig) SearchConfig {
	cfg.Addresses = getEnvList(envPrefix+"OPENSEARCH_ADDRESSES", cfg.Addresses)
	cfg.Username = getEnv(envPrefix+"OPENSEARCH_USERNAME", cfg.Username)
	cfg.Password = getEnv(envPrefix+"OPENSEARCH_PASSWORD", cfg.Password)
	cfg.InsecureSkipVerify = getEnvBool(envPrefix+"OPENSEARCH_INSECURE_SKIP_VERIFY", cfg.InsecureSkipVerify)
	cfg.AWSRegion = getEnv(envPrefix+"OPENSEARCH_AWS_REGION", cfg.AWSRegion)
	cfg.AWSService = getEnv(envPrefix+"OPENSEARCH_AWS_SERVICE", cfg.AWSService)
	cfg.AWSAccessKeyID = getEnv(envPrefix+"OPENSEARCH_AWS_ACCESS_KEY_ID", cfg.AWSAccessKeyID)
	cfg.AWSSecretAccessKey = getEnv(envPrefix+"OPENSEARCH_AWS_SECRET_ACCESS_KEY", cfg.AWSSecretAccessKey)
	cfg.Index = getEnv(envPrefix+"OPENSEARCH_INDEX", cfg.Index)
	cfg.Timeout = getEnvDuration(envPrefix+"OPENSEARCH_TIMEOUT", cfg.Timeout)
	cfg.EnsureIndex = getEnvBool(envPrefix+"OPENSEARCH_ENSURE_INDEX", cfg.EnsureIndex)
	return cfg
}

// loadMaintenanceConfig overrides job schedules from environment
func loadMaintenanceConfig(cfg MaintenanceConfig) MaintenanceConfig {
	cfg.ReplicaCheckSchedule = getEnv(envPrefix+"REPLICA_CHECK_SCHEDULE", cfg.ReplicaCheckSchedule)
	cfg.PoolStatsSchedule = getEnv(envPrefix+"POOL_STATS_SCHEDULE", cfg.PoolStatsSchedule)
	return cfg
}

// loadObservabilityConfig overrides observability configuration from environment
func loadObservabilityConfig(cfg ObservabilityConfig) ObservabilityConfig {
	if level := getEnv(envPrefix+"LOG_LEVEL", ""); level != "" {
		cfg.LogLevel = observability.ParseLogLevel(level)
	}
	cfg.MetricsEnabled = getEnvBool(envPrefix+"METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.OTelEnabled = getEnvBool(envPrefix+"OTEL_ENABLED", cfg.OTelEnabled)
	cfg.OTelEndpoint = getEnv(envPrefix+"OTEL_ENDPOINT", cfg.OTelEndpoint)
	cfg.OTelServiceName = getEnv(envPrefix+"OTEL_SERVICE_NAME", cfg.OTelServiceName)
	cfg.OTelServiceVersion = getEnv(envPrefix+"OTEL_SERVICE_VERSION", cfg.OTelServiceVersion)
	cfg.OTelInsecure = getEnvBool(envPrefix+"OTEL_INSECURE", cfg.OTelInsecure)
	cfg.OTelSampleRatio = getEnvFloat(envPrefix+"OTEL_SAMPLE_RATIO", cfg.OTelSampleRatio)
	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.Server.HealthPort == "" {
		errs = append(errs, errors.New("health port is required"))
	}
	if c.Server.Port != "" && c.Server.Port == c.Server.HealthPort {
		errs = append(errs, errors.New("server port and health port must be different"))
	}
	for name, d := range map[string]time.Duration{
		"read timeout":     c.Server.ReadTimeout,
		"write timeout":    c.Server.WriteTimeout,
		"shutdown timeout": c.Server.ShutdownTimeout,
		"request timeout":  c.Server.RequestTimeout,
		"query timeout":    c.Storage.QueryTimeout,
		"search timeout":   c.Search.Timeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if c.Storage.PostgresURL == "" {
		errs = append(errs, errors.New("database URL is required (DATABASE_URL or FLAKESTRY_POSTGRES_URL)"))
	}
	if c.Storage.CacheEnabled && c.Storage.RedisURL != "" && !strings.HasPrefix(c.Storage.RedisURL, "redis") {
		errs = append(errs, fmt.Errorf("invalid redis URL: %s", c.Storage.RedisURL))
	}

	if len(c.Search.Addresses) == 0 {
		errs = append(errs, errors.New("at least one OpenSearch address is required"))
	}
	if c.Search.Index == "" {
		errs = append(errs, errors.New("OpenSearch index name is required"))
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"replica check schedule": c.Maintenance.ReplicaCheckSchedule,
		"pool stats schedule":    c.Maintenance.PoolStatsSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s %q: %w", name, spec, err))
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			errs = append(errs, errors.New("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTelServiceName == "" {
			errs = append(errs, errors.New("OpenTelemetry service name is required when OTel is enabled"))
		}
	}

	return errors.Join(errs...)
}

func copyTTL(src map[string]time.Duration) map[string]time.Duration {
	dst := make(map[string]time.Duration, len(src)+2)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
