package config

import (
	"fmt"
	"os"
	"time"

	"github.com/flakestry/flakestry/pkg/observability"
	"github.com/flakestry/flakestry/pkg/storage"
	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML layout of FLAKESTRY_CONFIG_FILE. Absent keys leave
// the defaults untouched; pointers distinguish "false" and "0" from absent.
type fileConfig struct {
	Server struct {
		Host            string        `yaml:"host"`
		Port            string        `yaml:"port"`
		HealthPort      string        `yaml:"health_port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		RequestTimeout  time.Duration `yaml:"request_timeout"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"server"`

	Storage struct {
		PostgresURL  string        `yaml:"postgres_url"`
		ReplicaURLs  []string      `yaml:"replica_urls"`
		MaxConns     int           `yaml:"max_conns"`
		MinConns     int           `yaml:"min_conns"`
		QueryTimeout time.Duration `yaml:"query_timeout"`
		RedisURL     string        `yaml:"redis_url"`
		RedisDB      *int          `yaml:"redis_db"`
		PoolSize     int           `yaml:"redis_pool_size"`
		CacheEnabled *bool         `yaml:"cache_enabled"`
		SummaryTTL   time.Duration `yaml:"summary_ttl"`
		DetailTTL    time.Duration `yaml:"detail_ttl"`
		L1CacheSize  int           `yaml:"l1_cache_size"`
	} `yaml:"storage"`

	Search struct {
		Addresses   []string      `yaml:"addresses"`
		Username    string        `yaml:"username"`
		Index       string        `yaml:"index"`
		Timeout     time.Duration `yaml:"timeout"`
		EnsureIndex *bool         `yaml:"ensure_index"`
		AWSRegion   string        `yaml:"aws_region"`
		AWSService  string        `yaml:"aws_service"`
	} `yaml:"search"`

	Maintenance struct {
		ReplicaCheckSchedule string `yaml:"replica_check_schedule"`
		PoolStatsSchedule    string `yaml:"pool_stats_schedule"`
	} `yaml:"maintenance"`

	Observability struct {
		LogLevel        string   `yaml:"log_level"`
		MetricsEnabled  *bool    `yaml:"metrics_enabled"`
		OTelEnabled     *bool    `yaml:"otel_enabled"`
		OTelEndpoint    string   `yaml:"otel_endpoint"`
		OTelServiceName string   `yaml:"otel_service_name"`
		OTelInsecure    *bool    `yaml:"otel_insecure"`
		OTelSampleRatio *float64 `yaml:"otel_sample_ratio"`
	} `yaml:"observability"`
}

// loadFile overlays a YAML file onto c. Secrets (passwords, keys) are only
// read from the environment.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.apply(&f)
	return nil
}

func (c *Config) apply(f *fileConfig) {
	s := &c.Server
	setString(&s.Host, f.Server.Host)
	setString(&s.Port, f.Server.Port)
	setString(&s.HealthPort, f.Server.HealthPort)
	setDuration(&s.ReadTimeout, f.Server.ReadTimeout)
	setDuration(&s.WriteTimeout, f.Server.WriteTimeout)
	setDuration(&s.IdleTimeout, f.Server.IdleTimeout)
	setDuration(&s.ShutdownTimeout, f.Server.ShutdownTimeout)
	setDuration(&s.RequestTimeout, f.Server.RequestTimeout)
	setList(&s.AllowedOrigins, f.Server.AllowedOrigins)

	st := &c.Storage
	setString(&st.PostgresURL, f.Storage.PostgresURL)
	setList(&st.PostgresReplicaURLs, f.Storage.ReplicaURLs)
	setInt(&st.PostgresMaxConns, f.Storage.MaxConns)
	setInt(&st.PostgresMinConns, f.Storage.MinConns)
	setDuration(&st.QueryTimeout, f.Storage.QueryTimeout)
	setString(&st.RedisURL, f.Storage.RedisURL)
	if f.Storage.RedisDB != nil {
		st.RedisDB = *f.Storage.RedisDB
	}
	setInt(&st.RedisPoolSize, f.Storage.PoolSize)
	if f.Storage.CacheEnabled != nil {
		st.CacheEnabled = *f.Storage.CacheEnabled
	}
	setInt(&st.L1CacheSize, f.Storage.L1CacheSize)
	st.CacheTTL = copyTTL(st.CacheTTL)
	if f.Storage.SummaryTTL > 0 {
		st.CacheTTL[storage.TTLSummary] = f.Storage.SummaryTTL
	}
	if f.Storage.DetailTTL > 0 {
		st.CacheTTL[storage.TTLDetail] = f.Storage.DetailTTL
	}

	se := &c.Search
	setList(&se.Addresses, f.Search.Addresses)
	setString(&se.Username, f.Search.Username)
	setString(&se.Index, f.Search.Index)
	setDuration(&se.Timeout, f.Search.Timeout)
	if f.Search.EnsureIndex != nil {
		se.EnsureIndex = *f.Search.EnsureIndex
	}
	setString(&se.AWSRegion, f.Search.AWSRegion)
	setString(&se.AWSService, f.Search.AWSService)

	setString(&c.Maintenance.ReplicaCheckSchedule, f.Maintenance.ReplicaCheckSchedule)
	setString(&c.Maintenance.PoolStatsSchedule, f.Maintenance.PoolStatsSchedule)

	o := &c.Observability
	if f.Observability.LogLevel != "" {
		o.LogLevel = observability.ParseLogLevel(f.Observability.LogLevel)
	}
	if f.Observability.MetricsEnabled != nil {
		o.MetricsEnabled = *f.Observability.MetricsEnabled
	}
	if f.Observability.OTelEnabled != nil {
		o.OTelEnabled = *f.Observability.OTelEnabled
	}
	setString(&o.OTelEndpoint, f.Observability.OTelEndpoint)
	setString(&o.OTelServiceName, f.Observability.OTelServiceName)
	if f.Observability.OTelInsecure != nil {
		o.OTelInsecure = *f.Observability.OTelInsecure
	}
	if f.Observability.OTelSampleRatio != nil {
		o.OTelSampleRatio = *f.Observability.OTelSampleRatio
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func setList(dst *[]string, v []string) {
	if len(v) > 0 {
		*dst = v
	}
}
