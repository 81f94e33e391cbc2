package storage

import (
	"context"
	"time"

	"github.com/flakestry/flakestry/pkg/flake"
)

// DefaultRecentLimit caps the unfiltered "recent releases" listing and the
// per-owner listing.
const DefaultRecentLimit = 100

// ReleaseRepository reads published releases with their owning repository
// and owner. Implementations are safe for concurrent use.
type ReleaseRepository interface {
	// FetchByIDs returns the summaries for the ids that exist, in no particular
	// order. Ids without a row are silently absent from the result.
	FetchByIDs(ctx context.Context, ids []flake.ReleaseID) ([]flake.ReleaseSummary, error)

	// FetchRecent returns up to limit summaries, newest first.
	FetchRecent(ctx context.Context, limit int) ([]flake.ReleaseSummary, error)

	// FetchByOwner returns up to DefaultRecentLimit summaries for the owner, newest first.
	FetchByOwner(ctx context.Context, owner string) ([]flake.ReleaseSummary, error)

	// FetchByOwnerAndRepo returns every release of one repository, newest first.
	FetchByOwnerAndRepo(ctx context.Context, owner, repo string) ([]flake.ReleaseSummary, error)

	// FetchOneVersion returns the full release or flake.ErrNotFound.
	FetchOneVersion(ctx context.Context, owner, repo, version string) (*flake.ReleaseDetail, error)
}

// Cache TTL keys
const (
	TTLSummary = "summary"
	TTLDetail  = "detail"
)

// Config for the storage backends
type Config struct {
	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs []string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	QueryTimeout        time.Duration
	MaxLifetime         time.Duration
	MaxIdleTime         time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	CacheEnabled bool
	CacheTTL     map[string]time.Duration
	L1CacheSize  int // Entries
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		QueryTimeout:     5 * time.Second,
		MaxLifetime:      30 * time.Minute,
		MaxIdleTime:      5 * time.Minute,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     true,
		CacheTTL: map[string]time.Duration{
			TTLSummary: 10 * time.Minute,
			TTLDetail:  30 * time.Minute,
		},
		L1CacheSize: 1024,
	}
}

// TTL returns the configured TTL for a cache key type, falling back to the default.
func (c Config) TTL(key string) time.Duration {
	if ttl, ok := c.CacheTTL[key]; ok && ttl > 0 {
		return ttl
	}
	return DefaultConfig().CacheTTL[key]
}
