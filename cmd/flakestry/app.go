package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/flakestry/flakestry/pkg/config"
	"github.com/flakestry/flakestry/pkg/observability"
	"github.com/flakestry/flakestry/pkg/search"
	"github.com/flakestry/flakestry/pkg/storage"
	"github.com/flakestry/flakestry/pkg/storage/postgres"
	"github.com/go-redis/redis/v8"
)

// app holds the backing services shared by the subcommands
type app struct {
	conns      *postgres.ConnectionManager
	redis      *postgres.RedisClient
	releases   storage.ReleaseRepository
	index      *search.OpenSearchIndex
	aggregator *search.Aggregator
}

func newLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)
}

// newApp connects to PostgreSQL, Redis and OpenSearch. Only PostgreSQL is
// required: without Redis releases are cached locally, and the search index
// is contacted lazily.
func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (*app, error) {
	conns, err := postgres.NewConnectionManager(postgres.ConnectionConfigFrom(cfg.Storage), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	a := &app{conns: conns}
	store := postgres.NewReleaseStore(conns, cfg.Storage.QueryTimeout, metrics)
	a.releases = store

	if cfg.Storage.CacheEnabled {
		if cfg.Storage.RedisURL != "" {
			rc, err := postgres.NewRedisClient(cfg.Storage)
			if err != nil {
				logger.WithError(err).Warn("Redis unavailable, caching releases in memory only")
			} else {
				a.redis = rc
			}
		}
		a.releases = postgres.NewCachedReleaseStore(store, a.redis, cfg.Storage, logger, metrics)
	}

	client, err := search.NewOpenSearchClient(ctx, cfg.Search.ClientConfig)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create search client: %w", err)
	}
	a.index = search.NewOpenSearchIndex(client, cfg.Search.Index, cfg.Search.Timeout, logger, metrics)
	a.aggregator = search.NewAggregator(a.index, a.releases, logger, metrics)

	return a, nil
}

// healthChecker reports on every backing service the app holds
func (a *app) healthChecker() *observability.HealthChecker {
	var rc *redis.Client
	if a.redis != nil {
		rc = a.redis.GetClient()
	}
	checker := observability.NewHealthChecker(a.conns.Primary(), rc, a.index, version)
	if a.conns.ReplicasConfigured() {
		checker.WithReplicas(observability.PingFunc(a.conns.PingReplicas))
	}
	return checker
}

// Close releases database and cache connections
func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if err := a.conns.Close(); err != nil {
		errs = append(errs, fmt.Errorf("postgres: %w", err))
	}
	return errors.Join(errs...)
}
