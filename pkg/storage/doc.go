// Package storage defines the release repository contract and the
// configuration shared by its backends.
//
// The API layer depends only on ReleaseRepository. The PostgreSQL
// implementation and its Redis-backed caching decorator live in the
// postgres subpackage:
//
//	cm, err := postgres.NewConnectionManager(postgres.ConnectionConfig{PrimaryURL: cfg.PostgresURL}, logger)
//	store := postgres.NewReleaseStore(cm, cfg.QueryTimeout, metrics)
//	repo := postgres.NewCachedReleaseStore(store, redisClient, cfg, metrics)
//
// All lookups take a context; deadline expiry and connection failures are
// reported as flake.ErrStorageUnavailable, missing releases as
// flake.ErrNotFound.
package storage
