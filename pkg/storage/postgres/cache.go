package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/flakestry/flakestry/pkg/async"
	"github.com/flakestry/flakestry/pkg/flake"
	"github.com/flakestry/flakestry/pkg/observability"
	"github.com/flakestry/flakestry/pkg/storage"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	cacheWriteTimeout = 2 * time.Second

	// detailLoadTimeout bounds a load shared by concurrent callers, which
	// outlives any single caller's context
	detailLoadTimeout = 10 * time.Second
)

// CachedReleaseStore puts a two level cache in front of a release repository.
// Details are kept in a local expiring LRU and in Redis; summaries only in
// Redis. Listings always go to the store so new releases show up at once.
// Only successful lookups are cached.
type CachedReleaseStore struct {
	store   storage.ReleaseRepository
	redis   *RedisClient
	l1      *expirable.LRU[string, *flake.ReleaseDetail]
	group   singleflight.Group
	logger  *observability.Logger
	metrics *observability.Metrics
}

var _ storage.ReleaseRepository = (*CachedReleaseStore)(nil)

// NewCachedReleaseStore wraps store. redis may be nil, leaving only the local cache.
func NewCachedReleaseStore(store storage.ReleaseRepository, redis *RedisClient, config storage.Config, logger *observability.Logger, metrics *observability.Metrics) *CachedReleaseStore {
	size := config.L1CacheSize
	if size <= 0 {
		size = storage.DefaultConfig().L1CacheSize
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &CachedReleaseStore{
		store:   store,
		redis:   redis,
		l1:      expirable.NewLRU[string, *flake.ReleaseDetail](size, nil, config.TTL(storage.TTLDetail)),
		logger:  logger.WithField("component", "release_cache"),
		metrics: metrics,
	}
}

// FetchByIDs serves cached summaries from Redis and loads the rest from the store
func (c *CachedReleaseStore) FetchByIDs(ctx context.Context, ids []flake.ReleaseID) ([]flake.ReleaseSummary, error) {
	if c.redis == nil || len(ids) == 0 {
		return c.store.FetchByIDs(ctx, ids)
	}

	hits, misses, err := c.redis.GetSummaries(ctx, ids)
	if err != nil {
		c.logger.WithError(err).Warn("summary cache unavailable, reading from store")
		return c.store.FetchByIDs(ctx, ids)
	}
	for range hits {
		c.metrics.RecordCache("redis", "summary", true)
	}
	for range misses {
		c.metrics.RecordCache("redis", "summary", false)
	}

	result := make([]flake.ReleaseSummary, 0, len(ids))
	for _, summary := range hits {
		result = append(result, summary)
	}
	if len(misses) == 0 {
		return result, nil
	}

	loaded, err := c.store.FetchByIDs(ctx, misses)
	if err != nil {
		return nil, err
	}
	result = append(result, loaded...)

	if len(loaded) > 0 {
		async.SafeGo(context.WithoutCancel(ctx), cacheWriteTimeout, "cache release summaries", func(ctx context.Context) error {
			return c.redis.SetSummaries(ctx, loaded)
		})
	}

	return result, nil
}

// FetchRecent always reads through
func (c *CachedReleaseStore) FetchRecent(ctx context.Context, limit int) ([]flake.ReleaseSummary, error) {
	return c.store.FetchRecent(ctx, limit)
}

// FetchByOwner always reads through
func (c *CachedReleaseStore) FetchByOwner(ctx context.Context, owner string) ([]flake.ReleaseSummary, error) {
	return c.store.FetchByOwner(ctx, owner)
}

// FetchByOwnerAndRepo always reads through
func (c *CachedReleaseStore) FetchByOwnerAndRepo(ctx context.Context, owner, repo string) ([]flake.ReleaseSummary, error) {
	return c.store.FetchByOwnerAndRepo(ctx, owner, repo)
}

// FetchOneVersion checks the local cache, then Redis, then the store.
// Concurrent misses for the same release share one load, which keeps running
// when a waiting caller gives up. The returned detail is shared and must not
// be modified.
func (c *CachedReleaseStore) FetchOneVersion(ctx context.Context, owner, repo, version string) (*flake.ReleaseDetail, error) {
	key := detailKey(owner, repo, version)

	if detail, ok := c.l1.Get(key); ok {
		c.metrics.RecordCache("l1", "detail", true)
		return detail, nil
	}
	c.metrics.RecordCache("l1", "detail", false)

	ch := c.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detailLoadTimeout)
		defer cancel()
		return c.loadDetail(loadCtx, key, owner, repo, version)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*flake.ReleaseDetail), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: fetch release %s/%s %s: %w", flake.ErrStorageUnavailable, owner, repo, version, ctx.Err())
	}
}

func (c *CachedReleaseStore) loadDetail(ctx context.Context, key, owner, repo, version string) (*flake.ReleaseDetail, error) {
	if c.redis != nil {
		detail, err := c.redis.GetDetail(ctx, owner, repo, version)
		if err != nil {
			c.logger.WithError(err).Warn("detail cache unavailable, reading from store")
		}
		c.metrics.RecordCache("redis", "detail", detail != nil)
		if detail != nil {
			c.l1.Add(key, detail)
			return detail, nil
		}
	}

	detail, err := c.store.FetchOneVersion(ctx, owner, repo, version)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, fmt.Errorf("%w: %s/%s %s", flake.ErrNotFound, owner, repo, version)
	}

	c.l1.Add(key, detail)
	if c.redis != nil {
		async.SafeGo(context.WithoutCancel(ctx), cacheWriteTimeout, "cache release detail", func(ctx context.Context) error {
			return c.redis.SetDetail(ctx, detail)
		})
	}

	return detail, nil
}
