package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flakestry/flakestry/pkg/flake"
	"github.com/flakestry/flakestry/pkg/storage"
	"github.com/go-redis/redis/v8"
)

// RedisClient handles the shared release cache
type RedisClient struct {
	client *redis.Client
	config storage.Config
}

// NewRedisClient creates a new Redis client
func NewRedisClient(config storage.Config) (*RedisClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	// Override with config values if provided
	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB > 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisClient{
		client: client,
		config: config,
	}, nil
}

// Key patterns matching every cached summary or detail
const (
	SummaryKeyPattern = "release:summary:*"
	DetailKeyPattern  = "release:detail:*"
)

func summaryKey(id flake.ReleaseID) string {
	return "release:summary:" + id.String()
}

func detailKey(owner, repo, version string) string {
	return fmt.Sprintf("release:detail:%s/%s/%s", owner, repo, version)
}

// GetSummaries looks up summaries with a single MGET. Ids that are not cached,
// or whose entry cannot be decoded, are returned as misses.
func (c *RedisClient) GetSummaries(ctx context.Context, ids []flake.ReleaseID) (map[flake.ReleaseID]flake.ReleaseSummary, []flake.ReleaseID, error) {
	if len(ids) == 0 {
		return map[flake.ReleaseID]flake.ReleaseSummary{}, nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = summaryKey(id)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, ids, fmt.Errorf("redis mget failed: %w", err)
	}

	hits := make(map[flake.ReleaseID]flake.ReleaseSummary, len(ids))
	var misses []flake.ReleaseID
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			misses = append(misses, ids[i])
			continue
		}
		summary, err := flake.UnmarshalCachedSummary([]byte(data))
		if err != nil || summary.ID != ids[i] {
			c.client.Del(ctx, keys[i])
			misses = append(misses, ids[i])
			continue
		}
		hits[ids[i]] = summary
	}

	return hits, misses, nil
}

// SetSummaries stores summaries in one pipeline
func (c *RedisClient) SetSummaries(ctx context.Context, summaries []flake.ReleaseSummary) error {
	if len(summaries) == 0 {
		return nil
	}

	ttl := c.config.TTL(storage.TTLSummary)
	pipe := c.client.Pipeline()
	for _, s := range summaries {
		data, err := s.MarshalCached()
		if err != nil {
			return fmt.Errorf("failed to marshal summary %s: %w", s.ID, err)
		}
		pipe.Set(ctx, summaryKey(s.ID), data, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// GetDetail retrieves a release detail; (nil, nil) is a cache miss
func (c *RedisClient) GetDetail(ctx context.Context, owner, repo, version string) (*flake.ReleaseDetail, error) {
	key := detailKey(owner, repo, version)

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	detail, err := flake.UnmarshalCachedDetail(data)
	if err != nil {
		// If unmarshal fails, delete corrupt data
		c.client.Del(ctx, key)
		return nil, fmt.Errorf("failed to unmarshal release detail: %w", err)
	}

	return detail, nil
}

// SetDetail stores a release detail
func (c *RedisClient) SetDetail(ctx context.Context, detail *flake.ReleaseDetail) error {
	data, err := detail.MarshalCached()
	if err != nil {
		return fmt.Errorf("failed to marshal release detail: %w", err)
	}

	key := detailKey(detail.Owner, detail.Repo, detail.Version)
	return c.client.Set(ctx, key, data, c.config.TTL(storage.TTLDetail)).Err()
}

// InvalidatePatterns removes keys matching patterns and returns how many
// were deleted
func (c *RedisClient) InvalidatePatterns(ctx context.Context, patterns ...string) (int, error) {
	deleted := 0
	for _, pattern := range patterns {
		iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
				return deleted, fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
			}
			deleted++
		}
		if err := iter.Err(); err != nil {
			return deleted, fmt.Errorf("scan failed for pattern %s: %w", pattern, err)
		}
	}
	return deleted, nil
}

// Ping checks Redis connectivity
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetClient returns the underlying Redis client for health checks
func (c *RedisClient) GetClient() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *RedisClient) Close() error {
	return c.client.Close()
}
