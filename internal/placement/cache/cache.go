// Package cache wraps a ScoreStore with a Redis read-through layer. Every
// event triggers a scoring-eligibility lookup for its URI, so score reads
// dominate; the cache keeps them off Postgres.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"stitchd/internal/placement"
	"stitchd/pkg/platform/sentinel"
)

const keyPrefix = "score:"

// missMarker is cached for URIs without a score so unscored pages do not
// hit Postgres on every event.
const missMarker = "-"

type ScoreCache struct {
	inner  placement.ScoreStore
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

type Option func(*ScoreCache)

func WithLogger(logger *slog.Logger) Option {
	return func(c *ScoreCache) {
		c.logger = logger
	}
}

func New(inner placement.ScoreStore, client *redis.Client, ttl time.Duration, opts ...Option) *ScoreCache {
	c := &ScoreCache{inner: inner, client: client, ttl: ttl}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Get returns the cached score when present. Redis failures degrade to the
// inner store; a cache outage slows lookups down, it never fails them.
func (c *ScoreCache) Get(ctx context.Context, uri string) (placement.Score, error) {
	key := keyPrefix + uri

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if cached == missMarker {
			return placement.Score{}, fmt.Errorf("score %s: %w", uri, sentinel.ErrNotFound)
		}
		var score placement.Score
		if err := json.Unmarshal([]byte(cached), &score); err == nil {
			return score, nil
		}
		// Corrupt entry: fall through to the store and rewrite it.
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "score cache read failed", "uri", uri, "error", err)
	}

	score, err := c.inner.Get(ctx, uri)
	if errors.Is(err, sentinel.ErrNotFound) {
		c.set(ctx, key, missMarker)
		return placement.Score{}, err
	}
	if err != nil {
		return placement.Score{}, err
	}

	if payload, err := json.Marshal(score); err == nil {
		c.set(ctx, key, string(payload))
	}
	return score, nil
}

// Save writes through to the store and invalidates the cached entry.
func (c *ScoreCache) Save(ctx context.Context, score placement.Score) error {
	if err := c.inner.Save(ctx, score); err != nil {
		return err
	}
	if err := c.client.Del(ctx, keyPrefix+score.URI).Err(); err != nil {
		c.logger.WarnContext(ctx, "score cache invalidation failed", "uri", score.URI, "error", err)
	}
	return nil
}

func (c *ScoreCache) set(ctx context.Context, key, value string) {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "score cache write failed", "key", key, "error", err)
	}
}
