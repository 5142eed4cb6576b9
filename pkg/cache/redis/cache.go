// Package redis provides a result cache shared through Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pario-ai/querygate/pkg/logging"
	"github.com/pario-ai/querygate/pkg/models"
)

var tracer = otel.Tracer("querygate/cache/redis")

// Config defines the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces cache keys.
	Prefix string
	TTL    time.Duration
}

// Cache is a result cache stored in Redis. Entry lifetime is enforced by
// Redis key expiry and re-checked on read.
type Cache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type storedEntry struct {
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return &Cache{
		rdb:    rdb,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		logger: logging.OrNop(logger).Named("cache.redis"),
		now:    time.Now,
	}, nil
}

// Get returns the live entry for key. Redis errors are logged and count as misses.
func (c *Cache) Get(ctx context.Context, key string) (*models.CacheEntry, bool) {
	ctx, span := tracer.Start(ctx, "cache.Get", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	data, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			span.RecordError(err)
			c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		span.SetAttributes(attribute.Bool("cache.hit", false))
		c.misses.Add(1)
		return nil, false
	}

	var stored storedEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		span.RecordError(err)
		c.logger.Warn("cache entry unreadable", zap.String("key", key), zap.Error(err))
		c.misses.Add(1)
		return nil, false
	}
	e := &models.CacheEntry{
		Key:       key,
		Payload:   stored.Payload,
		CreatedAt: stored.CreatedAt,
		ExpiresAt: stored.ExpiresAt,
	}
	if e.Expired(c.now()) {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		c.misses.Add(1)
		return nil, false
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))
	c.hits.Add(1)
	return e, true
}

// Put stores payload under key with SET EX.
func (c *Cache) Put(ctx context.Context, key string, payload []byte) error {
	ctx, span := tracer.Start(ctx, "cache.Put", trace.WithAttributes(
		attribute.String("cache.key", key),
		attribute.Int64("cache.ttl_ms", c.ttl.Milliseconds()),
	))
	defer span.End()

	now := c.now()
	data, err := json.Marshal(storedEntry{Payload: payload, CreatedAt: now, ExpiresAt: now.Add(c.ttl)})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.rdb.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Stats counts keys under the prefix. Hits and misses are per process.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	var n int64
	iter := c.rdb.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Backend: "redis",
		Entries: n,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear deletes every key under the prefix. Expired keys are already
// evicted by Redis, so an expired-only clear does nothing.
func (c *Cache) Clear(ctx context.Context, expiredOnly bool) error {
	if expiredOnly {
		return nil
	}
	iter := c.rdb.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("cache clear: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	if len(batch) > 0 {
		if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("cache clear: %w", err)
		}
	}
	return nil
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
