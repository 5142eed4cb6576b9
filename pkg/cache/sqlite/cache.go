// Package sqlite provides a result cache backed by SQLite, shared by every
// gateway process that opens the same file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/querygate/pkg/models"
)

// Cache is a TTL result cache backed by SQLite.
type Cache struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_key TEXT PRIMARY KEY,
	payload BLOB NOT NULL,
	created_at_ns INTEGER NOT NULL,
	expires_at_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at_ns);
`

// New creates a Cache with the given database path and TTL.
func New(dbPath string, ttl time.Duration) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Cache{db: db, ttl: ttl, now: time.Now}, nil
}

// WithClock replaces the time source.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Get returns the live entry for key. Errors and expired entries are misses.
func (c *Cache) Get(ctx context.Context, key string) (*models.CacheEntry, bool) {
	var payload []byte
	var createdNS, expiresNS int64

	err := c.db.QueryRowContext(ctx,
		`SELECT payload, created_at_ns, expires_at_ns FROM cache_entries WHERE cache_key = ?`,
		key,
	).Scan(&payload, &createdNS, &expiresNS)
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}

	e := &models.CacheEntry{
		Key:       key,
		Payload:   payload,
		CreatedAt: time.Unix(0, createdNS).UTC(),
		ExpiresAt: time.Unix(0, expiresNS).UTC(),
	}
	if e.Expired(c.now()) {
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return e, true
}

// Put stores payload under key, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, key string, payload []byte) error {
	now := c.now()
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (cache_key, payload, created_at_ns, expires_at_ns)
		 VALUES (?, ?, ?, ?)`,
		key, payload, now.UnixNano(), now.Add(c.ttl).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Stats returns cache performance metrics. Hits and misses are per process.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	var count int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Backend: "sqlite",
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes cache entries. If expiredOnly is true, only expired entries are removed.
func (c *Cache) Clear(ctx context.Context, expiredOnly bool) error {
	var err error
	if expiredOnly {
		_, err = c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at_ns <= ?`, c.now().UnixNano())
	} else {
		_, err = c.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	}
	if err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
