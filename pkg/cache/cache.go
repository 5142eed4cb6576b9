// Package cache stores serialized query results for a fixed TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pario-ai/querygate/pkg/models"
)

// Store is a TTL-keyed result cache. Implementations must be safe for
// concurrent use and check expiry on read.
type Store interface {
	// Get returns the live entry for key. Expired or unreadable entries are misses.
	Get(ctx context.Context, key string) (*models.CacheEntry, bool)
	// Put replaces the entry for key.
	Put(ctx context.Context, key string, payload []byte) error
	Stats(ctx context.Context) (models.CacheStats, error)
	// Clear removes expired entries, or all entries if expiredOnly is false.
	Clear(ctx context.Context, expiredOnly bool) error
}

// Key returns the cache key for query: the SHA-256 of its text with runs of
// whitespace collapsed and the ends trimmed.
func Key(query string) string {
	normalized := strings.Join(strings.Fields(query), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Memory is an in-process Store.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]*models.CacheEntry

	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemory creates a Memory cache with the given TTL.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*models.CacheEntry),
	}
}

// WithClock replaces the time source.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (*models.CacheEntry, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || e.Expired(m.now()) {
		m.misses.Add(1)
		return nil, false
	}
	m.hits.Add(1)
	out := *e
	return &out, true
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, key string, payload []byte) error {
	now := m.now()
	e := &models.CacheEntry{
		Key:       key,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// Stats implements Store.
func (m *Memory) Stats(context.Context) (models.CacheStats, error) {
	m.mu.RLock()
	n := len(m.entries)
	m.mu.RUnlock()
	return models.CacheStats{
		Backend: "memory",
		Entries: int64(n),
		Hits:    m.hits.Load(),
		Misses:  m.misses.Load(),
	}, nil
}

// Clear implements Store.
func (m *Memory) Clear(_ context.Context, expiredOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !expiredOnly {
		m.entries = make(map[string]*models.CacheEntry)
		return nil
	}
	now := m.now()
	for k, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, k)
		}
	}
	return nil
}
