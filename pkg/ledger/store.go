package ledger

import (
	"context"
	"sync"

	"github.com/pario-ai/querygate/pkg/models"
)

// Store persists the ledger as a whole map keyed by ISO date.
type Store interface {
	Load(ctx context.Context) (map[string]models.UsageRecord, error)
	Save(ctx context.Context, days map[string]models.UsageRecord) error
}

// Locker is implemented by stores that can be shared between processes.
// The ledger holds the lock across its read-modify-write cycle.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// Appender is implemented by stores that can add one entry to a day in a
// single atomic write. The ledger uses it instead of Load and Save, so
// concurrent writers sharing the store never overwrite each other's totals.
type Appender interface {
	Append(ctx context.Context, date string, e models.QueryLogEntry) error
}

// MemoryStore keeps the ledger in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	days map[string]models.UsageRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{days: make(map[string]models.UsageRecord)}
}

// Load implements Store.
func (s *MemoryStore) Load(context.Context) (map[string]models.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneDays(s.days), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, days map[string]models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.days = cloneDays(days)
	return nil
}

func cloneDays(days map[string]models.UsageRecord) map[string]models.UsageRecord {
	out := make(map[string]models.UsageRecord, len(days))
	for k, v := range days {
		out[k] = v.Clone()
	}
	return out
}
