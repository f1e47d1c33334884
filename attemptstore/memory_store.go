package attemptstore

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps failure counters in process memory using go-cache, so
// entries expire on their own once a host stops failing.
type MemoryStore struct {
	mu     sync.Mutex
	cache  *cache.Cache
	window time.Duration
}

// NewMemoryStore creates an in-memory Store.
//
// Parameters:
//   - window: How long a host's failures are kept after its last failure; DefaultWindow when <= 0
//
// Returns:
//   - A new *MemoryStore
func NewMemoryStore(window time.Duration) *MemoryStore {
	if window <= 0 {
		window = DefaultWindow
	}

	return &MemoryStore{
		cache:  cache.New(window, window),
		window: window,
	}
}

// Record implements Store.
func (m *MemoryStore) Record(ctx context.Context, key string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	count := 1
	if val, found := m.cache.Get(key); found {
		if n, ok := val.(int); ok {
			count = n + 1
		}
	}

	m.cache.Set(key, count, m.window)
	return count, nil
}

// Count implements Store.
func (m *MemoryStore) Count(ctx context.Context, key string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	val, found := m.cache.Get(key)
	if !found {
		return 0, nil
	}

	n, _ := val.(int)
	return n, nil
}

// Reset implements Store.
func (m *MemoryStore) Reset(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.cache.Delete(key)
	return nil
}

// Len returns the number of hosts currently tracked.
func (m *MemoryStore) Len() int {
	return m.cache.ItemCount()
}
