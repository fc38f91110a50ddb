package cache

import (
	"context"
	"sync"
	"time"

	"github.com/marketingops/experiments/internal/domain/providers"
	"github.com/marketingops/experiments/pkg/clock"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryAdapter is a process-local CacheProvider with clock-driven expiry
type MemoryAdapter struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]memoryEntry
}

// NewMemoryAdapter creates an empty in-memory cache
func NewMemoryAdapter(c clock.Clock) *MemoryAdapter {
	if c == nil {
		c = clock.System{}
	}
	return &MemoryAdapter{clock: c, entries: make(map[string]memoryEntry)}
}

func (a *MemoryAdapter) lookup(key string) (memoryEntry, bool) {
	e, ok := a.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if e.expired(a.clock.Now()) {
		delete(a.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (a *MemoryAdapter) entry(value []byte, ttl time.Duration) memoryEntry {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = a.clock.Now().Add(ttl)
	}
	return e
}

// Get retrieves a value from cache
func (a *MemoryAdapter) Get(_ context.Context, key string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.lookup(key)
	if !ok {
		return nil, providers.ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores a value in cache with expiration
func (a *MemoryAdapter) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[key] = a.entry(value, ttl)
	return nil
}

// SetNX stores value only when key is absent
func (a *MemoryAdapter) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.lookup(key); ok {
		return false, nil
	}
	a.entries[key] = a.entry(value, ttl)
	return true, nil
}

// Delete removes a value from cache
func (a *MemoryAdapter) Delete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, key)
	return nil
}

// Exists checks if a key exists in cache
func (a *MemoryAdapter) Exists(_ context.Context, key string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.lookup(key)
	return ok, nil
}
