// File: tokenizer.cache.inmemory.imp.go

package tokenizer

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// cacheEntry represents a cached value with its expiration time
type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCacheStore is an in-memory implementation of CacheStore.
// Suitable for development, testing, or single-instance deployments.
type MemoryCacheStore struct {
	mu              sync.RWMutex
	entries         map[string]cacheEntry
	clock           Clock
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
}

// NewMemoryCacheStore creates a new in-memory cache store.
// cleanupInterval determines how often expired entries are removed (default: 5 minutes)
func NewMemoryCacheStore(clock Clock, cleanupInterval time.Duration) *MemoryCacheStore {
	if clock == nil {
		clock = RealClock()
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	store := &MemoryCacheStore{
		entries:         make(map[string]cacheEntry),
		clock:           clock,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	// Start background cleanup
	go store.periodicCleanup()

	return store
}

func (m *MemoryCacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok || !m.clock.Now().Before(entry.expiresAt) {
		return nil, ErrCacheMiss
	}
	return slices.Clone(entry.value), nil
}

func (m *MemoryCacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = cacheEntry{
		value:     slices.Clone(value),
		expiresAt: m.clock.Now().Add(ttl),
	}
	return nil
}

func (m *MemoryCacheStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

// CleanupExpired removes expired entries from memory
func (m *MemoryCacheStore) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for key, entry := range m.entries {
		if !now.Before(entry.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// periodicCleanup runs background cleanup of expired entries
func (m *MemoryCacheStore) periodicCleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			m.CleanupExpired()
		}
	}
}

// Close stops the background cleanup goroutine
// Call this when shutting down the application
func (m *MemoryCacheStore) Close() error {
	m.cleanupOnce.Do(func() {
		close(m.stopCleanup)
	})
	return nil
}

// Len returns the number of entries, expired ones included.
func (m *MemoryCacheStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
