// File: tokenizer.store.inmemory.imp.go

package tokenizer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryTokenStore is an in-memory implementation of TokenStore.
// Suitable for development, testing, or single-instance deployments.
type MemoryTokenStore struct {
	mu        sync.RWMutex
	records   map[uint64]*TokenRecord
	byAccess  map[string]uint64
	byRefresh map[string]uint64
}

// NewMemoryTokenStore creates an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		records:   make(map[uint64]*TokenRecord),
		byAccess:  make(map[string]uint64),
		byRefresh: make(map[string]uint64),
	}
}

// TokenExists checks every record, soft-deleted ones included, so a new
// value can never collide with a row that has not been purged yet.
func (m *MemoryTokenStore) TokenExists(ctx context.Context, tokenType TokenType, value string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch tokenType {
	case AccessTokenType:
		_, ok := m.byAccess[value]
		return ok, nil
	case RefreshTokenType:
		_, ok := m.byRefresh[value]
		return ok, nil
	default:
		return false, fmt.Errorf("invalid token type: %s", tokenType)
	}
}

func (m *MemoryTokenStore) FindByAccessToken(ctx context.Context, value string, now time.Time) (*TokenRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[m.byAccess[value]]
	if !ok || !record.AccessUsable(now) {
		return nil, ErrRecordNotFound
	}
	return record.Clone(), nil
}

func (m *MemoryTokenStore) FindByRefreshToken(ctx context.Context, value string, now time.Time) (*TokenRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[m.byRefresh[value]]
	if !ok || !record.RefreshUsable(now) {
		return nil, ErrRecordNotFound
	}
	return record.Clone(), nil
}

func (m *MemoryTokenStore) Create(ctx context.Context, record *TokenRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if record.ID == 0 {
		record.ID = GenerateID()
	}
	if _, ok := m.records[record.ID]; ok {
		return fmt.Errorf("%w: id %d", ErrDuplicateToken, record.ID)
	}
	if err := m.checkUnique(record); err != nil {
		return err
	}

	m.index(record.Clone())
	return nil
}

func (m *MemoryTokenStore) Update(ctx context.Context, record *TokenRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[record.ID]
	if !ok || !existing.Live() {
		return ErrRecordNotFound
	}
	if err := m.checkUnique(record); err != nil {
		return err
	}

	delete(m.byAccess, existing.AccessToken)
	delete(m.byRefresh, existing.RefreshToken)
	m.index(record.Clone())
	return nil
}

// checkUnique must be called with the write lock held.
func (m *MemoryTokenStore) checkUnique(record *TokenRecord) error {
	if id, ok := m.byAccess[record.AccessToken]; ok && id != record.ID {
		return fmt.Errorf("%w: access token", ErrDuplicateToken)
	}
	if id, ok := m.byRefresh[record.RefreshToken]; ok && id != record.ID {
		return fmt.Errorf("%w: refresh token", ErrDuplicateToken)
	}
	return nil
}

// index must be called with the write lock held.
func (m *MemoryTokenStore) index(record *TokenRecord) {
	m.records[record.ID] = record
	m.byAccess[record.AccessToken] = record.ID
	m.byRefresh[record.RefreshToken] = record.ID
}

func (m *MemoryTokenStore) Touch(ctx context.Context, id uint64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok || !record.Live() {
		return ErrRecordNotFound
	}
	record.LastUsedAt = &at
	return nil
}

func (m *MemoryTokenStore) SoftDelete(ctx context.Context, id uint64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok || !record.Live() {
		return false, nil
	}
	record.DeletedAt = &at
	record.UpdatedAt = at
	return true, nil
}

func (m *MemoryTokenStore) ListLive(ctx context.Context, ownerType, ownerID string) ([]*TokenRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []*TokenRecord
	for _, record := range m.records {
		if record.Live() && record.OwnerType == ownerType && record.OwnerID == ownerID {
			records = append(records, record.Clone())
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (m *MemoryTokenStore) PurgeBatch(ctx context.Context, criteria PurgeCriteria, limit int) (int, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("limit must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// lowest IDs first, like a chunked scan by primary key
	ids := make([]uint64, 0, len(m.records))
	for id, record := range m.records {
		if criteria.matches(record) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}

	for _, id := range ids {
		record := m.records[id]
		delete(m.byAccess, record.AccessToken)
		delete(m.byRefresh, record.RefreshToken)
		delete(m.records, id)
	}
	return len(ids), nil
}

// Stats returns statistics about the store
// Useful for monitoring and debugging
func (m *MemoryTokenStore) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	live := 0
	for _, record := range m.records {
		if record.Live() {
			live++
		}
	}
	return map[string]int{
		"records":         len(m.records),
		"live_records":    live,
		"revoked_records": len(m.records) - live,
	}
}
