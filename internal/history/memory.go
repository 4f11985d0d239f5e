package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps history in process, oldest-first internally. Used in
// tests and for running the engine without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append records an entry, filling in id and timestamp when missing.
func (m *MemoryStore) Append(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	cp := *entry
	m.entries = append(m.entries, &cp)
	return nil
}

// List returns matching entries newest-first.
func (m *MemoryStore) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var result []*Entry
	skipped := 0
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		entry := m.entries[i]
		if filter.RuleID != uuid.Nil && entry.RuleID != filter.RuleID {
			continue
		}
		if filter.Type != "" && entry.Type != filter.Type {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		cp := *entry
		result = append(result, &cp)
	}
	return result, nil
}

// Prune removes the oldest entries beyond maxEntries.
func (m *MemoryStore) Prune(ctx context.Context, maxEntries int) (int64, error) {
	if maxEntries < 0 {
		maxEntries = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	excess := len(m.entries) - maxEntries
	if excess <= 0 {
		return 0, nil
	}

	m.entries = append([]*Entry(nil), m.entries[excess:]...)
	return int64(excess), nil
}
