package rules

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository with the same
// compare-and-swap semantics as the postgres store. Used in tests and
// for running the engine without a database.
type MemoryRepository struct {
	mu    sync.RWMutex
	rules map[uuid.UUID]*Rule
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rules: make(map[uuid.UUID]*Rule),
	}
}

// Create stores a new rule, assigning an id and version if missing.
func (m *MemoryRepository) Create(ctx context.Context, rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if rule.Version == 0 {
		rule.Version = 1
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	m.rules[rule.ID] = rule.Clone()
	return nil
}

// Get returns a copy of the rule with the given id.
func (m *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rule, ok := m.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rule.Clone(), nil
}

// ListEnabled returns all rules participating in automated evaluation.
func (m *MemoryRepository) ListEnabled(ctx context.Context) ([]*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Rule
	for _, rule := range m.rules {
		if rule.Enabled {
			result = append(result, rule.Clone())
		}
	}
	sortRules(result)
	return result, nil
}

// ListByAccount returns all rules owned by an account.
func (m *MemoryRepository) ListByAccount(ctx context.Context, accountID string) ([]*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Rule
	for _, rule := range m.rules {
		if rule.AccountID == accountID {
			result = append(result, rule.Clone())
		}
	}
	sortRules(result)
	return result, nil
}

// Update applies a compare-and-swap write. The incoming rule must carry
// the version it was read at; on success the stored and incoming rule
// both advance to version+1.
func (m *MemoryRepository) Update(ctx context.Context, rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.rules[rule.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != rule.Version {
		return ErrCommitConflict
	}

	rule.Version++
	rule.UpdatedAt = time.Now().UTC()
	m.rules[rule.ID] = rule.Clone()
	return nil
}

// Delete removes a rule.
func (m *MemoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[id]; !ok {
		return ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

// sortRules gives deterministic list ordering for tests and pagination.
func sortRules(rs []*Rule) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].AccountID != rs[j].AccountID {
			return rs[i].AccountID < rs[j].AccountID
		}
		return rs[i].ID.String() < rs[j].ID.String()
	})
}
