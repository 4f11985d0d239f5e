package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an autopilot transition
type EventType string

const (
	// EventFailover is an automatic demotion away from tier 0.
	EventFailover EventType = "failover"
	// EventRecovery is an automatic promotion back to tier 0.
	EventRecovery EventType = "recovery"
	// EventSelfHealing is any other automatic tier change.
	EventSelfHealing EventType = "self-healing"
	// EventInfo covers non-transition records: first-evaluation adoption,
	// broken rules, user actions.
	EventInfo EventType = "info"
)

// Entry is one immutable audit record. Entries are created only by the
// engine and never mutated after Append.
type Entry struct {
	ID        uuid.UUID              `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"type"`
	RuleID    uuid.UUID              `json:"rule_id"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	RuleID uuid.UUID
	Type   EventType
	Limit  int
	Offset int
}

// Store is the append-only event log. List returns entries newest-first;
// Prune drops the oldest entries beyond the retention cap and reports how
// many were removed.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) ([]*Entry, error)
	Prune(ctx context.Context, maxEntries int) (int64, error)
}

// defaultListLimit caps List when the filter gives no limit.
const defaultListLimit = 100
