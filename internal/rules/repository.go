package rules

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no rule exists for the given id.
	ErrNotFound = errors.New("rules: rule not found")
	// ErrCommitConflict is returned when an update carries a stale version,
	// meaning someone else committed in between. The caller's tick result
	// is discarded and the rule re-evaluated next tick.
	ErrCommitConflict = errors.New("rules: version conflict")
)

// Repository is the durable store for failover rules. Updates are
// compare-and-swap on Rule.Version so a late-committing scheduler tick
// cannot clobber a concurrent user edit.
type Repository interface {
	Create(ctx context.Context, rule *Rule) error
	Get(ctx context.Context, id uuid.UUID) (*Rule, error)
	ListEnabled(ctx context.Context) ([]*Rule, error)
	ListByAccount(ctx context.Context, accountID string) ([]*Rule, error)
	Update(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, id uuid.UUID) error
}
