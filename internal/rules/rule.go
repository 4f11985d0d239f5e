package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RuleState represents the evaluation state of a failover rule
type RuleState int

const (
	StatePrimary RuleState = iota
	StateFailedOver
	StateDisabled
	StateBroken
	StateUnknown
)

func (s RuleState) String() string {
	switch s {
	case StatePrimary:
		return "primary"
	case StateFailedOver:
		return "failed-over"
	case StateDisabled:
		return "disabled"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// Rule is an ordered failover chain of addon endpoints for one account.
// PriorityChain[0] is the most preferred endpoint; ActiveURL is the
// endpoint currently installed on the account, empty until the first
// evaluation. Version is an optimistic-concurrency token: every committed
// update must carry the version it read, and bumps it by one.
type Rule struct {
	ID            uuid.UUID        `json:"id"`
	AccountID     string           `json:"account_id"`
	Name          string           `json:"name,omitempty"`
	PriorityChain []string         `json:"priority_chain"`
	ActiveURL     string           `json:"active_url,omitempty"`
	Enabled       bool             `json:"enabled"`
	Stabilization map[string]int64 `json:"stabilization"`
	LastCheck     *time.Time       `json:"last_check,omitempty"`
	LastFailover  *time.Time       `json:"last_failover,omitempty"`
	Cooldown      time.Duration    `json:"cooldown"` // 0 means use the global default
	Version       int64            `json:"version"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Validate checks the structural invariants of a rule.
func (r *Rule) Validate() error {
	if r.AccountID == "" {
		return errors.New("rules: account id is required")
	}
	if len(r.PriorityChain) < 2 {
		return errors.New("rules: priority chain needs at least two endpoints")
	}
	seen := make(map[string]bool, len(r.PriorityChain))
	for _, url := range r.PriorityChain {
		if url == "" {
			return errors.New("rules: priority chain contains an empty endpoint")
		}
		if seen[url] {
			return fmt.Errorf("rules: duplicate endpoint %q in priority chain", url)
		}
		seen[url] = true
	}
	if r.ActiveURL != "" && !seen[r.ActiveURL] {
		return fmt.Errorf("rules: active url %q is not in the priority chain", r.ActiveURL)
	}
	if r.Cooldown < 0 {
		return errors.New("rules: cooldown must not be negative")
	}
	return nil
}

// Tier returns the chain index of an endpoint, or -1 if absent.
func (r *Rule) Tier(endpoint string) int {
	for i, url := range r.PriorityChain {
		if url == endpoint {
			return i
		}
	}
	return -1
}

// ActiveTier returns the chain index of the active endpoint, or -1 if
// the rule has never been evaluated.
func (r *Rule) ActiveTier() int {
	if r.ActiveURL == "" {
		return -1
	}
	return r.Tier(r.ActiveURL)
}

// State derives the rule's evaluation state from the endpoints currently
// installed on the account. A rule whose chain references an endpoint no
// longer installed is broken and excluded from evaluation.
func (r *Rule) State(installed []string) RuleState {
	if !r.Enabled {
		return StateDisabled
	}

	have := make(map[string]bool, len(installed))
	for _, url := range installed {
		have[url] = true
	}
	for _, url := range r.PriorityChain {
		if !have[url] {
			return StateBroken
		}
	}
	if r.ActiveURL != "" && !have[r.ActiveURL] {
		return StateBroken
	}

	switch {
	case r.ActiveURL == "":
		return StateUnknown
	case r.ActiveURL == r.PriorityChain[0]:
		return StatePrimary
	default:
		return StateFailedOver
	}
}

// Clone returns a deep copy so repository callers cannot alias stored state.
func (r *Rule) Clone() *Rule {
	cp := *r
	cp.PriorityChain = append([]string(nil), r.PriorityChain...)
	if r.Stabilization != nil {
		cp.Stabilization = make(map[string]int64, len(r.Stabilization))
		for k, v := range r.Stabilization {
			cp.Stabilization[k] = v
		}
	}
	if r.LastCheck != nil {
		t := *r.LastCheck
		cp.LastCheck = &t
	}
	if r.LastFailover != nil {
		t := *r.LastFailover
		cp.LastFailover = &t
	}
	return &cp
}
