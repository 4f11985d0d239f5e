package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/arkforge/autopilot/internal/history"
	"github.com/arkforge/autopilot/internal/probe"
	"github.com/arkforge/autopilot/internal/rules"
)

// Transition classifies the outcome of one rule evaluation
type Transition int

const (
	// TransitionNone means the rule stays where it is.
	TransitionNone Transition = iota
	// TransitionAdopt is the first evaluation of a rule that has never
	// had an active endpoint; it picks one without counting as a failover.
	TransitionAdopt
	// TransitionFailover is a demotion away from tier 0.
	TransitionFailover
	// TransitionRecovery is a promotion back onto tier 0.
	TransitionRecovery
	// TransitionSelfHealing is any other inter-tier move.
	TransitionSelfHealing
)

func (t Transition) String() string {
	switch t {
	case TransitionAdopt:
		return "adopt"
	case TransitionFailover:
		return "failover"
	case TransitionRecovery:
		return "recovery"
	case TransitionSelfHealing:
		return "self-healing"
	default:
		return "none"
	}
}

// EventType maps a transition to its history classification.
func (t Transition) EventType() history.EventType {
	switch t {
	case TransitionFailover:
		return history.EventFailover
	case TransitionRecovery:
		return history.EventRecovery
	case TransitionSelfHealing:
		return history.EventSelfHealing
	default:
		return history.EventInfo
	}
}

// Decision is the full outcome of evaluating one rule against one tick's
// probe results. It is a proposal: nothing has been persisted or swapped
// until the scheduler commits it.
type Decision struct {
	RuleID        uuid.UUID        `json:"rule_id"`
	Transition    Transition       `json:"-"`
	TransitionStr string           `json:"transition"`
	From          string           `json:"from,omitempty"`
	To            string           `json:"to,omitempty"`
	Stabilization map[string]int64 `json:"stabilization"`
	NoHealthyTier bool             `json:"no_healthy_tier,omitempty"`
	Message       string           `json:"message"`
}

// Changed reports whether the decision moves the active endpoint.
func (d Decision) Changed() bool {
	return d.Transition != TransitionNone
}

// Evaluate is the failover state machine: a pure function from (rule,
// probe results) to a decision. It never mutates the rule, never performs
// I/O, and treats every missing or failed probe as unhealthy.
//
// Order of business per the transition rules:
//  1. A healthy active endpoint earns a stabilization point and, when the
//     rule is failed over, higher-priority tiers are consulted for
//     promotion (a single healthy probe is enough; no dwell time).
//  2. An unhealthy active endpoint is demoted to the first healthy tier
//     in chain order, skipping itself.
//  3. With no healthy tier anywhere the rule stays put and is reported,
//     not thrashed.
func Evaluate(rule *rules.Rule, results map[string]probe.Result) Decision {
	var tracker Tracker
	scores := cloneScores(rule.Stabilization)

	decision := Decision{
		RuleID:        rule.ID,
		Stabilization: scores,
		From:          rule.ActiveURL,
	}

	// Failed probes reset scores no matter which tier they belong to.
	for endpoint, res := range results {
		if !res.Healthy {
			tracker.Record(scores, endpoint, false, "")
		}
	}

	if rule.ActiveURL == "" {
		evaluateAdoption(rule, results, &decision)
	} else if healthy(results, rule.ActiveURL) {
		evaluatePromotion(rule, results, &decision)
	} else {
		evaluateDemotion(rule, results, &decision)
	}

	// The prospective active endpoint earns its point only off a healthy
	// probe from this same tick.
	if active := decision.activeAfter(); active != "" && healthy(results, active) {
		tracker.Record(scores, active, true, active)
	}

	decision.TransitionStr = decision.Transition.String()
	return decision
}

// activeAfter is the endpoint that will be active once the decision commits.
func (d *Decision) activeAfter() string {
	if d.Changed() {
		return d.To
	}
	return d.From
}

// evaluateAdoption handles a rule that has never been evaluated: it
// adopts the first healthy tier, or tier 0 when nothing is healthy yet.
func evaluateAdoption(rule *rules.Rule, results map[string]probe.Result, decision *Decision) {
	to := firstHealthyTier(rule.PriorityChain, results, "")
	if to == "" {
		to = rule.PriorityChain[0]
		decision.NoHealthyTier = true
	}
	decision.Transition = TransitionAdopt
	decision.To = to
	if decision.NoHealthyTier {
		decision.Message = fmt.Sprintf("adopted primary %s with no healthy tier yet", to)
	} else {
		decision.Message = fmt.Sprintf("adopted %s as active endpoint", to)
	}
}

// evaluatePromotion re-probes tiers above the current one while failed
// over; one healthy probe of a higher tier promotes immediately.
func evaluatePromotion(rule *rules.Rule, results map[string]probe.Result, decision *Decision) {
	tier := rule.ActiveTier()
	if tier <= 0 {
		decision.Message = fmt.Sprintf("active endpoint %s healthy", rule.ActiveURL)
		return
	}

	for i := 0; i < tier; i++ {
		candidate := rule.PriorityChain[i]
		if !healthy(results, candidate) {
			continue
		}
		decision.To = candidate
		if i == 0 {
			decision.Transition = TransitionRecovery
			decision.Message = fmt.Sprintf("primary %s healthy again; promoting from %s", candidate, rule.ActiveURL)
		} else {
			decision.Transition = TransitionSelfHealing
			decision.Message = fmt.Sprintf("higher tier %s healthy; promoting from %s", candidate, rule.ActiveURL)
		}
		return
	}

	decision.Message = fmt.Sprintf("active endpoint %s healthy; higher tiers still down", rule.ActiveURL)
}

// evaluateDemotion moves off a failed active endpoint onto the first
// healthy tier in chain order.
func evaluateDemotion(rule *rules.Rule, results map[string]probe.Result, decision *Decision) {
	to := firstHealthyTier(rule.PriorityChain, results, rule.ActiveURL)
	if to == "" {
		decision.NoHealthyTier = true
		decision.Message = fmt.Sprintf("active endpoint %s unhealthy and no healthy tier available; staying put", rule.ActiveURL)
		return
	}

	decision.To = to
	switch {
	case to == rule.PriorityChain[0]:
		decision.Transition = TransitionRecovery
		decision.Message = fmt.Sprintf("%s unhealthy; recovering to primary %s", rule.ActiveURL, to)
	case rule.ActiveURL == rule.PriorityChain[0]:
		decision.Transition = TransitionFailover
		decision.Message = fmt.Sprintf("primary %s unhealthy; failing over to %s", rule.ActiveURL, to)
	default:
		decision.Transition = TransitionSelfHealing
		decision.Message = fmt.Sprintf("%s unhealthy; self-healing to %s", rule.ActiveURL, to)
	}
}

// firstHealthyTier walks the chain in priority order and returns the
// first healthy endpoint that is not the excluded one.
func firstHealthyTier(chain []string, results map[string]probe.Result, exclude string) string {
	for _, endpoint := range chain {
		if endpoint == exclude {
			continue
		}
		if healthy(results, endpoint) {
			return endpoint
		}
	}
	return ""
}

func healthy(results map[string]probe.Result, endpoint string) bool {
	res, ok := results[endpoint]
	return ok && res.Healthy
}
