package engine

import "math"

// Tracker maintains per-endpoint reliability scores. A score counts
// consecutive healthy probes of an endpoint while it was the rule's
// prospective active endpoint; any failed probe resets that endpoint's
// score to zero. Scores for idle tiers persist across ticks so a
// previously failed backup keeps whatever trust it last earned.
type Tracker struct{}

// Record applies one probe outcome to the scores map and returns the
// endpoint's updated score. Increment saturates instead of overflowing.
func (Tracker) Record(scores map[string]int64, endpoint string, healthy bool, active string) int64 {
	if !healthy {
		scores[endpoint] = 0
		return 0
	}
	if endpoint != active {
		return scores[endpoint]
	}
	if scores[endpoint] < math.MaxInt64 {
		scores[endpoint]++
	}
	return scores[endpoint]
}

// Score returns an endpoint's current score.
func (Tracker) Score(scores map[string]int64, endpoint string) int64 {
	return scores[endpoint]
}

func cloneScores(scores map[string]int64) map[string]int64 {
	cp := make(map[string]int64, len(scores))
	for k, v := range scores {
		cp[k] = v
	}
	return cp
}
