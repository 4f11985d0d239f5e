package rules

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func validRule() *Rule {
	return &Rule{
		ID:            uuid.New(),
		AccountID:     "acct-1",
		PriorityChain: []string{"https://a.example/manifest.json", "https://b.example/manifest.json"},
		Enabled:       true,
		Stabilization: map[string]int64{},
	}
}

func TestRule_Validate(t *testing.T) {
	t.Run("valid rule passes", func(t *testing.T) {
		assert.NoError(t, validRule().Validate())
	})

	t.Run("rejects missing account", func(t *testing.T) {
		r := validRule()
		r.AccountID = ""
		assert.Error(t, r.Validate())
	})

	t.Run("rejects chain shorter than two", func(t *testing.T) {
		r := validRule()
		r.PriorityChain = r.PriorityChain[:1]
		err := r.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "two endpoints")
	})

	t.Run("rejects duplicate endpoints", func(t *testing.T) {
		r := validRule()
		r.PriorityChain = append(r.PriorityChain, r.PriorityChain[0])
		err := r.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("rejects active url outside the chain", func(t *testing.T) {
		r := validRule()
		r.ActiveURL = "https://elsewhere.example"
		assert.Error(t, r.Validate())
	})

	t.Run("rejects negative cooldown", func(t *testing.T) {
		r := validRule()
		r.Cooldown = -time.Second
		assert.Error(t, r.Validate())
	})
}

func TestRule_Tiers(t *testing.T) {
	r := validRule()

	assert.Equal(t, 0, r.Tier(r.PriorityChain[0]))
	assert.Equal(t, 1, r.Tier(r.PriorityChain[1]))
	assert.Equal(t, -1, r.Tier("https://unknown.example"))

	assert.Equal(t, -1, r.ActiveTier())
	r.ActiveURL = r.PriorityChain[1]
	assert.Equal(t, 1, r.ActiveTier())
}

func TestRule_State(t *testing.T) {
	r := validRule()
	installed := r.PriorityChain

	t.Run("unknown before first evaluation", func(t *testing.T) {
		assert.Equal(t, StateUnknown, r.State(installed))
	})

	t.Run("primary when active is tier zero", func(t *testing.T) {
		r := validRule()
		r.ActiveURL = r.PriorityChain[0]
		assert.Equal(t, StatePrimary, r.State(installed))
	})

	t.Run("failed over on any lower tier", func(t *testing.T) {
		r := validRule()
		r.ActiveURL = r.PriorityChain[1]
		assert.Equal(t, StateFailedOver, r.State(installed))
	})

	t.Run("disabled wins over everything", func(t *testing.T) {
		r := validRule()
		r.Enabled = false
		assert.Equal(t, StateDisabled, r.State(installed))
	})

	t.Run("broken when a chain endpoint is uninstalled", func(t *testing.T) {
		r := validRule()
		r.ActiveURL = r.PriorityChain[0]
		assert.Equal(t, StateBroken, r.State(installed[:1]))
	})
}

func TestRuleState_String(t *testing.T) {
	assert.Equal(t, "primary", StatePrimary.String())
	assert.Equal(t, "failed-over", StateFailedOver.String())
	assert.Equal(t, "disabled", StateDisabled.String())
	assert.Equal(t, "broken", StateBroken.String())
	assert.Equal(t, "unknown", StateUnknown.String())
}

func TestRule_Clone(t *testing.T) {
	r := validRule()
	r.ActiveURL = r.PriorityChain[0]
	r.Stabilization["a"] = 3
	now := time.Now()
	r.LastCheck = &now

	cp := r.Clone()
	cp.PriorityChain[0] = "mutated"
	cp.Stabilization["a"] = 99
	*cp.LastCheck = now.Add(time.Hour)

	assert.NotEqual(t, r.PriorityChain[0], cp.PriorityChain[0])
	assert.Equal(t, int64(3), r.Stabilization["a"])
	assert.True(t, r.LastCheck.Equal(now))
}
