package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_Record(t *testing.T) {
	var tracker Tracker

	t.Run("healthy active endpoint increments", func(t *testing.T) {
		scores := map[string]int64{"a": 2}
		got := tracker.Record(scores, "a", true, "a")
		assert.Equal(t, int64(3), got)
	})

	t.Run("healthy idle endpoint keeps its score", func(t *testing.T) {
		scores := map[string]int64{"b": 4}
		got := tracker.Record(scores, "b", true, "a")
		assert.Equal(t, int64(4), got)
	})

	t.Run("failure resets any endpoint", func(t *testing.T) {
		scores := map[string]int64{"a": 10, "b": 4}
		assert.Equal(t, int64(0), tracker.Record(scores, "a", false, "a"))
		assert.Equal(t, int64(0), tracker.Record(scores, "b", false, "a"))
	})

	t.Run("increment saturates instead of overflowing", func(t *testing.T) {
		scores := map[string]int64{"a": math.MaxInt64}
		got := tracker.Record(scores, "a", true, "a")
		assert.Equal(t, int64(math.MaxInt64), got)
	})
}
