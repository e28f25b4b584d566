package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventDedupeCache_MarkAndCheck(t *testing.T) {
	c := NewEventDedupeCache("org_test", 1000, 0.01)

	assert.False(t, c.MightBeSeen("evt-1"))

	c.MarkSeen("evt-1")
	assert.True(t, c.MightBeSeen("evt-1"))

	// A marked event never reads as unseen, no matter how often we ask.
	for i := 0; i < 10; i++ {
		assert.True(t, c.MightBeSeen("evt-1"))
	}
}

func TestEventDedupeCache_OrgIsolation(t *testing.T) {
	a := NewEventDedupeCache("org_a", 1000, 0.01)
	b := NewEventDedupeCache("org_b", 1000, 0.01)

	a.MarkSeen("evt-shared")
	assert.True(t, a.MightBeSeen("evt-shared"))
	assert.False(t, b.MightBeSeen("evt-shared"))
}

func TestEventDedupeCache_NoFalseNegatives(t *testing.T) {
	c := NewEventDedupeCache("org_test", 10000, 0.01)

	for i := 0; i < 5000; i++ {
		c.MarkSeen(fmt.Sprintf("evt-%d", i))
	}
	for i := 0; i < 5000; i++ {
		require.True(t, c.MightBeSeen(fmt.Sprintf("evt-%d", i)), "marked event must always test positive")
	}
}

func TestEventDedupeCache_Stats(t *testing.T) {
	c := NewEventDedupeCache("org_test", 1000, 0.01)

	c.MightBeSeen("evt-1") // miss
	c.MarkSeen("evt-1")
	c.MightBeSeen("evt-1") // hit
	c.RecordFalsePositive()

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.Equal(t, int64(1), stats.FalsePositives)
}

func TestEventDedupeCache_Reset(t *testing.T) {
	c := NewEventDedupeCache("org_test", 1000, 0.01)

	c.MarkSeen("evt-1")
	require.True(t, c.MightBeSeen("evt-1"))

	c.Reset(1000, 0.01)
	assert.False(t, c.MightBeSeen("evt-1"))
}
