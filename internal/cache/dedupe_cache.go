package cache

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/marketfuse/attribution-engine/internal/observer"
)

// EventDedupeCache is a bloom-filter front for event idempotence checks. A
// negative answer is definitive (the event was never seen), a positive one
// may be a false positive, so the database unique constraint stays the
// source of truth. It only saves the round trip for the common duplicate
// redelivery case.
type EventDedupeCache struct {
	seenFilter     *bloom.BloomFilter
	mu             sync.RWMutex
	hits           atomic.Int64
	misses         atomic.Int64
	falsePositives atomic.Int64
	orgID          string
}

// NewEventDedupeCache creates a dedupe cache sized for the expected event
// volume within one deduplication horizon.
func NewEventDedupeCache(orgID string, expectedEvents uint, fpRate float64) *EventDedupeCache {
	return &EventDedupeCache{
		seenFilter: bloom.NewWithEstimates(expectedEvents, fpRate),
		orgID:      orgID,
	}
}

// generateKey hashes org and event ID with FNV-1a.
func (c *EventDedupeCache) generateKey(eventID string) string {
	h := fnv.New64a()
	h.Write([]byte(c.orgID + ":" + eventID))
	return fmt.Sprintf("%x", h.Sum64())
}

// MightBeSeen reports whether the event ID may have been processed before.
// False means definitely new.
func (c *EventDedupeCache) MightBeSeen(eventID string) bool {
	key := c.generateKey(eventID)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.seenFilter.TestString(key) {
		c.hits.Add(1)
		observer.IncDedupeCacheCheck(c.orgID, true)
		return true
	}
	c.misses.Add(1)
	observer.IncDedupeCacheCheck(c.orgID, false)
	return false
}

// MarkSeen records an event ID as processed.
func (c *EventDedupeCache) MarkSeen(eventID string) {
	key := c.generateKey(eventID)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seenFilter.AddString(key)
}

// RecordFalsePositive tracks a bloom hit that the database contradicted.
func (c *EventDedupeCache) RecordFalsePositive() {
	c.falsePositives.Add(1)
}

// Reset replaces the filter, forgetting all recorded events. Called
// periodically so the filter's effective false-positive rate does not creep
// up as it fills.
func (c *EventDedupeCache) Reset(expectedEvents uint, fpRate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seenFilter = bloom.NewWithEstimates(expectedEvents, fpRate)
}

// Stats returns cache counters.
func (c *EventDedupeCache) Stats() DedupeCacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	fps := c.falsePositives.Load()
	total := hits + misses

	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	c.mu.RLock()
	size := c.seenFilter.ApproximatedSize()
	c.mu.RUnlock()

	return DedupeCacheStats{
		Hits:           hits,
		Misses:         misses,
		HitRate:        hitRate,
		FalsePositives: fps,
		ApproxSize:     size,
	}
}

// DedupeCacheStats summarizes dedupe cache behavior.
type DedupeCacheStats struct {
	Hits           int64
	Misses         int64
	HitRate        float64
	FalsePositives int64
	ApproxSize     uint32
}
