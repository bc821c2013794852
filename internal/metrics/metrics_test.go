package metrics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersSnapshot(t *testing.T) {
	r := New()
	r.IncPriceUpdates()
	r.IncPriceUpdates()
	r.IncCacheHits()
	r.IncCacheMisses()
	r.IncAPIRequests()
	r.IncEventsReceived()
	r.SetWSConnections(42)

	c := r.CountersSnapshot()
	assert.Equal(t, int64(2), c.PriceUpdates)
	assert.Equal(t, int64(1), c.CacheHits)
	assert.Equal(t, int64(1), c.CacheMisses)
	assert.Equal(t, int64(1), c.APIRequests)
	assert.Equal(t, int64(1), c.EventsReceived)
	assert.Equal(t, int64(42), c.WSConnections)
}

func TestErrorRingEvictsOldest(t *testing.T) {
	r := New()
	for i := 0; i < errorRingCap+10; i++ {
		r.RecordError("test", fmt.Sprintf("error %d", i))
	}

	ring := r.RecentErrors()
	require.Len(t, ring, errorRingCap)
	assert.Equal(t, "error 10", ring[0].Message, "oldest ten evicted")
	assert.Equal(t, fmt.Sprintf("error %d", errorRingCap+9), ring[errorRingCap-1].Message)
}

func TestGetStatsIncludesRing(t *testing.T) {
	r := New()
	r.RecordError("source-a", "boom")

	stats := r.GetStats()
	require.Len(t, stats.RecentErrors, 1)
	assert.Equal(t, "source-a", stats.RecentErrors[0].Source)
	assert.GreaterOrEqual(t, stats.UptimeSeconds, 0.0)
}
