package metrics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/femtomc/monowiki-sub001/internal/metrics"
)

func TestCounterHitRate(t *testing.T) {
	c := metrics.NewCounter("q")
	c.RecordHit()
	c.RecordHit()
	c.RecordMiss()

	snap := c.Snapshot()
	require.Equal(t, uint64(2), snap.Hits)
	require.Equal(t, uint64(1), snap.Misses)
	require.InDelta(t, 2.0/3.0, snap.HitRate(), 1e-9)
}

func TestCounterExecutionTiming(t *testing.T) {
	c := metrics.NewCounter("q")
	c.RecordExecution(10 * time.Millisecond)
	c.RecordExecution(20 * time.Millisecond)

	snap := c.Snapshot()
	require.Equal(t, uint64(2), snap.Executions)
	require.Equal(t, 15*time.Millisecond, snap.AvgExecutionTime())
}

func TestCounterReset(t *testing.T) {
	c := metrics.NewCounter("q")
	c.RecordHit()
	c.RecordMiss()
	c.Reset()

	snap := c.Snapshot()
	require.Zero(t, snap.Hits)
	require.Zero(t, snap.Misses)
}

func TestCounterEarlyCutoffRate(t *testing.T) {
	c := metrics.NewCounter("q")
	c.RecordExecution(time.Millisecond)
	c.RecordExecution(time.Millisecond)
	c.RecordEarlyCutoff()

	snap := c.Snapshot()
	require.InDelta(t, 0.5, snap.EarlyCutoffRate(), 1e-9)
}

func TestRegistryForCreatesOnFirstUse(t *testing.T) {
	r := metrics.NewRegistry()
	c1 := r.For("alpha")
	c2 := r.For("alpha")
	require.Same(t, c1, c2)
}

func TestRegistrySnapshotIsSortedByName(t *testing.T) {
	r := metrics.NewRegistry()
	r.For("zeta").RecordHit()
	r.For("alpha").RecordHit()

	snaps := r.Snapshot()
	require.Len(t, snaps, 2)
	require.Equal(t, "alpha", snaps[0].QueryName)
	require.Equal(t, "zeta", snaps[1].QueryName)
}

func TestRegistryResetZeroesAllCounters(t *testing.T) {
	r := metrics.NewRegistry()
	r.For("a").RecordHit()
	r.For("b").RecordMiss()
	r.Reset()

	for _, snap := range r.Snapshot() {
		require.Zero(t, snap.Hits)
		require.Zero(t, snap.Misses)
	}
}
