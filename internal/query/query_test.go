package query_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/femtomc/monowiki-sub001/internal/query"
)

func TestInputQuerySetAndGet(t *testing.T) {
	db := query.NewDatabase()
	d := query.NewInput[string, string]("Source", query.Volatile)

	query.Set(db, d, "doc1", "# Hello")
	v, err := query.Query(db, d, "doc1")
	require.NoError(t, err)
	require.Equal(t, "# Hello", v)
}

func TestUnsetInputQueryReturnsZeroValue(t *testing.T) {
	db := query.NewDatabase()
	d := query.NewInput[string, string]("Source", query.Volatile)

	v, err := query.Query(db, d, "missing")
	require.NoError(t, err)
	require.Equal(t, "", v)
}

func TestDerivedQueryIsMemoized(t *testing.T) {
	db := query.NewDatabase()
	calls := 0
	upper := query.New[string, string]("Upper", query.Volatile, func(s *query.Sess, key string) string {
		calls++
		return key + "!"
	})

	v1, err := query.Query(db, upper, "a")
	require.NoError(t, err)
	v2, err := query.Query(db, upper, "a")
	require.NoError(t, err)

	require.Equal(t, "a!", v1)
	require.Equal(t, "a!", v2)
	require.Equal(t, 1, calls)
}

func TestDependencyClosureInvalidatesDependent(t *testing.T) {
	db := query.NewDatabase()
	source := query.NewInput[string, string]("Source", query.Volatile)
	upper := query.New[string, string]("Upper", query.Volatile, func(s *query.Sess, key string) string {
		v, _ := query.Ask(s, source, key)
		return v + "!"
	})

	query.Set(db, source, "doc", "a")
	v1, err := query.Query(db, upper, "doc")
	require.NoError(t, err)
	require.Equal(t, "a!", v1)

	query.Set(db, source, "doc", "b")
	v2, err := query.Query(db, upper, "doc")
	require.NoError(t, err)
	require.Equal(t, "b!", v2)
}

func TestEarlyCutoffSkipsDependentRecompute(t *testing.T) {
	db := query.NewDatabase()
	source := query.NewInput[string, string]("Source", query.Volatile)
	downstreamCalls := 0
	parse := query.New[string, string]("Parse", query.Volatile, func(s *query.Sess, key string) string {
		v, _ := query.Ask(s, source, key)
		if len(v) > 0 {
			return v[:1]
		}
		return ""
	})
	layout := query.New[string, string]("Layout", query.Volatile, func(s *query.Sess, key string) string {
		downstreamCalls++
		v, _ := query.Ask(s, parse, key)
		return "<" + v + ">"
	})

	query.Set(db, source, "doc", "abc")
	_, err := query.Query(db, layout, "doc")
	require.NoError(t, err)
	require.Equal(t, 1, downstreamCalls)

	// Changing the second/third byte doesn't change parse's first-byte
	// projection, so layout should not need to recompute.
	query.Set(db, source, "doc", "azz")
	_, err = query.Query(db, layout, "doc")
	require.NoError(t, err)
	require.Equal(t, 1, downstreamCalls)

	query.Set(db, source, "doc", "zzz")
	_, err = query.Query(db, layout, "doc")
	require.NoError(t, err)
	require.Equal(t, 2, downstreamCalls)
}

func TestCycleIsDetectedAndReported(t *testing.T) {
	db := query.NewDatabase()
	var a, b *query.Descriptor[string, string]
	a = query.New[string, string]("A", query.Volatile, func(s *query.Sess, key string) string {
		v, _ := query.Ask(s, b, key)
		return v
	})
	b = query.New[string, string]("B", query.Volatile, func(s *query.Sess, key string) string {
		v, _ := query.Ask(s, a, key)
		return v
	})

	_, err := query.Query(db, a, "x")
	require.Error(t, err)
	var cerr *query.CycleError
	require.ErrorAs(t, err, &cerr)
}

func TestRevisionMonotonicallyIncreases(t *testing.T) {
	db := query.NewDatabase()
	source := query.NewInput[string, string]("Source", query.Volatile)

	r0 := db.Revision()
	query.Set(db, source, "doc", "a")
	r1 := db.Revision()
	query.Set(db, source, "doc", "b")
	r2 := db.Revision()

	require.True(t, r1 > r0)
	require.True(t, r2 > r1)
}

func TestMetricsRecordHitsAndMisses(t *testing.T) {
	db := query.NewDatabase()
	d := query.New[string, string]("Echo", query.Volatile, func(s *query.Sess, key string) string {
		return key
	})

	_, _ = query.Query(db, d, "x")
	_, _ = query.Query(db, d, "x")

	snap := db.Metrics.For("Echo").Snapshot()
	require.Equal(t, uint64(1), snap.Misses)
	require.Equal(t, uint64(1), snap.Hits)
	require.Equal(t, uint64(1), snap.Executions)
}

func TestInvalidateForcesRecompute(t *testing.T) {
	db := query.NewDatabase()
	calls := 0
	d := query.New[string, string]("Echo", query.Volatile, func(s *query.Sess, key string) string {
		calls++
		return key
	})

	_, _ = query.Query(db, d, "x")
	query.Invalidate(db, d, "x")
	_, _ = query.Query(db, d, "x")

	require.Equal(t, 2, calls)
}
