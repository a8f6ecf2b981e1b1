package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/comp-engine/engine"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func shiftAt(physician string, source engine.Source, key string, start time.Time, hours int) engine.ShiftRecord {
	return engine.ShiftRecord{
		Physician: engine.PhysicianID(physician),
		Start:     start,
		End:       start.Add(time.Duration(hours) * time.Hour),
		Source:    source,
		SourceKey: key,
	}
}

func at(day, hour, minute int) time.Time {
	return time.Date(2025, time.March, day, hour, minute, 0, 0, time.UTC)
}

func TestReconciler_ExactMatch(t *testing.T) {
	// GIVEN: A database shift and a scraped shift with identical start times
	// WHEN: Reconciling
	// THEN: One matched-exact record retaining both sides, zero drift

	r := engine.NewReconciler(engine.ReconcilerConfig{})

	out := r.Reconcile(
		[]engine.ShiftRecord{shiftAt("phy-1", engine.SourceDatabase, "db-1", at(10, 7, 0), 12)},
		[]engine.ShiftRecord{shiftAt("phy-1", engine.SourceScraped, "am-1", at(10, 7, 0), 12)},
	)

	require.Len(t, out, 1)
	assert.Equal(t, engine.MatchExact, out[0].Status)
	assert.Zero(t, out[0].StartDrift)
	require.NotNil(t, out[0].Database)
	require.NotNil(t, out[0].Scraped)
}

func TestReconciler_DriftWithinTolerance(t *testing.T) {
	// GIVEN: A scraped shift starting 10 minutes after the database shift,
	//        tolerance 15 minutes
	// WHEN: Reconciling
	// THEN: matched-time-drift with drift=10m, both sides retained

	r := engine.NewReconciler(engine.ReconcilerConfig{Tolerance: 15 * time.Minute})

	out := r.Reconcile(
		[]engine.ShiftRecord{shiftAt("phy-1", engine.SourceDatabase, "db-1", at(10, 7, 0), 12)},
		[]engine.ShiftRecord{shiftAt("phy-1", engine.SourceScraped, "am-1", at(10, 7, 10), 12)},
	)

	require.Len(t, out, 1)
	assert.Equal(t, engine.MatchTimeDrift, out[0].Status)
	assert.Equal(t, 10*time.Minute, out[0].StartDrift)
}

func TestReconciler_DriftBeyondTolerance(t *testing.T) {
	// GIVEN: Start times 20 minutes apart, tolerance 15 minutes
	// WHEN: Reconciling
	// THEN: No match; one database-only and one scraped-only record

	r := engine.NewReconciler(engine.ReconcilerConfig{Tolerance: 15 * time.Minute})

	out := r.Reconcile(
		[]engine.ShiftRecord{shiftAt("phy-1", engine.SourceDatabase, "db-1", at(10, 7, 0), 12)},
		[]engine.ShiftRecord{shiftAt("phy-1", engine.SourceScraped, "am-1", at(10, 7, 20), 12)},
	)

	require.Len(t, out, 2)
	statuses := []engine.MatchStatus{out[0].Status, out[1].Status}
	assert.Contains(t, statuses, engine.MatchDatabaseOnly)
	assert.Contains(t, statuses, engine.MatchScrapedOnly)
}

func TestReconciler_NoDoubleMatching(t *testing.T) {
	// GIVEN: Two database shifts the same day and one scraped shift closest
	//        to the second
	// WHEN: Reconciling
	// THEN: The scraped shift matches only the closer database shift; the
	//       other database shift is database-only

	r := engine.NewReconciler(engine.ReconcilerConfig{})

	out := r.Reconcile(
		[]engine.ShiftRecord{
			shiftAt("phy-1", engine.SourceDatabase, "db-1", at(10, 7, 0), 8),
			shiftAt("phy-1", engine.SourceDatabase, "db-2", at(10, 7, 10), 8),
		},
		[]engine.ShiftRecord{shiftAt("phy-1", engine.SourceScraped, "am-1", at(10, 7, 12), 8)},
	)

	require.Len(t, out, 2)

	matched := 0
	for _, rs := range out {
		if rs.Scraped != nil {
			matched++
			require.NotNil(t, rs.Database)
			assert.Equal(t, "db-2", rs.Database.SourceKey)
			assert.Equal(t, 2*time.Minute, rs.StartDrift)
		} else {
			assert.Equal(t, engine.MatchDatabaseOnly, rs.Status)
			assert.Equal(t, "db-1", rs.Database.SourceKey)
		}
	}
	assert.Equal(t, 1, matched)
}

func TestReconciler_GroupsByPhysicianAndDate(t *testing.T) {
	// GIVEN: Same start times but different physicians
	// WHEN: Reconciling
	// THEN: No cross-physician match is ever made

	r := engine.NewReconciler(engine.ReconcilerConfig{})

	out := r.Reconcile(
		[]engine.ShiftRecord{shiftAt("phy-1", engine.SourceDatabase, "db-1", at(10, 7, 0), 12)},
		[]engine.ShiftRecord{shiftAt("phy-2", engine.SourceScraped, "am-1", at(10, 7, 0), 12)},
	)

	require.Len(t, out, 2)
	for _, rs := range out {
		assert.NotEqual(t, engine.MatchExact, rs.Status)
		assert.NotEqual(t, engine.MatchTimeDrift, rs.Status)
	}
}

func TestReconciler_DeterministicOrder(t *testing.T) {
	// GIVEN: The same inputs presented in different slice orders
	// WHEN: Reconciling twice
	// THEN: The outputs are identical

	r := engine.NewReconciler(engine.ReconcilerConfig{})

	db := []engine.ShiftRecord{
		shiftAt("phy-2", engine.SourceDatabase, "db-2", at(10, 15, 0), 8),
		shiftAt("phy-1", engine.SourceDatabase, "db-1", at(10, 7, 0), 8),
	}
	sc := []engine.ShiftRecord{
		shiftAt("phy-1", engine.SourceScraped, "am-1", at(10, 7, 5), 8),
		shiftAt("phy-2", engine.SourceScraped, "am-2", at(10, 15, 0), 8),
	}

	first := r.Reconcile(db, sc)
	second := r.Reconcile(
		[]engine.ShiftRecord{db[1], db[0]},
		[]engine.ShiftRecord{sc[1], sc[0]},
	)

	require.Equal(t, first, second)
}
