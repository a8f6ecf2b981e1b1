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

func testIdentity() engine.IdentityTable {
	return engine.IdentityTable{
		"smith, j":  "phy-1",
		"jones, k":  "phy-2",
		"dr. patel": "phy-3",
	}
}

func newTestNormalizer(t *testing.T) *engine.Normalizer {
	t.Helper()
	return engine.NewNormalizer(engine.NormalizerConfig{
		Location: time.UTC,
		Identity: testIdentity(),
	}, nil)
}

func TestNormalizer_DatabaseRow_CanonicalTimezone(t *testing.T) {
	// GIVEN: A database row with an offset timestamp
	// WHEN: Normalizing with UTC as the canonical timezone
	// THEN: Timestamps convert to UTC with the same instant

	n := newTestNormalizer(t)

	records, failures := n.Normalize([]engine.RawShiftRow{{
		Source:    engine.SourceDatabase,
		SourceKey: "db-1",
		Physician: "phy-1",
		Start:     "2025-03-10T07:00:00-05:00",
		End:       "2025-03-10T19:00:00-05:00",
	}})

	require.Empty(t, failures)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, engine.PhysicianID("phy-1"), rec.Physician)
	assert.Equal(t, time.UTC, rec.Start.Location())
	assert.True(t, rec.Start.Equal(time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, 12*time.Hour, rec.Duration())
}

func TestNormalizer_ScrapedRow_ClockTimesAndAlias(t *testing.T) {
	// GIVEN: A scraped roster row with a date, clock times, and a display name
	// WHEN: Normalizing
	// THEN: The alias resolves to the canonical physician ID and the clock
	//       times combine with the date in the canonical timezone

	n := newTestNormalizer(t)

	records, failures := n.Normalize([]engine.RawShiftRow{{
		Source:    engine.SourceScraped,
		SourceKey: "am-7",
		Physician: "Smith, J",
		Date:      "2025-03-10",
		Start:     "07:00",
		End:       "19:00",
	}})

	require.Empty(t, failures)
	require.Len(t, records, 1)
	assert.Equal(t, engine.PhysicianID("phy-1"), records[0].Physician)
	assert.True(t, records[0].Start.Equal(time.Date(2025, time.March, 10, 7, 0, 0, 0, time.UTC)))
	assert.True(t, records[0].End.Equal(time.Date(2025, time.March, 10, 19, 0, 0, 0, time.UTC)))
}

func TestNormalizer_ScrapedRow_Overnight(t *testing.T) {
	// GIVEN: A scraped row whose end clock time is before its start
	// WHEN: Normalizing
	// THEN: The shift ends on the following day

	n := newTestNormalizer(t)

	records, failures := n.Normalize([]engine.RawShiftRow{{
		Source:    engine.SourceScraped,
		SourceKey: "am-9",
		Physician: "jones, k",
		Date:      "2025-03-10",
		Start:     "22:00",
		End:       "06:00",
	}})

	require.Empty(t, failures)
	require.Len(t, records, 1)
	assert.True(t, records[0].End.Equal(time.Date(2025, time.March, 11, 6, 0, 0, 0, time.UTC)))
	assert.Equal(t, 8*time.Hour, records[0].Duration())
}

func TestNormalizer_UnknownAlias_RecordedAsMappingFailure(t *testing.T) {
	// GIVEN: A scraped row whose physician name is not in the identity table
	// WHEN: Normalizing
	// THEN: The row is excluded and reported as a mapping failure; valid rows
	//       in the same batch still normalize

	n := newTestNormalizer(t)

	records, failures := n.Normalize([]engine.RawShiftRow{
		{Source: engine.SourceScraped, SourceKey: "am-1", Physician: "Unknown, X", Date: "2025-03-10", Start: "07:00", End: "19:00"},
		{Source: engine.SourceScraped, SourceKey: "am-2", Physician: "smith, j", Date: "2025-03-10", Start: "07:00", End: "19:00"},
	})

	require.Len(t, records, 1)
	require.Len(t, failures, 1)
	assert.Equal(t, engine.FailureMapping, failures[0].Kind)
	assert.Equal(t, "am-1", failures[0].SourceKey)
	assert.Contains(t, failures[0].Detail, "Unknown, X")
}

func TestNormalizer_MissingFields_RecordedAsMalformed(t *testing.T) {
	// GIVEN: Rows missing required fields or with unparseable values
	// WHEN: Normalizing
	// THEN: Each is excluded and reported as malformed, never silently dropped

	n := newTestNormalizer(t)

	records, failures := n.Normalize([]engine.RawShiftRow{
		{Source: engine.SourceDatabase, SourceKey: "db-1", Physician: "", Start: "2025-03-10T07:00:00Z", End: "2025-03-10T19:00:00Z"},
		{Source: engine.SourceDatabase, SourceKey: "db-2", Physician: "phy-1", Start: "", End: "2025-03-10T19:00:00Z"},
		{Source: engine.SourceDatabase, SourceKey: "db-3", Physician: "phy-1", Start: "not-a-time", End: "2025-03-10T19:00:00Z"},
		{Source: engine.SourceDatabase, SourceKey: "db-4", Physician: "phy-1", Start: "2025-03-10T19:00:00Z", End: "2025-03-10T19:00:00Z"},
	})

	assert.Empty(t, records)
	require.Len(t, failures, 4)
	for _, f := range failures {
		assert.Equal(t, engine.FailureMalformed, f.Kind)
	}
}

func TestNormalizer_Billing(t *testing.T) {
	// GIVEN: Billing rows, one valid and one with an unparseable wRVU value
	// WHEN: Normalizing billing
	// THEN: The valid row parses to a decimal quantity; the bad row is reported

	n := newTestNormalizer(t)

	records, failures := n.NormalizeBilling([]engine.RawBillingRow{
		{SourceKey: "bill-1", Physician: "phy-1", Date: "2025-03-10", WRVU: "12.75", ShiftKey: "db-1"},
		{SourceKey: "bill-2", Physician: "phy-1", Date: "2025-03-10", WRVU: "lots"},
	})

	require.Len(t, records, 1)
	assert.Equal(t, "12.75", records[0].WRVU.String())
	assert.Equal(t, "db-1", records[0].ShiftKey)

	require.Len(t, failures, 1)
	assert.Equal(t, "bill-2", failures[0].SourceKey)
	assert.Equal(t, engine.FailureMalformed, failures[0].Kind)
}

func TestIdentityTable_BuildAndMerge(t *testing.T) {
	// GIVEN: A table built from raw configuration keys and a per-run overlay
	// WHEN: Merging and resolving with sloppy casing/whitespace
	// THEN: Canonicalization applies on both paths and the overlay wins

	base := engine.NewIdentityTable(map[string]string{
		"  Smith, J ": "phy-1",
		"Jones, K":    "phy-2",
	})

	id, ok := base.Resolve("SMITH, J")
	require.True(t, ok)
	assert.Equal(t, engine.PhysicianID("phy-1"), id)

	merged := base.Merge(engine.NewIdentityTable(map[string]string{
		"Jones, K":  "phy-2b",
		"Dr. Patel": "phy-3",
	}))

	id, ok = merged.Resolve("jones, k")
	require.True(t, ok)
	assert.Equal(t, engine.PhysicianID("phy-2b"), id)
	_, ok = merged.Resolve("dr. patel")
	assert.True(t, ok)

	// The base table is untouched by the merge.
	id, _ = base.Resolve("jones, k")
	assert.Equal(t, engine.PhysicianID("phy-2"), id)

	// A nil base is a valid starting point for request-only tables.
	var empty engine.IdentityTable
	id, ok = empty.Merge(engine.NewIdentityTable(map[string]string{"Lee, A": "phy-9"})).Resolve("lee, a")
	require.True(t, ok)
	assert.Equal(t, engine.PhysicianID("phy-9"), id)
}
