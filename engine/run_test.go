package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/comp-engine/engine"
)

// =============================================================================
// TEST FIXTURE - one small but complete period
// =============================================================================

func testEngineInput() engine.RunInput {
	return engine.RunInput{
		Period: march2025,
		DatabaseRows: []engine.RawShiftRow{
			{SourceKey: "db-1", Physician: "phy-1", Start: "2025-03-10T07:00:00Z", End: "2025-03-10T19:00:00Z"},
			{SourceKey: "db-2", Physician: "phy-1", Start: "2025-03-12T07:15:00Z", End: "2025-03-12T19:15:00Z"},
			{SourceKey: "db-3", Physician: "phy-2", Start: "2025-03-11T22:00:00Z", End: "2025-03-12T06:00:00Z"},
			// Malformed: no end timestamp. Must be excluded and reported.
			{SourceKey: "db-bad", Physician: "phy-1", Start: "2025-03-14T07:00:00Z"},
			// Outside the period. Must be filtered, not failed.
			{SourceKey: "db-feb", Physician: "phy-1", Start: "2025-02-20T07:00:00Z", End: "2025-02-20T19:00:00Z"},
		},
		ScrapedRows: []engine.RawShiftRow{
			{SourceKey: "sc-1", Physician: "Smith, J", Date: "2025-03-10", Start: "07:00", End: "19:00"},
			{SourceKey: "sc-3", Physician: "Jones, K", Date: "2025-03-11", Start: "22:00", End: "06:00"},
		},
		BillingRows: []engine.RawBillingRow{
			{SourceKey: "bill-1", Physician: "phy-1", Date: "2025-03-10", WRVU: "30.5", ShiftKey: "db-1"},
			{SourceKey: "bill-2", Physician: "phy-3", Date: "2025-03-15", WRVU: "9.9"},
		},
	}
}

func testEngine(t *testing.T, workers int) *engine.Engine {
	t.Helper()
	store := engine.NewParameterStore()
	require.NoError(t, store.Insert(basicParams("200")))
	return engine.NewEngine(engine.EngineConfig{
		Normalizer: engine.NormalizerConfig{Location: time.UTC, Identity: testIdentity()},
		Workers:    workers,
	}, store, nil)
}

// =============================================================================
// END-TO-END
// =============================================================================

func TestEngine_Run_EndToEnd(t *testing.T) {
	// GIVEN: A period mixing matched shifts, a database-only shift, a
	//        malformed row, an out-of-period row, and unattributable billing
	// WHEN: Running the pipeline
	// THEN: Ledgers, issues, failures, and unattributed billing all surface

	eng := testEngine(t, 1)

	result, err := eng.Run(context.Background(), testEngineInput())
	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)

	// Two physicians with shifts; ledgers sorted by physician.
	require.Len(t, result.Ledgers, 2)
	assert.Equal(t, engine.PhysicianID("phy-1"), result.Ledgers[0].Physician)
	assert.Equal(t, engine.PhysicianID("phy-2"), result.Ledgers[1].Physician)

	// phy-1: two march shifts, 12h each at $200/h, 30.5 wRVU attributed.
	phy1 := result.Ledgers[0]
	require.Len(t, phy1.LineItems, 2)
	assert.True(t, phy1.TotalHours.Equal(money("24")))
	assert.True(t, phy1.TotalBase.Equal(money("4800")))
	assert.True(t, phy1.TotalWRVU.Equal(money("30.5")))
	assert.True(t, phy1.PeriodTotal.Equal(money("4800")))

	// db-2 has no scraped counterpart and starts off the hour.
	issueKinds := kinds(result.Issues)
	assert.Contains(t, issueKinds, engine.IssueNonHourStart)
	assert.Contains(t, issueKinds, engine.IssueSourceDiscrepancy)

	// The malformed row is reported, not fatal.
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "db-bad", result.Failures[0].SourceKey)
	assert.Equal(t, engine.FailureMalformed, result.Failures[0].Kind)

	// phy-3 billed without any shift: unattributed, never dropped.
	require.Len(t, result.Unattributed, 1)
	assert.Equal(t, engine.PhysicianID("phy-3"), result.Unattributed[0].Physician)

	// The February row must not appear anywhere in the ledger, and every
	// paid item covers exactly its fixture duration.
	for _, item := range phy1.LineItems {
		assert.True(t, march2025.Contains(item.Start), "out-of-period item %s", item.ShiftID)
		assert.True(t, item.Hours.Equal(money("12")), "hours for %s: %s", item.ShiftID, item.Hours)
	}
}

func TestEngine_Run_MatchedPairsCarryStatus(t *testing.T) {
	// GIVEN: The fixture input
	// WHEN: Running
	// THEN: The cross-source matched shifts raise no discrepancy issues

	eng := testEngine(t, 1)
	result, err := eng.Run(context.Background(), testEngineInput())
	require.NoError(t, err)

	for _, issue := range result.Issues {
		if issue.Kind == engine.IssueSourceDiscrepancy {
			assert.Equal(t, engine.PhysicianID("phy-1"), issue.Physician,
				"only the unconfirmed db-2 shift may be flagged")
		}
	}
}

// =============================================================================
// DETERMINISM
// =============================================================================

func TestEngine_Run_Deterministic(t *testing.T) {
	// GIVEN: Identical inputs and parameters
	// WHEN: Running repeatedly, sequentially and with a worker pool
	// THEN: Everything except run ID and timestamp is identical

	input := testEngineInput()

	sequential, err := testEngine(t, 1).Run(context.Background(), input)
	require.NoError(t, err)

	for _, workers := range []int{1, 4} {
		result, err := testEngine(t, workers).Run(context.Background(), input)
		require.NoError(t, err)

		assert.Equal(t, sequential.Ledgers, result.Ledgers, "workers=%d", workers)
		assert.Equal(t, sequential.Issues, result.Issues, "workers=%d", workers)
		assert.Equal(t, sequential.Unattributed, result.Unattributed, "workers=%d", workers)
		assert.Equal(t, sequential.Failures, result.Failures, "workers=%d", workers)
		assert.Equal(t, sequential.Skipped, result.Skipped, "workers=%d", workers)
	}
}

// =============================================================================
// FATAL CONDITIONS
// =============================================================================

func TestEngine_Run_InvalidPeriod(t *testing.T) {
	// GIVEN: An inverted period
	// WHEN: Running
	// THEN: The run refuses to start

	eng := testEngine(t, 1)
	_, err := eng.Run(context.Background(), engine.RunInput{
		Period: engine.Period{Start: at(10, 0, 0), End: at(1, 0, 0)},
	})
	assert.ErrorIs(t, err, engine.ErrInvalidPeriod)
}

func TestEngine_Run_ParametersUnavailable(t *testing.T) {
	// GIVEN: An engine constructed without a parameter store
	// WHEN: Running
	// THEN: The whole run fails; no partial output

	eng := engine.NewEngine(engine.EngineConfig{}, nil, nil)
	_, err := eng.Run(context.Background(), engine.RunInput{Period: march2025})
	assert.ErrorIs(t, err, engine.ErrParametersUnavailable)
}

func TestEngine_Run_SnapshotIsolation(t *testing.T) {
	// GIVEN: A parameter update that lands after a run's snapshot was taken
	// WHEN: Comparing runs before and after the update
	// THEN: Each run reflects the parameters current at its own start

	store := engine.NewParameterStore()
	require.NoError(t, store.Insert(basicParams("200")))
	eng := engine.NewEngine(engine.EngineConfig{
		Normalizer: engine.NormalizerConfig{Location: time.UTC, Identity: testIdentity()},
	}, store, nil)

	before, err := eng.Run(context.Background(), testEngineInput())
	require.NoError(t, err)

	require.NoError(t, store.Insert(basicParams("300")))
	after, err := eng.Run(context.Background(), testEngineInput())
	require.NoError(t, err)

	assert.True(t, before.Ledgers[0].TotalBase.Equal(money("4800")))
	assert.True(t, after.Ledgers[0].TotalBase.Equal(money("7200")))
}
