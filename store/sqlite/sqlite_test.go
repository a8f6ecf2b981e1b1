package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/comp-engine/engine"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleResult() *engine.RunResult {
	period := engine.MonthPeriod(2025, time.March, time.UTC)
	start := time.Date(2025, time.March, 10, 7, 0, 0, 0, time.UTC)

	item := engine.CompensationLineItem{
		ShiftID:   "phy-1/2025-03-10T07:00:00Z/db-1",
		Physician: "phy-1",
		Start:     start,
		End:       start.Add(12 * time.Hour),
		Hours:     d("12"),
		BaseRate:  d("200"),
		Base:      d("2400"),
		Differentials: []engine.DifferentialAmount{
			{Rule: "night", Hours: d("2"), Amount: d("50")},
		},
		WRVU:                  d("30.5"),
		ProductivityIncentive: d("500"),
		PerformanceIncentive:  d("0"),
	}
	item.Total = item.ComponentSum()

	issues := []engine.Issue{{
		ShiftID:   item.ShiftID,
		Physician: "phy-1",
		Kind:      engine.IssueNonHourStart,
		Severity:  engine.SeverityInfo,
		Detail:    "shift starts at 07:15 instead of on the hour",
	}}

	return &engine.RunResult{
		RunID:     "run-test-1",
		Period:    period,
		CreatedAt: time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC),
		Ledgers:   engine.Assembler{}.Assemble(period, []engine.CompensationLineItem{item}, issues),
		Issues:    issues,
		Unattributed: []engine.BillingRecord{
			{Physician: "phy-9", Date: start, WRVU: d("7.7"), ShiftKey: "orphan"},
		},
		Failures: []engine.RowFailure{
			{Source: engine.SourceScraped, SourceKey: "sc-9", Kind: engine.FailureMapping, Detail: "unknown alias"},
		},
		Skipped: []engine.PhysicianFailure{
			{Physician: "phy-2", Detail: "no parameters effective"},
		},
	}
}

func TestStore_SaveAndGetRun(t *testing.T) {
	// GIVEN: A finished run with every report section populated
	// WHEN: Saving and reading it back
	// THEN: The reassembled result matches what was stored

	store := newTestStore(t)
	ctx := context.Background()
	original := sampleResult()

	require.NoError(t, store.SaveRun(ctx, original))

	loaded, err := store.GetRun(ctx, original.RunID)
	require.NoError(t, err)

	assert.Equal(t, original.RunID, loaded.RunID)
	assert.True(t, original.Period.Start.Equal(loaded.Period.Start))
	assert.True(t, original.CreatedAt.Equal(loaded.CreatedAt))

	require.Len(t, loaded.Ledgers, 1)
	ledger := loaded.Ledgers[0]
	require.Len(t, ledger.LineItems, 1)
	item := ledger.LineItems[0]
	assert.True(t, item.Base.Equal(d("2400")))
	assert.True(t, item.Total.Equal(item.ComponentSum()))
	require.Len(t, item.Differentials, 1)
	assert.Equal(t, "night", item.Differentials[0].Rule)
	assert.True(t, item.Differentials[0].Amount.Equal(d("50")))
	assert.True(t, ledger.PeriodTotal.Equal(original.Ledgers[0].PeriodTotal))

	require.Len(t, loaded.Issues, 1)
	assert.Equal(t, engine.IssueNonHourStart, loaded.Issues[0].Kind)
	require.Len(t, loaded.Unattributed, 1)
	assert.True(t, loaded.Unattributed[0].WRVU.Equal(d("7.7")))
	require.Len(t, loaded.Failures, 1)
	assert.Equal(t, engine.FailureMapping, loaded.Failures[0].Kind)
	require.Len(t, loaded.Skipped, 1)
	assert.Equal(t, engine.PhysicianID("phy-2"), loaded.Skipped[0].Physician)
}

func TestStore_GetRun_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRun(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, engine.ErrRunNotFound)
}

func TestStore_ListRuns_MostRecentFirst(t *testing.T) {
	// GIVEN: Two stored runs with different creation times
	// WHEN: Listing
	// THEN: The newer run comes first and counts reflect stored rows

	store := newTestStore(t)
	ctx := context.Background()

	first := sampleResult()
	second := sampleResult()
	second.RunID = "run-test-2"
	second.CreatedAt = first.CreatedAt.Add(time.Hour)

	require.NoError(t, store.SaveRun(ctx, first))
	require.NoError(t, store.SaveRun(ctx, second))

	summaries, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "run-test-2", summaries[0].RunID)
	assert.Equal(t, 1, summaries[0].Physicians)
	assert.Equal(t, 1, summaries[0].Issues)
}

func TestStore_ParameterSets_RoundTrip(t *testing.T) {
	// GIVEN: Two parameter versions, one open-ended, one with nested rules
	// WHEN: Saving and loading
	// THEN: Versions come back in effective order with rules intact

	store := newTestStore(t)
	ctx := context.Background()

	jan := engine.ParameterSet{
		Category:       engine.CategoryCompensation,
		EffectiveFrom:  time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		EffectiveTo:    time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		BaseHourlyRate: d("180"),
	}
	mar := engine.ParameterSet{
		Category:       engine.CategoryCompensation,
		EffectiveFrom:  time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		BaseHourlyRate: d("200"),
		Differentials: []engine.DifferentialRule{{
			Name:   "night",
			Window: engine.ClockWindow{From: engine.NewClock(22, 0), To: engine.NewClock(6, 0)},
			Kind:   engine.DifferentialFlat,
			Rate:   d("25"),
		}},
		ProductivityBands: []engine.ProductivityBand{
			{Min: d("0"), Incentive: d("0")},
			{Min: d("400"), Incentive: d("500")},
		},
		Performance: &engine.PerformanceCriteria{
			MinIssueFreeRatio: d("0.9"),
			MinShifts:         10,
			Incentive:         d("1000"),
		},
	}

	require.NoError(t, store.SaveParameterSet(ctx, mar))
	require.NoError(t, store.SaveParameterSet(ctx, jan))

	sets, err := store.LoadParameterSets(ctx)
	require.NoError(t, err)
	require.Len(t, sets, 2)

	assert.True(t, sets[0].BaseHourlyRate.Equal(d("180")))
	assert.False(t, sets[0].EffectiveTo.IsZero())

	loaded := sets[1]
	assert.True(t, loaded.EffectiveTo.IsZero())
	require.Len(t, loaded.Differentials, 1)
	assert.Equal(t, engine.DifferentialFlat, loaded.Differentials[0].Kind)
	assert.Equal(t, 22, loaded.Differentials[0].Window.From.Hour)
	require.Len(t, loaded.ProductivityBands, 2)
	assert.True(t, loaded.ProductivityBands[1].Incentive.Equal(d("500")))
	require.NotNil(t, loaded.Performance)
	assert.Equal(t, 10, loaded.Performance.MinShifts)
}

func TestStore_SaveParameterSet_SameStartReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ps := engine.ParameterSet{
		Category:       engine.CategoryCompensation,
		EffectiveFrom:  time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		BaseHourlyRate: d("180"),
	}
	require.NoError(t, store.SaveParameterSet(ctx, ps))

	ps.BaseHourlyRate = d("210")
	require.NoError(t, store.SaveParameterSet(ctx, ps))

	sets, err := store.LoadParameterSets(ctx)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.True(t, sets[0].BaseHourlyRate.Equal(d("210")))
}
