/*
scheduler_test.go - Unit tests for the monthly run scheduler

Tests for:
- File-backed input provider (monthly drop parsing, identity overlay)
- Automatic execution of a missing month
- Skipping months that already have a run
*/
package api

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/comp-engine/engine"
)

func writeMonthlyDrop(t *testing.T, dir string, period engine.Period, req RunRequest) {
	t.Helper()

	data, err := json.Marshal(req)
	require.NoError(t, err)
	path := filepath.Join(dir, period.Start.Format("2006-01")+".json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestFileInputProvider_ReadsMonthlyDrop(t *testing.T) {
	// GIVEN: A drop file for March carrying rows and identity aliases
	// WHEN: Fetching that period
	// THEN: Rows parse, the scheduled period overrides the file's, and the
	//       identity overlay comes back canonicalized

	dir := t.TempDir()
	period := engine.MonthPeriod(2025, time.March, time.UTC)
	writeMonthlyDrop(t, dir, period, RunRequest{
		// Stale period fields in the drop must not leak into the run.
		PeriodStart: "2020-01-01",
		PeriodEnd:   "2020-02-01",
		DatabaseRows: []ShiftRowDTO{
			{SourceKey: "db-1", Physician: "phy-1", Start: "2025-03-10T07:00:00Z", End: "2025-03-10T19:00:00Z"},
		},
		Identity: map[string]string{"Smith, J": "phy-1"},
	})

	provider := &FileInputProvider{Dir: dir, Location: time.UTC}
	input, overlay, err := provider.FetchInput(context.Background(), period)
	require.NoError(t, err)

	assert.True(t, input.Period.Start.Equal(period.Start))
	assert.True(t, input.Period.End.Equal(period.End))
	require.Len(t, input.DatabaseRows, 1)
	assert.Equal(t, "db-1", input.DatabaseRows[0].SourceKey)

	id, ok := overlay.Resolve("SMITH, J")
	require.True(t, ok)
	assert.Equal(t, engine.PhysicianID("phy-1"), id)
}

func TestFileInputProvider_MissingDrop(t *testing.T) {
	provider := &FileInputProvider{Dir: t.TempDir(), Location: time.UTC}

	_, _, err := provider.FetchInput(context.Background(), engine.MonthPeriod(2025, time.March, time.UTC))
	assert.Error(t, err)
}

func TestRunScheduler_ExecutesMissingMonthOnce(t *testing.T) {
	// GIVEN: A drop for the previous calendar month and no stored run
	// WHEN: The scheduler checks twice
	// THEN: Exactly one run is executed and persisted for that period

	h := testHandler(t)
	dir := t.TempDir()
	period := engine.PreviousMonth(time.Now().UTC(), time.UTC)
	writeMonthlyDrop(t, dir, period, RunRequest{
		Identity: map[string]string{"Patel, R": "phy-7"},
		ScrapedRows: []ShiftRowDTO{{
			SourceKey: "sc-1",
			Physician: "Patel, R",
			Date:      period.Start.Format("2006-01-02"),
			Start:     "07:00",
			End:       "19:00",
		}},
	})

	scheduler := NewRunScheduler(h, &FileInputProvider{Dir: dir, Location: time.UTC})
	scheduler.RunNow()
	scheduler.RunNow()

	summaries, err := h.Runs.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.True(t, summaries[0].Period.Start.Equal(period.Start))
	assert.True(t, summaries[0].Period.End.Equal(period.End))

	// The drop's identity overlay resolved the scraped alias.
	run, err := h.Runs.GetRun(context.Background(), summaries[0].RunID)
	require.NoError(t, err)
	require.Len(t, run.Ledgers, 1)
	assert.Equal(t, engine.PhysicianID("phy-7"), run.Ledgers[0].Physician)
}
