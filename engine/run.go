/*
run.go - Full-pipeline orchestration

PURPOSE:
  Runs a single batch: one immutable input snapshot in, one immutable
  RunResult out. Each run snapshots the parameter store at invocation start,
  so concurrent administrative updates never affect an in-flight run.

CONCURRENCY:
  Physicians are independent; when Workers > 1 the detect/calculate stage
  fans out per physician, each worker writing into an indexed slot. Output
  is merged in physician order, so the worker count never changes the
  result.

FAILURE POLICY:
  Per-row and per-physician failures are isolated and reported on the
  result. The only run-level fatal conditions are an invalid period and an
  unavailable parameter store, which abort with no partial ledger.
*/
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

type EngineConfig struct {
	Normalizer NormalizerConfig
	Reconciler ReconcilerConfig
	Detector   DetectorConfig
	Calculator CalculatorConfig

	// Workers caps per-physician parallelism. Values below 2 run the
	// pipeline sequentially.
	Workers int
}

type Engine struct {
	cfg    EngineConfig
	params *ParameterStore
	log    *zap.Logger
}

func NewEngine(cfg EngineConfig, params *ParameterStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, params: params, log: logger}
}

// RunInput is the already-materialized dataset for one period. The engine
// performs no I/O; collaborators hand it finished rows.
type RunInput struct {
	Period       Period
	DatabaseRows []RawShiftRow
	ScrapedRows  []RawShiftRow
	BillingRows  []RawBillingRow
}

// Run executes the batch pipeline over one period's data.
func (e *Engine) Run(ctx context.Context, input RunInput) (*RunResult, error) {
	if !input.Period.IsValid() {
		return nil, ErrInvalidPeriod
	}
	if e.params == nil {
		return nil, ErrParametersUnavailable
	}
	snapshot := e.params.Snapshot()

	normalizer := NewNormalizer(e.cfg.Normalizer, e.log)
	dbShifts, dbFailures := normalizer.Normalize(tagged(input.DatabaseRows, SourceDatabase))
	scShifts, scFailures := normalizer.Normalize(tagged(input.ScrapedRows, SourceScraped))
	billing, billingFailures := normalizer.NormalizeBilling(input.BillingRows)

	failures := append(append(dbFailures, scFailures...), billingFailures...)

	dbShifts = inPeriod(dbShifts, input.Period)
	scShifts = inPeriod(scShifts, input.Period)
	billing = billingInPeriod(billing, input.Period)

	reconciled := NewReconciler(e.cfg.Reconciler).Reconcile(dbShifts, scShifts)
	e.log.Info("shifts reconciled",
		zap.String("period", input.Period.String()),
		zap.Int("database", len(dbShifts)),
		zap.Int("scraped", len(scShifts)),
		zap.Int("reconciled", len(reconciled)),
		zap.Int("row_failures", len(failures)))

	issues, calc := e.compute(ctx, input.Period, snapshot, reconciled, billing)

	result := &RunResult{
		RunID:        uuid.NewString(),
		Period:       input.Period,
		CreatedAt:    time.Now().UTC(),
		Ledgers:      Assembler{}.Assemble(input.Period, calc.LineItems, issues),
		Issues:       issues,
		Unattributed: calc.Unattributed,
		Failures:     failures,
		Skipped:      calc.Skipped,
	}

	e.log.Info("run complete",
		zap.String("run_id", result.RunID),
		zap.Int("ledgers", len(result.Ledgers)),
		zap.Int("issues", len(result.Issues)),
		zap.Int("unattributed", len(result.Unattributed)),
		zap.Int("skipped_physicians", len(result.Skipped)))
	return result, nil
}

// compute runs detection and calculation, fanning out per physician when
// configured. Per-physician work is independent: no shared mutable state.
func (e *Engine) compute(ctx context.Context, period Period, snapshot *ParameterSnapshot,
	reconciled []ReconciledShift, billing []BillingRecord) ([]Issue, *CalculationResult) {

	detector := NewDetector(e.cfg.Detector)
	calculator := NewCalculator(e.cfg.Calculator, snapshot, e.log)

	physicians := sortedPhysicians(reconciled, billing)
	shiftsByPhysician := groupByPhysician(reconciled)
	billingByPhysician := make(map[PhysicianID][]BillingRecord)
	for _, b := range billing {
		billingByPhysician[b.Physician] = append(billingByPhysician[b.Physician], b)
	}

	type partition struct {
		issues []Issue
		calc   *CalculationResult
	}
	parts := make([]partition, len(physicians))

	work := func(i int) {
		p := physicians[i]
		shifts := shiftsByPhysician[p]
		issues := detector.Detect(shifts)
		calc := calculator.Calculate(period, shifts, issues, billingByPhysician[p])
		parts[i] = partition{issues: issues, calc: calc}
	}

	if e.cfg.Workers > 1 && len(physicians) > 1 {
		var wg sync.WaitGroup
		indexes := make(chan int)
		for w := 0; w < e.cfg.Workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range indexes {
					work(i)
				}
			}()
		}
		for i := range physicians {
			if ctx.Err() != nil {
				break
			}
			indexes <- i
		}
		close(indexes)
		wg.Wait()
	} else {
		for i := range physicians {
			work(i)
		}
	}

	var issues []Issue
	merged := &CalculationResult{}
	for _, part := range parts {
		if part.calc == nil {
			continue
		}
		issues = append(issues, part.issues...)
		merged.LineItems = append(merged.LineItems, part.calc.LineItems...)
		merged.Unattributed = append(merged.Unattributed, part.calc.Unattributed...)
		merged.Excluded = append(merged.Excluded, part.calc.Excluded...)
		merged.Skipped = append(merged.Skipped, part.calc.Skipped...)
	}
	return issues, merged
}

// =============================================================================
// HELPERS
// =============================================================================

// tagged stamps rows with their source so callers only hand over two lists.
func tagged(rows []RawShiftRow, source Source) []RawShiftRow {
	out := make([]RawShiftRow, len(rows))
	for i, row := range rows {
		row.Source = source
		out[i] = row
	}
	return out
}

func inPeriod(records []ShiftRecord, period Period) []ShiftRecord {
	var out []ShiftRecord
	for _, rec := range records {
		if period.Contains(rec.Start) {
			out = append(out, rec)
		}
	}
	return out
}

func billingInPeriod(records []BillingRecord, period Period) []BillingRecord {
	var out []BillingRecord
	for _, rec := range records {
		if period.Contains(rec.Date) {
			out = append(out, rec)
		}
	}
	return out
}

// =============================================================================
// RUN STORE - Persistence boundary for run results
// =============================================================================

// RunSummary is the listing view of a stored run.
type RunSummary struct {
	RunID      string
	Period     Period
	CreatedAt  time.Time
	Physicians int
	Issues     int
}

// RunStore persists finished run results. Implementations live in store/.
type RunStore interface {
	SaveRun(ctx context.Context, result *RunResult) error
	GetRun(ctx context.Context, runID string) (*RunResult, error)
	ListRuns(ctx context.Context) ([]RunSummary, error)
}

// ParameterRepository persists parameter versions across restarts.
type ParameterRepository interface {
	SaveParameterSet(ctx context.Context, ps ParameterSet) error
	LoadParameterSets(ctx context.Context) ([]ParameterSet, error)
}

// Summarize builds the listing view for a result.
func Summarize(result *RunResult) RunSummary {
	return RunSummary{
		RunID:      result.RunID,
		Period:     result.Period,
		CreatedAt:  result.CreatedAt,
		Physicians: len(result.Ledgers),
		Issues:     len(result.Issues),
	}
}
