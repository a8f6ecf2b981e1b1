/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements engine.RunStore and engine.ParameterRepository using SQLite.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  parameter_sets:  Versioned compensation parameters (rates, rules, bands)
  runs:            One row per finished engine run
  line_items:      Itemized per-shift pay, keyed by run
  issues:          Detected anomalies, keyed by run
  unattributed:    Billing rows no shift could claim
  row_failures:    Input rows excluded during normalization
  skipped:         Physicians whose period could not be computed

RUN RESULTS ARE IMMUTABLE:
  A finished run is written once inside a single database transaction and
  never updated. Recomputation produces a new run with a new ID; old runs
  stay queryable for audit.

PRECISION:
  Money and wRVU amounts are stored as TEXT (decimal string), never as
  REAL. Timestamps are RFC3339 TEXT.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/comp.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - engine/run.go: Interface definitions
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/comp-engine/engine"
)

// Store implements engine.RunStore and engine.ParameterRepository.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Versioned compensation parameters
	CREATE TABLE IF NOT EXISTS parameter_sets (
		category TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		base_hourly_rate TEXT NOT NULL,
		differentials_json TEXT,
		bands_json TEXT,
		performance_json TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (category, effective_from)
	);

	-- Finished runs (immutable; one row per run)
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at
		ON runs(created_at DESC);

	-- Per-shift itemized pay (hot path for ledger reads)
	CREATE TABLE IF NOT EXISTS line_items (
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		shift_id TEXT NOT NULL,
		physician TEXT NOT NULL,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		hours TEXT NOT NULL,
		base_rate TEXT NOT NULL,
		base TEXT NOT NULL,
		differentials_json TEXT,
		wrvu TEXT NOT NULL,
		productivity_incentive TEXT NOT NULL,
		performance_incentive TEXT NOT NULL,
		total TEXT NOT NULL,
		PRIMARY KEY (run_id, shift_id)
	);

	CREATE INDEX IF NOT EXISTS idx_line_items_run_physician
		ON line_items(run_id, physician, start_at);

	-- Detected anomalies
	CREATE TABLE IF NOT EXISTS issues (
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		shift_id TEXT NOT NULL,
		physician TEXT NOT NULL,
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		detail TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_issues_run
		ON issues(run_id, physician, shift_id);

	-- Billing rows no shift could claim
	CREATE TABLE IF NOT EXISTS unattributed (
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		physician TEXT NOT NULL,
		date TEXT NOT NULL,
		wrvu TEXT NOT NULL,
		shift_key TEXT
	);

	-- Input rows excluded during normalization
	CREATE TABLE IF NOT EXISTS row_failures (
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		source TEXT NOT NULL,
		source_key TEXT NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT
	);

	-- Physicians whose period could not be computed
	CREATE TABLE IF NOT EXISTS skipped (
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		physician TEXT NOT NULL,
		detail TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RUN STORE (engine.RunStore interface)
// =============================================================================

// SaveRun writes a finished run atomically: the run row and every child row
// commit together or not at all.
func (s *Store) SaveRun(ctx context.Context, result *engine.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, period_start, period_end, created_at) VALUES (?, ?, ?, ?)`,
		result.RunID,
		result.Period.Start.Format(time.RFC3339),
		result.Period.End.Format(time.RFC3339),
		result.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, ledger := range result.Ledgers {
		for _, item := range ledger.LineItems {
			diffJSON, _ := json.Marshal(item.Differentials)
			_, err = tx.ExecContext(ctx, `
				INSERT INTO line_items
				(run_id, shift_id, physician, start_at, end_at, hours, base_rate, base,
				 differentials_json, wrvu, productivity_incentive, performance_incentive, total)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				result.RunID,
				string(item.ShiftID),
				string(item.Physician),
				item.Start.Format(time.RFC3339),
				item.End.Format(time.RFC3339),
				item.Hours.String(),
				item.BaseRate.String(),
				item.Base.String(),
				string(diffJSON),
				item.WRVU.String(),
				item.ProductivityIncentive.String(),
				item.PerformanceIncentive.String(),
				item.Total.String(),
			)
			if err != nil {
				return fmt.Errorf("failed to insert line item: %w", err)
			}
		}
	}

	for _, issue := range result.Issues {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO issues (run_id, shift_id, physician, kind, severity, detail) VALUES (?, ?, ?, ?, ?, ?)`,
			result.RunID, string(issue.ShiftID), string(issue.Physician),
			string(issue.Kind), string(issue.Severity), issue.Detail,
		)
		if err != nil {
			return fmt.Errorf("failed to insert issue: %w", err)
		}
	}

	for _, b := range result.Unattributed {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO unattributed (run_id, physician, date, wrvu, shift_key) VALUES (?, ?, ?, ?, ?)`,
			result.RunID, string(b.Physician), b.Date.Format(time.RFC3339), b.WRVU.String(), b.ShiftKey,
		)
		if err != nil {
			return fmt.Errorf("failed to insert unattributed billing: %w", err)
		}
	}

	for _, f := range result.Failures {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO row_failures (run_id, source, source_key, kind, detail) VALUES (?, ?, ?, ?, ?)`,
			result.RunID, string(f.Source), f.SourceKey, string(f.Kind), f.Detail,
		)
		if err != nil {
			return fmt.Errorf("failed to insert row failure: %w", err)
		}
	}

	for _, sk := range result.Skipped {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO skipped (run_id, physician, detail) VALUES (?, ?, ?)`,
			result.RunID, string(sk.Physician), sk.Detail,
		)
		if err != nil {
			return fmt.Errorf("failed to insert skipped physician: %w", err)
		}
	}

	return tx.Commit()
}

// GetRun rebuilds a stored run, reassembling ledgers from line items and
// issues so the stored form stays normalized.
func (s *Store) GetRun(ctx context.Context, runID string) (*engine.RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := &engine.RunResult{RunID: runID}

	var periodStart, periodEnd, createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT period_start, period_end, created_at FROM runs WHERE run_id = ?`, runID,
	).Scan(&periodStart, &periodEnd, &createdAt)
	if err == sql.ErrNoRows {
		return nil, engine.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	result.Period.Start, _ = time.Parse(time.RFC3339, periodStart)
	result.Period.End, _ = time.Parse(time.RFC3339, periodEnd)
	result.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	items, err := s.queryLineItems(ctx, runID)
	if err != nil {
		return nil, err
	}
	result.Issues, err = s.queryIssues(ctx, runID)
	if err != nil {
		return nil, err
	}
	result.Unattributed, err = s.queryUnattributed(ctx, runID)
	if err != nil {
		return nil, err
	}
	result.Failures, err = s.queryFailures(ctx, runID)
	if err != nil {
		return nil, err
	}
	result.Skipped, err = s.querySkipped(ctx, runID)
	if err != nil {
		return nil, err
	}

	result.Ledgers = engine.Assembler{}.Assemble(result.Period, items, result.Issues)
	return result, nil
}

// ListRuns returns run summaries, most recent first.
func (s *Store) ListRuns(ctx context.Context) ([]engine.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Physician count matches the assembler: any physician with a line item
	// or an issue owns a ledger.
	query := `
		SELECT r.run_id, r.period_start, r.period_end, r.created_at,
		       COALESCE(p.physicians, 0),
		       COALESCE(i.issue_count, 0)
		FROM runs r
		LEFT JOIN (
			SELECT run_id, COUNT(DISTINCT physician) AS physicians FROM (
				SELECT run_id, physician FROM line_items
				UNION
				SELECT run_id, physician FROM issues
			) GROUP BY run_id
		) p ON p.run_id = r.run_id
		LEFT JOIN (
			SELECT run_id, COUNT(*) AS issue_count FROM issues GROUP BY run_id
		) i ON i.run_id = r.run_id
		ORDER BY r.created_at DESC, r.run_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var summaries []engine.RunSummary
	for rows.Next() {
		var summary engine.RunSummary
		var periodStart, periodEnd, createdAt string
		if err := rows.Scan(&summary.RunID, &periodStart, &periodEnd, &createdAt,
			&summary.Physicians, &summary.Issues); err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}
		summary.Period.Start, _ = time.Parse(time.RFC3339, periodStart)
		summary.Period.End, _ = time.Parse(time.RFC3339, periodEnd)
		summary.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

func (s *Store) queryLineItems(ctx context.Context, runID string) ([]engine.CompensationLineItem, error) {
	query := `
		SELECT shift_id, physician, start_at, end_at, hours, base_rate, base,
		       differentials_json, wrvu, productivity_incentive, performance_incentive, total
		FROM line_items
		WHERE run_id = ?
		ORDER BY physician, start_at, shift_id
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	var items []engine.CompensationLineItem
	for rows.Next() {
		var item engine.CompensationLineItem
		var shiftID, physician, startAt, endAt string
		var hours, baseRate, base, wrvu, prodInc, perfInc, total string
		var diffJSON sql.NullString

		if err := rows.Scan(&shiftID, &physician, &startAt, &endAt, &hours, &baseRate, &base,
			&diffJSON, &wrvu, &prodInc, &perfInc, &total); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}

		item.ShiftID = engine.ShiftID(shiftID)
		item.Physician = engine.PhysicianID(physician)
		item.Start, _ = time.Parse(time.RFC3339, startAt)
		item.End, _ = time.Parse(time.RFC3339, endAt)
		if item.Hours, err = decimal.NewFromString(hours); err != nil {
			return nil, fmt.Errorf("corrupt hours for %s: %w", shiftID, err)
		}
		if item.BaseRate, err = decimal.NewFromString(baseRate); err != nil {
			return nil, fmt.Errorf("corrupt base_rate for %s: %w", shiftID, err)
		}
		if item.Base, err = decimal.NewFromString(base); err != nil {
			return nil, fmt.Errorf("corrupt base for %s: %w", shiftID, err)
		}
		if item.WRVU, err = decimal.NewFromString(wrvu); err != nil {
			return nil, fmt.Errorf("corrupt wrvu for %s: %w", shiftID, err)
		}
		if item.ProductivityIncentive, err = decimal.NewFromString(prodInc); err != nil {
			return nil, fmt.Errorf("corrupt productivity_incentive for %s: %w", shiftID, err)
		}
		if item.PerformanceIncentive, err = decimal.NewFromString(perfInc); err != nil {
			return nil, fmt.Errorf("corrupt performance_incentive for %s: %w", shiftID, err)
		}
		if item.Total, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("corrupt total for %s: %w", shiftID, err)
		}
		if diffJSON.Valid && diffJSON.String != "" {
			json.Unmarshal([]byte(diffJSON.String), &item.Differentials)
		}

		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) queryIssues(ctx context.Context, runID string) ([]engine.Issue, error) {
	query := `
		SELECT shift_id, physician, kind, severity, detail
		FROM issues
		WHERE run_id = ?
		ORDER BY physician, shift_id, kind
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	var issues []engine.Issue
	for rows.Next() {
		var issue engine.Issue
		var shiftID, physician, kind, severity string
		var detail sql.NullString
		if err := rows.Scan(&shiftID, &physician, &kind, &severity, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issue.ShiftID = engine.ShiftID(shiftID)
		issue.Physician = engine.PhysicianID(physician)
		issue.Kind = engine.IssueKind(kind)
		issue.Severity = engine.Severity(severity)
		issue.Detail = detail.String
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (s *Store) queryUnattributed(ctx context.Context, runID string) ([]engine.BillingRecord, error) {
	query := `
		SELECT physician, date, wrvu, shift_key
		FROM unattributed
		WHERE run_id = ?
		ORDER BY physician, date, shift_key
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unattributed billing: %w", err)
	}
	defer rows.Close()

	var records []engine.BillingRecord
	for rows.Next() {
		var b engine.BillingRecord
		var physician, date, wrvu string
		var shiftKey sql.NullString
		if err := rows.Scan(&physician, &date, &wrvu, &shiftKey); err != nil {
			return nil, fmt.Errorf("failed to scan unattributed billing: %w", err)
		}
		b.Physician = engine.PhysicianID(physician)
		b.Date, _ = time.Parse(time.RFC3339, date)
		if b.WRVU, err = decimal.NewFromString(wrvu); err != nil {
			return nil, fmt.Errorf("corrupt wrvu: %w", err)
		}
		b.ShiftKey = shiftKey.String
		records = append(records, b)
	}
	return records, rows.Err()
}

func (s *Store) queryFailures(ctx context.Context, runID string) ([]engine.RowFailure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, source_key, kind, detail FROM row_failures WHERE run_id = ? ORDER BY source, source_key`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query row failures: %w", err)
	}
	defer rows.Close()

	var failures []engine.RowFailure
	for rows.Next() {
		var f engine.RowFailure
		var source, kind string
		var detail sql.NullString
		if err := rows.Scan(&source, &f.SourceKey, &kind, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan row failure: %w", err)
		}
		f.Source = engine.Source(source)
		f.Kind = engine.FailureKind(kind)
		f.Detail = detail.String
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

func (s *Store) querySkipped(ctx context.Context, runID string) ([]engine.PhysicianFailure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT physician, detail FROM skipped WHERE run_id = ? ORDER BY physician`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query skipped physicians: %w", err)
	}
	defer rows.Close()

	var skipped []engine.PhysicianFailure
	for rows.Next() {
		var sk engine.PhysicianFailure
		var physician string
		var detail sql.NullString
		if err := rows.Scan(&physician, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan skipped physician: %w", err)
		}
		sk.Physician = engine.PhysicianID(physician)
		sk.Detail = detail.String
		skipped = append(skipped, sk)
	}
	return skipped, rows.Err()
}

// =============================================================================
// PARAMETER REPOSITORY (engine.ParameterRepository interface)
// =============================================================================

// SaveParameterSet upserts a parameter version. A version with the same
// category and effective start replaces the earlier one, matching the
// in-memory ParameterStore's insertion semantics.
func (s *Store) SaveParameterSet(ctx context.Context, ps engine.ParameterSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ps.Category == "" {
		ps.Category = engine.CategoryCompensation
	}

	diffJSON, _ := json.Marshal(ps.Differentials)
	bandsJSON, _ := json.Marshal(ps.ProductivityBands)
	var perfJSON []byte
	if ps.Performance != nil {
		perfJSON, _ = json.Marshal(ps.Performance)
	}

	var effectiveTo *string
	if !ps.EffectiveTo.IsZero() {
		t := ps.EffectiveTo.Format(time.RFC3339)
		effectiveTo = &t
	}

	query := `
		INSERT INTO parameter_sets
		(category, effective_from, effective_to, base_hourly_rate,
		 differentials_json, bands_json, performance_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(category, effective_from) DO UPDATE SET
			effective_to = excluded.effective_to,
			base_hourly_rate = excluded.base_hourly_rate,
			differentials_json = excluded.differentials_json,
			bands_json = excluded.bands_json,
			performance_json = excluded.performance_json
	`

	_, err := s.db.ExecContext(ctx, query,
		string(ps.Category),
		ps.EffectiveFrom.Format(time.RFC3339),
		effectiveTo,
		ps.BaseHourlyRate.String(),
		string(diffJSON),
		string(bandsJSON),
		nullableJSON(perfJSON),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save parameter set: %w", err)
	}
	return nil
}

// LoadParameterSets returns all stored parameter versions ordered by
// category and effective date, ready to replay into a ParameterStore.
func (s *Store) LoadParameterSets(ctx context.Context) ([]engine.ParameterSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT category, effective_from, effective_to, base_hourly_rate,
		       differentials_json, bands_json, performance_json
		FROM parameter_sets
		ORDER BY category, effective_from
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query parameter sets: %w", err)
	}
	defer rows.Close()

	var sets []engine.ParameterSet
	for rows.Next() {
		var ps engine.ParameterSet
		var category, effectiveFrom, baseRate string
		var effectiveTo, diffJSON, bandsJSON, perfJSON sql.NullString

		if err := rows.Scan(&category, &effectiveFrom, &effectiveTo, &baseRate,
			&diffJSON, &bandsJSON, &perfJSON); err != nil {
			return nil, fmt.Errorf("failed to scan parameter set: %w", err)
		}

		ps.Category = engine.Category(category)
		ps.EffectiveFrom, _ = time.Parse(time.RFC3339, effectiveFrom)
		if effectiveTo.Valid {
			ps.EffectiveTo, _ = time.Parse(time.RFC3339, effectiveTo.String)
		}
		if ps.BaseHourlyRate, err = decimal.NewFromString(baseRate); err != nil {
			return nil, fmt.Errorf("corrupt base_hourly_rate: %w", err)
		}
		if diffJSON.Valid && diffJSON.String != "" {
			json.Unmarshal([]byte(diffJSON.String), &ps.Differentials)
		}
		if bandsJSON.Valid && bandsJSON.String != "" {
			json.Unmarshal([]byte(bandsJSON.String), &ps.ProductivityBands)
		}
		if perfJSON.Valid && perfJSON.String != "" {
			var perf engine.PerformanceCriteria
			if json.Unmarshal([]byte(perfJSON.String), &perf) == nil {
				ps.Performance = &perf
			}
		}

		sets = append(sets, ps)
	}
	return sets, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"line_items", "issues", "unattributed", "row_failures", "skipped", "runs", "parameter_sets"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

var (
	_ engine.RunStore            = (*Store)(nil)
	_ engine.ParameterRepository = (*Store)(nil)
)
