/*
Package engine provides the shift validation and compensation core.

PURPOSE:
  This package contains the batch pipeline that reconciles physician shift
  records from two independent sources (the scheduling database and the
  scraped roster), flags scheduling anomalies, and derives an auditable
  compensation result per physician per pay period.

PIPELINE:
  raw rows -> Normalizer -> Reconciler -> Detector -> Calculator -> Assembler

KEY CONCEPTS IN THIS FILE (types.go):
  - ShiftRecord: A canonical shift from one source (immutable)
  - ReconciledShift: A matched pair of source records with match status
  - Issue: A rule violation attached to a shift (additive, keyed by shift ID)
  - BillingRecord: wRVU billing data, best-effort linked to shifts
  - CompensationLineItem: Per-shift pay breakdown, itemized and recomputable
  - PeriodLedger: The terminal per-physician artifact for a pay period

DESIGN PRINCIPLES:
  1. Immutability: Records are never mutated after creation; issues live in
     a separate collection keyed by shift identity
  2. Precision: Uses decimal.Decimal for all money and wRVU quantities
  3. Auditability: Every line item total equals the sum of its components
  4. Determinism: Identical inputs and parameter snapshots yield identical
     ledgers

SEE ALSO:
  - normalize.go: Raw row -> ShiftRecord conversion
  - reconcile.go: Two-source matching
  - issues.go: Rule battery
  - params.go: Time-versioned compensation parameters
  - compensation.go: Pay computation
  - run.go: Full-pipeline orchestration
*/
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// PhysicianID is the canonical physician identifier from the scheduling
// database. Scraped-source aliases are resolved to this by the Normalizer.
type PhysicianID string

// ShiftID identifies a reconciled shift within a run. It is derived
// deterministically from the primary record, never generated randomly.
type ShiftID string

// Source identifies which collaborator produced a record.
type Source string

const (
	SourceDatabase Source = "database"
	SourceScraped  Source = "scraped"
)

// =============================================================================
// SHIFT RECORD - Canonical shift from one source
// =============================================================================

// ShiftRecord is a shift in canonical form: timestamps in the canonical
// timezone, physician resolved to the database identity.
//
// INVARIANT: End is strictly after Start.
type ShiftRecord struct {
	Physician PhysicianID
	Start     time.Time
	End       time.Time
	Source    Source
	SourceKey string // raw row key from the originating source
}

func (s ShiftRecord) Duration() time.Duration { return s.End.Sub(s.Start) }

// Hours returns the shift length in hours at second precision.
func (s ShiftRecord) Hours() decimal.Decimal {
	return decimal.NewFromInt(int64(s.Duration() / time.Second)).Div(decimal.NewFromInt(3600))
}

func (s ShiftRecord) Interval() Interval { return Interval{Start: s.Start, End: s.End} }

// DateKey groups shifts by local calendar day for matching.
func (s ShiftRecord) DateKey() string { return s.Start.Format("2006-01-02") }

// =============================================================================
// RECONCILED SHIFT - Match-state tagged pair of source records
// =============================================================================

type MatchStatus string

const (
	MatchExact        MatchStatus = "matched-exact"
	MatchTimeDrift    MatchStatus = "matched-time-drift"
	MatchDatabaseOnly MatchStatus = "database-only"
	MatchScrapedOnly  MatchStatus = "scraped-only"
)

// ReconciledShift pairs the database-side and scraped-side records for one
// real-world shift. At least one side is always present. Never mutated after
// creation; the Detector attaches issues in a separate collection.
type ReconciledShift struct {
	ID       ShiftID
	Database *ShiftRecord
	Scraped  *ShiftRecord
	Status   MatchStatus

	// StartDrift is the absolute start-time difference for matched pairs.
	// Zero for exact matches and single-source records.
	StartDrift time.Duration
}

// Record returns the authoritative record: the database side when present,
// otherwise the scraped side.
func (r ReconciledShift) Record() ShiftRecord {
	if r.Database != nil {
		return *r.Database
	}
	return *r.Scraped
}

func (r ReconciledShift) Physician() PhysicianID { return r.Record().Physician }
func (r ReconciledShift) Interval() Interval     { return r.Record().Interval() }

// HasSourceKey reports whether either side carries the given raw key.
// Used for direct billing attribution.
func (r ReconciledShift) HasSourceKey(key string) bool {
	if key == "" {
		return false
	}
	if r.Database != nil && r.Database.SourceKey == key {
		return true
	}
	return r.Scraped != nil && r.Scraped.SourceKey == key
}

// NewShiftID derives the deterministic identity for a reconciled shift from
// its authoritative record.
func NewShiftID(rec ShiftRecord) ShiftID {
	return ShiftID(fmt.Sprintf("%s/%s/%s", rec.Physician, rec.Start.UTC().Format(time.RFC3339), rec.SourceKey))
}

// =============================================================================
// ISSUE - Rule violation attached to a shift
// =============================================================================

type IssueKind string

const (
	IssueNonHourStart        IssueKind = "non_hour_start"
	IssueOutsideAllowedHours IssueKind = "outside_allowed_hours"
	IssueOverlappingShift    IssueKind = "overlapping_shift"
	IssueExcessiveDuration   IssueKind = "excessive_duration"
	IssueShortDuration       IssueKind = "short_duration"
	IssueUnguardedEarlyShift IssueKind = "unguarded_early_shift"
	IssueSourceDiscrepancy   IssueKind = "source_discrepancy"
	IssueTimeDrift           IssueKind = "time_drift"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue records one rule violation. A shift may carry several issues; issues
// never block compensation by themselves (that is Calculator policy).
type Issue struct {
	ShiftID   ShiftID
	Physician PhysicianID
	Kind      IssueKind
	Severity  Severity
	Detail    string
}

// =============================================================================
// BILLING RECORD - wRVU productivity data
// =============================================================================

// BillingRecord carries the wRVU quantity for one billing row. ShiftKey is a
// best-effort link to a shift's raw source key; rows without a usable link
// fall back to physician+date attribution, and rows matching nothing are
// reported as unattributed rather than dropped.
type BillingRecord struct {
	Physician PhysicianID
	Date      time.Time // calendar day, canonical timezone
	WRVU      decimal.Decimal
	ShiftKey  string
}

func (b BillingRecord) DateKey() string { return b.Date.Format("2006-01-02") }

// =============================================================================
// COMPENSATION LINE ITEM - Per-shift pay breakdown
// =============================================================================

// DifferentialAmount is one differential rule's contribution to a line item.
type DifferentialAmount struct {
	Rule   string
	Hours  decimal.Decimal // hours the rule window overlapped the shift
	Amount decimal.Decimal
}

// CompensationLineItem is the itemized pay for one shift.
//
// INVARIANT: Total equals Base + sum(Differentials) + ProductivityIncentive
// + PerformanceIncentive. Period-level incentives are attached to the
// physician's final line item of the period.
type CompensationLineItem struct {
	ShiftID   ShiftID
	Physician PhysicianID
	Start     time.Time
	End       time.Time

	Hours    decimal.Decimal
	BaseRate decimal.Decimal
	Base     decimal.Decimal

	Differentials []DifferentialAmount

	WRVU decimal.Decimal // billing mapped to this shift

	ProductivityIncentive decimal.Decimal
	PerformanceIncentive  decimal.Decimal

	Total decimal.Decimal
}

// ComponentSum recomputes the total from the itemized parts. Used by audits
// and tests to verify the line item invariant.
func (li CompensationLineItem) ComponentSum() decimal.Decimal {
	sum := li.Base
	for _, d := range li.Differentials {
		sum = sum.Add(d.Amount)
	}
	return sum.Add(li.ProductivityIncentive).Add(li.PerformanceIncentive)
}

// DifferentialTotal sums the itemized differential amounts.
func (li CompensationLineItem) DifferentialTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, d := range li.Differentials {
		sum = sum.Add(d.Amount)
	}
	return sum
}

// =============================================================================
// PERIOD LEDGER - Terminal per-physician artifact
// =============================================================================

// PeriodLedger aggregates one physician's line items and issues for a pay
// period. Produced by the Assembler and handed to the reporting collaborator.
type PeriodLedger struct {
	Physician PhysicianID
	Period    Period

	LineItems []CompensationLineItem
	Issues    []Issue

	TotalHours            decimal.Decimal
	TotalWRVU             decimal.Decimal
	TotalBase             decimal.Decimal
	TotalDifferential     decimal.Decimal
	ProductivityIncentive decimal.Decimal
	PerformanceIncentive  decimal.Decimal
	PeriodTotal           decimal.Decimal
}

// =============================================================================
// RUN-LEVEL REPORTING
// =============================================================================

// FailureKind classifies a per-row normalization failure.
type FailureKind string

const (
	FailureMapping   FailureKind = "mapping"
	FailureMalformed FailureKind = "malformed"
)

// RowFailure records one excluded input row. Failures are isolated: the row
// is skipped, the batch continues, and the failure is surfaced here.
type RowFailure struct {
	Source    Source
	SourceKey string
	Kind      FailureKind
	Detail    string
}

// PhysicianFailure records a physician whose period could not be computed
// (e.g. a gap in parameter versioning). Fatal for that physician only.
type PhysicianFailure struct {
	Physician PhysicianID
	Detail    string
}

// RunResult is the immutable output of one engine run.
type RunResult struct {
	RunID     string
	Period    Period
	CreatedAt time.Time

	Ledgers      []PeriodLedger
	Issues       []Issue
	Unattributed []BillingRecord
	Failures     []RowFailure
	Skipped      []PhysicianFailure
}
