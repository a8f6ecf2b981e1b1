/*
params.go - Time-versioned compensation parameters

PURPOSE:
  Holds the versioned parameter sets (base rates, differential rules,
  productivity bands, performance criteria) and resolves the set effective
  for a given date. Modeled as an append log ordered by effective date, not
  as mutable "current value" fields, so historical recomputation stays
  reproducible.

VERSIONING DISCIPLINE:
  Effective ranges are half-open [From, To). Inserting a set whose range
  would overlap an existing one closes the existing range at the new start
  (and clips the new set against any later version). Ranges for a category
  therefore never overlap, in any insertion order.

RUN ISOLATION:
  A run takes a point-in-time Snapshot() at invocation start; concurrent
  parameter updates never affect an in-flight run.
*/
package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PARAMETER MODEL
// =============================================================================

// Category partitions parameter sets; lookups are per category.
type Category string

// CategoryCompensation is the default category the Calculator resolves.
const CategoryCompensation Category = "compensation"

// DifferentialKind selects how a differential rule prices overlapping hours.
type DifferentialKind string

const (
	// DifferentialFlat adds Rate dollars per overlapping hour.
	DifferentialFlat DifferentialKind = "flat"
	// DifferentialMultiplier adds baseRate*(Rate-1) dollars per overlapping
	// hour, i.e. Rate is the pay multiplier inside the window.
	DifferentialMultiplier DifferentialKind = "multiplier"
)

// DifferentialRule is a pay adjustment for hours worked inside a daily
// time-of-day window (e.g. a night or weekend differential).
type DifferentialRule struct {
	Name   string
	Window ClockWindow
	Kind   DifferentialKind
	Rate   decimal.Decimal
}

// ProductivityBand is one incentive tier. Bands are ascending and
// non-overlapping: a period wRVU total lands in the band with the greatest
// Min at or below it.
type ProductivityBand struct {
	Min       decimal.Decimal
	Incentive decimal.Decimal
}

// PerformanceCriteria awards a flat incentive when the physician's period
// meets the issue-free-shift bar.
type PerformanceCriteria struct {
	// MinIssueFreeRatio is the required fraction of shifts with no issues.
	MinIssueFreeRatio decimal.Decimal
	// MinShifts is the minimum number of computed shifts to qualify.
	MinShifts int
	Incentive decimal.Decimal
}

// ParameterSet is one version of the compensation parameters.
//
// INVARIANT: [EffectiveFrom, EffectiveTo) ranges for a category never
// overlap inside a ParameterStore. A zero EffectiveTo means open-ended.
type ParameterSet struct {
	Category      Category
	EffectiveFrom time.Time
	EffectiveTo   time.Time // zero = open-ended

	BaseHourlyRate    decimal.Decimal
	Differentials     []DifferentialRule
	ProductivityBands []ProductivityBand
	Performance       *PerformanceCriteria
}

// Effective reports whether the set covers the given date.
func (ps ParameterSet) Effective(date time.Time) bool {
	if date.Before(ps.EffectiveFrom) {
		return false
	}
	return ps.EffectiveTo.IsZero() || date.Before(ps.EffectiveTo)
}

// IncentiveFor returns the incentive of the band containing the wRVU total,
// or zero when the total is below every band.
func (ps ParameterSet) IncentiveFor(wrvuTotal decimal.Decimal) decimal.Decimal {
	incentive := decimal.Zero
	for _, band := range ps.ProductivityBands {
		if wrvuTotal.GreaterThanOrEqual(band.Min) {
			incentive = band.Incentive
		}
	}
	return incentive
}

func (ps ParameterSet) clone() ParameterSet {
	out := ps
	out.Differentials = append([]DifferentialRule(nil), ps.Differentials...)
	out.ProductivityBands = append([]ProductivityBand(nil), ps.ProductivityBands...)
	if ps.Performance != nil {
		perf := *ps.Performance
		out.Performance = &perf
	}
	return out
}

// =============================================================================
// PARAMETER STORE
// =============================================================================

// ParameterStore is the mutable, administratively updated parameter table.
// Reads during a run go through a Snapshot, never through the live store.
type ParameterStore struct {
	mu       sync.RWMutex
	sets     map[Category][]ParameterSet // sorted by EffectiveFrom
	fallback map[Category]ParameterSet
}

func NewParameterStore() *ParameterStore {
	return &ParameterStore{
		sets:     make(map[Category][]ParameterSet),
		fallback: make(map[Category]ParameterSet),
	}
}

// Insert adds a parameter version. Overlaps are resolved by closing ranges,
// never by allowing two sets to cover the same date:
//   - an existing range reaching past the new start is closed at it
//   - the new range is clipped at the next later version's start
//   - a set with an identical start replaces the earlier insertion
func (s *ParameterStore) Insert(ps ParameterSet) error {
	if !ps.EffectiveTo.IsZero() && !ps.EffectiveTo.After(ps.EffectiveFrom) {
		return ErrInvalidParameterRange
	}
	if ps.Category == "" {
		ps.Category = CategoryCompensation
	}
	sortBands(ps.ProductivityBands)

	s.mu.Lock()
	defer s.mu.Unlock()

	sets := s.sets[ps.Category]

	// Replace a same-start version outright.
	filtered := sets[:0]
	for _, existing := range sets {
		if !existing.EffectiveFrom.Equal(ps.EffectiveFrom) {
			filtered = append(filtered, existing)
		}
	}
	sets = filtered

	for i := range sets {
		existing := &sets[i]
		// Close any earlier range that reaches past the new start.
		if existing.EffectiveFrom.Before(ps.EffectiveFrom) &&
			(existing.EffectiveTo.IsZero() || existing.EffectiveTo.After(ps.EffectiveFrom)) {
			existing.EffectiveTo = ps.EffectiveFrom
		}
		// Clip the new range against any later version.
		if existing.EffectiveFrom.After(ps.EffectiveFrom) &&
			(ps.EffectiveTo.IsZero() || ps.EffectiveTo.After(existing.EffectiveFrom)) {
			ps.EffectiveTo = existing.EffectiveFrom
		}
	}

	sets = append(sets, ps.clone())
	sort.Slice(sets, func(i, j int) bool {
		return sets[i].EffectiveFrom.Before(sets[j].EffectiveFrom)
	})
	s.sets[ps.Category] = sets
	return nil
}

// SetFallback configures the default set applied when no recorded range
// covers a date (notably before the first effective date).
func (s *ParameterStore) SetFallback(category Category, ps ParameterSet) {
	if category == "" {
		category = CategoryCompensation
	}
	ps.Category = category
	sortBands(ps.ProductivityBands)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback[category] = ps.clone()
}

// Resolve returns the unique set whose effective range contains the date.
func (s *ParameterStore) Resolve(date time.Time, category Category) (ParameterSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return resolve(s.sets, s.fallback, date, category)
}

// Versions returns the recorded sets for a category, ordered by effective
// date. The result is a copy.
func (s *ParameterStore) Versions(category Category) []ParameterSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ParameterSet, 0, len(s.sets[category]))
	for _, ps := range s.sets[category] {
		out = append(out, ps.clone())
	}
	return out
}

// Snapshot copies the store's current state for the duration of a run.
func (s *ParameterStore) Snapshot() *ParameterSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &ParameterSnapshot{
		sets:     make(map[Category][]ParameterSet, len(s.sets)),
		fallback: make(map[Category]ParameterSet, len(s.fallback)),
	}
	for cat, sets := range s.sets {
		copied := make([]ParameterSet, 0, len(sets))
		for _, ps := range sets {
			copied = append(copied, ps.clone())
		}
		snap.sets[cat] = copied
	}
	for cat, ps := range s.fallback {
		snap.fallback[cat] = ps.clone()
	}
	return snap
}

// =============================================================================
// PARAMETER SNAPSHOT - Read-only, point-in-time view
// =============================================================================

// ParameterSnapshot is the immutable view a run computes against.
type ParameterSnapshot struct {
	sets     map[Category][]ParameterSet
	fallback map[Category]ParameterSet
}

func (s *ParameterSnapshot) Resolve(date time.Time, category Category) (ParameterSet, error) {
	return resolve(s.sets, s.fallback, date, category)
}

func resolve(sets map[Category][]ParameterSet, fallback map[Category]ParameterSet,
	date time.Time, category Category) (ParameterSet, error) {

	if category == "" {
		category = CategoryCompensation
	}
	for _, ps := range sets[category] {
		if ps.Effective(date) {
			return ps, nil
		}
	}
	if fb, ok := fallback[category]; ok {
		return fb, nil
	}
	return ParameterSet{}, &NoEffectiveParametersError{Category: category, Date: date}
}

func sortBands(bands []ProductivityBand) {
	sort.Slice(bands, func(i, j int) bool {
		return bands[i].Min.LessThan(bands[j].Min)
	})
}
