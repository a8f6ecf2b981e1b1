/*
reconcile.go - Two-source shift matching

PURPOSE:
  Matches scraped roster shifts against scheduling-database shifts for the
  same physician and calendar day, producing the merged ReconciledShift set
  the rest of the pipeline runs on.

ALGORITHM:
  Candidates are grouped by physician+date. Within a group every database/
  scraped pairing inside the start-time tolerance is ranked by ascending
  drift and claimed greedily, each record consumable at most once. Ties
  break on timestamps and source keys so the matching is deterministic.

MATCH STATES:
  matched-exact       zero start drift
  matched-time-drift  nonzero drift within tolerance (drift retained)
  database-only       no scraped counterpart (data-completeness gap)
  scraped-only        no database counterpart (not in the system of record)
*/
package engine

import (
	"sort"
	"time"
)

// DefaultTolerance is the start-time drift within which a scraped shift is
// considered the same real-world shift as a database shift.
const DefaultTolerance = 15 * time.Minute

type ReconcilerConfig struct {
	// Tolerance is the maximum start-time drift for a match.
	// Zero selects DefaultTolerance.
	Tolerance time.Duration
}

type Reconciler struct {
	tolerance time.Duration
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Reconciler{tolerance: tolerance}
}

// Reconcile merges the two canonical shift sets. Every input record appears
// in exactly one ReconciledShift; no record is matched twice.
func (r *Reconciler) Reconcile(database, scraped []ShiftRecord) []ReconciledShift {
	type groupKey struct {
		physician PhysicianID
		date      string
	}

	groups := make(map[groupKey]*struct{ db, sc []ShiftRecord })
	group := func(rec ShiftRecord) *struct{ db, sc []ShiftRecord } {
		k := groupKey{physician: rec.Physician, date: rec.DateKey()}
		g, ok := groups[k]
		if !ok {
			g = &struct{ db, sc []ShiftRecord }{}
			groups[k] = g
		}
		return g
	}
	for _, rec := range database {
		g := group(rec)
		g.db = append(g.db, rec)
	}
	for _, rec := range scraped {
		g := group(rec)
		g.sc = append(g.sc, rec)
	}

	var out []ReconciledShift
	for _, g := range groups {
		out = append(out, r.reconcileGroup(g.db, g.sc)...)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Physician() != b.Physician() {
			return a.Physician() < b.Physician()
		}
		ra, rb := a.Record(), b.Record()
		if !ra.Start.Equal(rb.Start) {
			return ra.Start.Before(rb.Start)
		}
		return a.ID < b.ID
	})
	return out
}

// candidate is one database/scraped pairing under consideration.
type candidate struct {
	db, sc int
	drift  time.Duration
}

func (r *Reconciler) reconcileGroup(db, sc []ShiftRecord) []ReconciledShift {
	sortRecords(db)
	sortRecords(sc)

	var candidates []candidate
	for i, d := range db {
		for j, s := range sc {
			drift := d.Start.Sub(s.Start)
			if drift < 0 {
				drift = -drift
			}
			if drift <= r.tolerance {
				candidates = append(candidates, candidate{db: i, sc: j, drift: drift})
			}
		}
	}

	// Greedy by ascending drift; index order breaks ties deterministically
	// because both sides are already sorted.
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.drift != b.drift {
			return a.drift < b.drift
		}
		if a.db != b.db {
			return a.db < b.db
		}
		return a.sc < b.sc
	})

	usedDB := make([]bool, len(db))
	usedSC := make([]bool, len(sc))
	var out []ReconciledShift

	for _, c := range candidates {
		if usedDB[c.db] || usedSC[c.sc] {
			continue
		}
		usedDB[c.db], usedSC[c.sc] = true, true

		d, s := db[c.db], sc[c.sc]
		status := MatchExact
		if c.drift != 0 {
			status = MatchTimeDrift
		}
		out = append(out, ReconciledShift{
			ID:         NewShiftID(d),
			Database:   &d,
			Scraped:    &s,
			Status:     status,
			StartDrift: c.drift,
		})
	}

	for i, d := range db {
		if usedDB[i] {
			continue
		}
		d := d
		out = append(out, ReconciledShift{ID: NewShiftID(d), Database: &d, Status: MatchDatabaseOnly})
	}
	for j, s := range sc {
		if usedSC[j] {
			continue
		}
		s := s
		out = append(out, ReconciledShift{ID: NewShiftID(s), Scraped: &s, Status: MatchScrapedOnly})
	}
	return out
}

func sortRecords(recs []ShiftRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].Start.Equal(recs[j].Start) {
			return recs[i].Start.Before(recs[j].Start)
		}
		return recs[i].SourceKey < recs[j].SourceKey
	})
}
