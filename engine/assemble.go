/*
assemble.go - Period ledger aggregation

PURPOSE:
  Pure grouping and summation: folds line items and issues into one
  PeriodLedger per physician. No business logic lives here; everything the
  ledger reports is recomputable from its line items.
*/
package engine

import (
	"sort"

	"github.com/shopspring/decimal"
)

type Assembler struct{}

// Assemble groups line items and issues by physician and sums period totals.
// Ledgers come back ordered by physician so output is deterministic.
func (Assembler) Assemble(period Period, items []CompensationLineItem, issues []Issue) []PeriodLedger {
	byPhysician := make(map[PhysicianID]*PeriodLedger)
	order := []PhysicianID{}

	ledgerFor := func(p PhysicianID) *PeriodLedger {
		if l, ok := byPhysician[p]; ok {
			return l
		}
		l := &PeriodLedger{
			Physician:             p,
			Period:                period,
			TotalHours:            decimal.Zero,
			TotalWRVU:             decimal.Zero,
			TotalBase:             decimal.Zero,
			TotalDifferential:     decimal.Zero,
			ProductivityIncentive: decimal.Zero,
			PerformanceIncentive:  decimal.Zero,
			PeriodTotal:           decimal.Zero,
		}
		byPhysician[p] = l
		order = append(order, p)
		return l
	}

	for _, item := range items {
		l := ledgerFor(item.Physician)
		l.LineItems = append(l.LineItems, item)
		l.TotalHours = l.TotalHours.Add(item.Hours)
		l.TotalWRVU = l.TotalWRVU.Add(item.WRVU)
		l.TotalBase = l.TotalBase.Add(item.Base)
		l.TotalDifferential = l.TotalDifferential.Add(item.DifferentialTotal())
		l.ProductivityIncentive = l.ProductivityIncentive.Add(item.ProductivityIncentive)
		l.PerformanceIncentive = l.PerformanceIncentive.Add(item.PerformanceIncentive)
		l.PeriodTotal = l.PeriodTotal.Add(item.Total)
	}

	// Issues attach to the physician's ledger even when the shift produced
	// no line item (excluded by policy or single-source discrepancies).
	for _, issue := range issues {
		ledgerFor(issue.Physician).Issues = append(ledgerFor(issue.Physician).Issues, issue)
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]PeriodLedger, 0, len(order))
	for _, p := range order {
		out = append(out, *byPhysician[p])
	}
	return out
}
