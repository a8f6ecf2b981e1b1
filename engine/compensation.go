/*
compensation.go - Per-shift and per-physician pay computation

PURPOSE:
  Turns validated shifts, a parameter snapshot, and wRVU billing into
  itemized CompensationLineItems. Every amount is itemized so each line can
  be independently re-verified: total = base + differentials + incentives,
  always.

BILLING ATTRIBUTION:
  1. Direct: billing rows whose shift key matches either side's raw key.
  2. Fallback: physician + calendar date (earliest shift that day).
  3. Neither: the row lands in the unattributed report, never dropped.

POLICY, NOT DETECTION:
  Whether flagged shifts are paid is decided here via FlaggedShiftPolicy.
  The default pays and reports; an exclusion policy drops shifts carrying an
  issue at or above a configured severity.

FAILURE ISOLATION:
  A parameter gap is fatal only for the affected physician: their period is
  skipped with a recorded reason and the batch continues.
*/
package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// POLICY CONFIGURATION
// =============================================================================

// FlaggedShiftPolicy decides how flagged shifts enter compensation.
type FlaggedShiftPolicy string

const (
	// FlaggedPayAndReport pays every shift; issues ride along in the ledger.
	FlaggedPayAndReport FlaggedShiftPolicy = "pay_and_report"
	// FlaggedExclude drops shifts carrying an issue at or above
	// ExcludeSeverity from compensation (they stay in the issue report).
	FlaggedExclude FlaggedShiftPolicy = "exclude"
)

// ProrationStrategy decides how differentials apply to shifts spanning a
// window boundary.
type ProrationStrategy string

const (
	// ProrateByOverlap prices only the hours inside the window (default).
	ProrateByOverlap ProrationStrategy = "by_overlap"
	// ProrateWholeShift prices the full shift when any overlap exists.
	ProrateWholeShift ProrationStrategy = "whole_shift"
)

type CalculatorConfig struct {
	Category Category // defaults to CategoryCompensation

	FlaggedPolicy   FlaggedShiftPolicy // defaults to FlaggedPayAndReport
	ExcludeSeverity Severity           // defaults to SeverityError

	Proration ProrationStrategy // defaults to ProrateByOverlap
}

type Calculator struct {
	cfg    CalculatorConfig
	params *ParameterSnapshot
	log    *zap.Logger
}

func NewCalculator(cfg CalculatorConfig, params *ParameterSnapshot, logger *zap.Logger) *Calculator {
	if cfg.Category == "" {
		cfg.Category = CategoryCompensation
	}
	if cfg.FlaggedPolicy == "" {
		cfg.FlaggedPolicy = FlaggedPayAndReport
	}
	if cfg.ExcludeSeverity == "" {
		cfg.ExcludeSeverity = SeverityError
	}
	if cfg.Proration == "" {
		cfg.Proration = ProrateByOverlap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{cfg: cfg, params: params, log: logger}
}

// =============================================================================
// RESULT
// =============================================================================

// CalculationResult is the Calculator's output for one run (or one
// physician partition of a run; results merge associatively).
type CalculationResult struct {
	LineItems    []CompensationLineItem
	Unattributed []BillingRecord
	Excluded     []ShiftID // shifts dropped by the flagged-shift policy
	Skipped      []PhysicianFailure
}

// =============================================================================
// CALCULATION
// =============================================================================

// Calculate computes line items for every reconciled shift not excluded by
// policy. Issues are consumed read-only (for the policy and the performance
// criteria); shifts and issues are never mutated.
func (c *Calculator) Calculate(period Period, shifts []ReconciledShift, issues []Issue, billing []BillingRecord) *CalculationResult {
	result := &CalculationResult{}

	issuesByShift := make(map[ShiftID][]Issue)
	for _, issue := range issues {
		issuesByShift[issue.ShiftID] = append(issuesByShift[issue.ShiftID], issue)
	}

	physicians := sortedPhysicians(shifts, billing)
	billingByPhysician := make(map[PhysicianID][]BillingRecord)
	for _, b := range billing {
		billingByPhysician[b.Physician] = append(billingByPhysician[b.Physician], b)
	}
	shiftsByPhysician := groupByPhysician(shifts)

	for _, physician := range physicians {
		c.calculatePhysician(period, physician,
			shiftsByPhysician[physician], issuesByShift, billingByPhysician[physician], result)
	}

	sortLineItems(result.LineItems)
	sortBilling(result.Unattributed)
	return result
}

func (c *Calculator) calculatePhysician(period Period, physician PhysicianID,
	shifts []ReconciledShift, issuesByShift map[ShiftID][]Issue,
	billing []BillingRecord, result *CalculationResult) {

	included, excluded := c.applyFlaggedPolicy(shifts, issuesByShift)
	result.Excluded = append(result.Excluded, excluded...)

	wrvuByShift, unattributed := attributeBilling(included, billing)
	result.Unattributed = append(result.Unattributed, unattributed...)

	var items []CompensationLineItem
	var lastParams ParameterSet
	wrvuTotal := decimal.Zero

	for _, shift := range included {
		rec := shift.Record()
		params, err := c.params.Resolve(rec.Start, c.cfg.Category)
		if err != nil {
			// A versioning gap fails this physician's period only.
			c.log.Warn("physician skipped",
				zap.String("physician", string(physician)),
				zap.Error(err))
			result.Skipped = append(result.Skipped, PhysicianFailure{
				Physician: physician,
				Detail:    err.Error(),
			})
			return
		}

		item := c.lineItem(shift, params, wrvuByShift[shift.ID])
		wrvuTotal = wrvuTotal.Add(item.WRVU)
		items = append(items, item)
		lastParams = params
	}

	if len(items) == 0 {
		return
	}

	// Period-level incentives resolve against the parameter version current
	// at the end of the period and attach to the final line item, keeping
	// every total recomputable from its own components. When the period end
	// falls into a versioning gap, the incentives are priced with the last
	// version that covered a paid shift rather than dropped.
	params, err := c.params.Resolve(period.LastInstant(), c.cfg.Category)
	if err != nil {
		c.log.Warn("period incentives priced with last shift parameters",
			zap.String("physician", string(physician)),
			zap.Error(err))
		params = lastParams
	}
	last := &items[len(items)-1]
	last.ProductivityIncentive = params.IncentiveFor(wrvuTotal)
	last.PerformanceIncentive = c.performanceIncentive(params, included, issuesByShift)
	last.Total = last.ComponentSum()

	result.LineItems = append(result.LineItems, items...)
}

// lineItem computes one shift's itemized pay (period incentives excluded).
func (c *Calculator) lineItem(shift ReconciledShift, params ParameterSet, wrvu decimal.Decimal) CompensationLineItem {
	rec := shift.Record()
	hours := rec.Hours()
	base := hours.Mul(params.BaseHourlyRate).Round(2)

	item := CompensationLineItem{
		ShiftID:               shift.ID,
		Physician:             rec.Physician,
		Start:                 rec.Start,
		End:                   rec.End,
		Hours:                 hours,
		BaseRate:              params.BaseHourlyRate,
		Base:                  base,
		WRVU:                  wrvu,
		ProductivityIncentive: decimal.Zero,
		PerformanceIncentive:  decimal.Zero,
	}

	for _, rule := range params.Differentials {
		overlap := rule.Window.OverlapDuration(rec.Interval())
		if overlap <= 0 {
			continue
		}
		paidHours := durationHours(overlap)
		if c.cfg.Proration == ProrateWholeShift {
			paidHours = hours
		}

		var amount decimal.Decimal
		switch rule.Kind {
		case DifferentialMultiplier:
			amount = paidHours.Mul(params.BaseHourlyRate).Mul(rule.Rate.Sub(decimal.NewFromInt(1)))
		default:
			amount = paidHours.Mul(rule.Rate)
		}
		item.Differentials = append(item.Differentials, DifferentialAmount{
			Rule:   rule.Name,
			Hours:  paidHours,
			Amount: amount.Round(2),
		})
	}

	item.Total = item.ComponentSum()
	return item
}

func (c *Calculator) applyFlaggedPolicy(shifts []ReconciledShift, issuesByShift map[ShiftID][]Issue) ([]ReconciledShift, []ShiftID) {
	if c.cfg.FlaggedPolicy != FlaggedExclude {
		return shifts, nil
	}

	var included []ReconciledShift
	var excluded []ShiftID
	for _, shift := range shifts {
		if hasIssueAtOrAbove(issuesByShift[shift.ID], c.cfg.ExcludeSeverity) {
			excluded = append(excluded, shift.ID)
			continue
		}
		included = append(included, shift)
	}
	return included, excluded
}

func (c *Calculator) performanceIncentive(params ParameterSet, shifts []ReconciledShift, issuesByShift map[ShiftID][]Issue) decimal.Decimal {
	criteria := params.Performance
	if criteria == nil || len(shifts) == 0 || len(shifts) < criteria.MinShifts {
		return decimal.Zero
	}

	issueFree := 0
	for _, shift := range shifts {
		if len(issuesByShift[shift.ID]) == 0 {
			issueFree++
		}
	}
	ratio := decimal.NewFromInt(int64(issueFree)).Div(decimal.NewFromInt(int64(len(shifts))))
	if ratio.GreaterThanOrEqual(criteria.MinIssueFreeRatio) {
		return criteria.Incentive
	}
	return decimal.Zero
}

// =============================================================================
// BILLING ATTRIBUTION
// =============================================================================

// attributeBilling maps billing rows to shifts: direct shift-key link first,
// then physician+date (earliest shift that day). Unmatched rows are returned
// for the unattributed report.
func attributeBilling(shifts []ReconciledShift, billing []BillingRecord) (map[ShiftID]decimal.Decimal, []BillingRecord) {
	wrvuByShift := make(map[ShiftID]decimal.Decimal, len(shifts))
	for _, shift := range shifts {
		wrvuByShift[shift.ID] = decimal.Zero
	}

	earliestByDate := make(map[string]ShiftID)
	for i := len(shifts) - 1; i >= 0; i-- {
		// Reverse iteration leaves the earliest shift per day in the map.
		earliestByDate[shifts[i].Record().DateKey()] = shifts[i].ID
	}

	var unattributed []BillingRecord
	for _, b := range billing {
		target, ok := directTarget(shifts, b.ShiftKey)
		if !ok {
			target, ok = earliestByDate[b.DateKey()]
		}
		if !ok {
			unattributed = append(unattributed, b)
			continue
		}
		wrvuByShift[target] = wrvuByShift[target].Add(b.WRVU)
	}
	return wrvuByShift, unattributed
}

func directTarget(shifts []ReconciledShift, key string) (ShiftID, bool) {
	for _, shift := range shifts {
		if shift.HasSourceKey(key) {
			return shift.ID, true
		}
	}
	return "", false
}

// =============================================================================
// HELPERS
// =============================================================================

func hasIssueAtOrAbove(issues []Issue, threshold Severity) bool {
	for _, issue := range issues {
		if severityRank(issue.Severity) >= severityRank(threshold) {
			return true
		}
	}
	return false
}

func severityRank(s Severity) int {
	switch s {
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

func durationHours(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(d / time.Second)).Div(decimal.NewFromInt(3600))
}

func sortedPhysicians(shifts []ReconciledShift, billing []BillingRecord) []PhysicianID {
	seen := make(map[PhysicianID]bool)
	var out []PhysicianID
	for _, s := range shifts {
		if !seen[s.Physician()] {
			seen[s.Physician()] = true
			out = append(out, s.Physician())
		}
	}
	for _, b := range billing {
		if !seen[b.Physician] {
			seen[b.Physician] = true
			out = append(out, b.Physician)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortLineItems(items []CompensationLineItem) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Physician != b.Physician {
			return a.Physician < b.Physician
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.ShiftID < b.ShiftID
	})
}

func sortBilling(records []BillingRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Physician != b.Physician {
			return a.Physician < b.Physician
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ShiftKey < b.ShiftKey
	})
}
