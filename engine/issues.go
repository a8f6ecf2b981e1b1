/*
issues.go - Shift anomaly rule battery

PURPOSE:
  Runs a fixed set of independent, pure rules over the reconciled shift set
  and returns the issues they raise. Every rule runs to completion for every
  shift; a shift can legitimately carry several simultaneous issues.

RULES:
  NonHourStart        start minute/second component nonzero
  OutsideAllowedHours start or end outside the permitted daily window
  OverlappingShift    half-open interval overlap, both shifts flagged
  ExcessiveDuration   longer than the configured maximum
  ShortDuration       shorter than the configured minimum
  UnguardedEarlyShift early start without a hand-off predecessor
  SourceDiscrepancy   database-only / scraped-only match status
  TimeDrift           drifted match, raised only when FlagTimeDrift is set

Issues never block compensation by themselves; whether flagged shifts are
paid is Calculator policy, not a detection concern.
*/
package engine

import (
	"fmt"
	"sort"
	"time"
)

// DefaultMaxPrecedingGap is the hand-off window for the unguarded-early-shift
// rule: an early shift is guarded when another shift for the same physician
// ends at most this long before it starts.
const DefaultMaxPrecedingGap = time.Hour

type DetectorConfig struct {
	// AllowedWindow is the permitted daily operating window. Nil disables
	// the OutsideAllowedHours rule.
	AllowedWindow *ClockWindow

	// MaxDuration / MinDuration bound shift length. Zero disables the rule.
	MaxDuration time.Duration
	MinDuration time.Duration

	// EarlyCutoff marks shifts starting before this local time as early.
	// Nil disables the UnguardedEarlyShift rule.
	EarlyCutoff *ClockTime

	// MaxPrecedingGap is the hand-off window for early shifts.
	// Zero selects DefaultMaxPrecedingGap.
	MaxPrecedingGap time.Duration

	// FlagTimeDrift also raises an issue for matched-time-drift shifts.
	// Off by default: the drift is already recorded on the match itself.
	FlagTimeDrift bool
}

type Detector struct {
	cfg DetectorConfig
}

func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.MaxPrecedingGap <= 0 {
		cfg.MaxPrecedingGap = DefaultMaxPrecedingGap
	}
	return &Detector{cfg: cfg}
}

// Detect runs the full battery over the reconciled set. The result is sorted
// deterministically and keyed by shift identity; the shifts themselves are
// never touched.
func (d *Detector) Detect(shifts []ReconciledShift) []Issue {
	var issues []Issue

	for _, shift := range shifts {
		issues = append(issues, d.perShift(shift)...)
	}
	issues = append(issues, d.overlapping(shifts)...)
	issues = append(issues, d.unguardedEarly(shifts)...)

	sort.Slice(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Physician != b.Physician {
			return a.Physician < b.Physician
		}
		if a.ShiftID != b.ShiftID {
			return a.ShiftID < b.ShiftID
		}
		return a.Kind < b.Kind
	})
	return issues
}

// perShift evaluates the rules that need only a single shift.
func (d *Detector) perShift(shift ReconciledShift) []Issue {
	var issues []Issue
	rec := shift.Record()

	if rec.Start.Minute() != 0 || rec.Start.Second() != 0 {
		issues = append(issues, newIssue(shift, IssueNonHourStart, SeverityInfo,
			fmt.Sprintf("shift starts at %s instead of on the hour", rec.Start.Format("15:04"))))
	}

	if w := d.cfg.AllowedWindow; w != nil {
		if !w.ContainsClock(rec.Start) || !w.ContainsClock(rec.End.Add(-time.Nanosecond)) {
			issues = append(issues, newIssue(shift, IssueOutsideAllowedHours, SeverityWarning,
				fmt.Sprintf("shift %s-%s falls outside permitted hours %02d:%02d-%02d:%02d",
					rec.Start.Format("15:04"), rec.End.Format("15:04"),
					w.From.Hour, w.From.Minute, w.To.Hour, w.To.Minute)))
		}
	}

	if d.cfg.MaxDuration > 0 && rec.Duration() > d.cfg.MaxDuration {
		issues = append(issues, newIssue(shift, IssueExcessiveDuration, SeverityWarning,
			fmt.Sprintf("duration %.1fh exceeds maximum %.1fh",
				rec.Duration().Hours(), d.cfg.MaxDuration.Hours())))
	}
	if d.cfg.MinDuration > 0 && rec.Duration() < d.cfg.MinDuration {
		issues = append(issues, newIssue(shift, IssueShortDuration, SeverityWarning,
			fmt.Sprintf("duration %.1fh is below minimum %.1fh",
				rec.Duration().Hours(), d.cfg.MinDuration.Hours())))
	}

	switch shift.Status {
	case MatchDatabaseOnly:
		issues = append(issues, newIssue(shift, IssueSourceDiscrepancy, SeverityWarning,
			"database shift has no scraped counterpart"))
	case MatchScrapedOnly:
		issues = append(issues, newIssue(shift, IssueSourceDiscrepancy, SeverityError,
			"scraped shift not reflected in the system of record"))
	case MatchTimeDrift:
		if d.cfg.FlagTimeDrift {
			issues = append(issues, newIssue(shift, IssueTimeDrift, SeverityInfo,
				fmt.Sprintf("sources disagree on start time by %s", shift.StartDrift)))
		}
	}

	return issues
}

// overlapping flags every pair of intersecting shifts for a physician.
// Half-open semantics: a shift ending exactly when another starts is fine.
func (d *Detector) overlapping(shifts []ReconciledShift) []Issue {
	var issues []Issue
	for _, group := range groupByPhysician(shifts) {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if !a.Interval().Overlaps(b.Interval()) {
					continue
				}
				issues = append(issues,
					newIssue(a, IssueOverlappingShift, SeverityError,
						fmt.Sprintf("overlaps shift starting %s", b.Record().Start.Format("2006-01-02 15:04"))),
					newIssue(b, IssueOverlappingShift, SeverityError,
						fmt.Sprintf("overlaps shift starting %s", a.Record().Start.Format("2006-01-02 15:04"))))
			}
		}
	}
	return issues
}

// unguardedEarly flags shifts starting before the early cutoff that have no
// immediately preceding shift for the same physician.
func (d *Detector) unguardedEarly(shifts []ReconciledShift) []Issue {
	if d.cfg.EarlyCutoff == nil {
		return nil
	}
	cutoff := d.cfg.EarlyCutoff.MinutesOfDay()

	var issues []Issue
	for _, group := range groupByPhysician(shifts) {
		for i, shift := range group {
			start := shift.Record().Start
			if minutesOfDay(start) >= cutoff {
				continue
			}
			guarded := false
			for j := 0; j < i; j++ {
				prevEnd := group[j].Record().End
				gap := start.Sub(prevEnd)
				if gap >= 0 && gap <= d.cfg.MaxPrecedingGap {
					guarded = true
					break
				}
			}
			if !guarded {
				issues = append(issues, newIssue(shift, IssueUnguardedEarlyShift, SeverityWarning,
					fmt.Sprintf("shift starts at %s without a preceding shift", start.Format("15:04"))))
			}
		}
	}
	return issues
}

func newIssue(shift ReconciledShift, kind IssueKind, severity Severity, detail string) Issue {
	return Issue{
		ShiftID:   shift.ID,
		Physician: shift.Physician(),
		Kind:      kind,
		Severity:  severity,
		Detail:    detail,
	}
}

// groupByPhysician partitions shifts by physician, ordered by start time.
// The input is already sorted by the Reconciler; grouping preserves order.
func groupByPhysician(shifts []ReconciledShift) map[PhysicianID][]ReconciledShift {
	groups := make(map[PhysicianID][]ReconciledShift)
	for _, s := range shifts {
		groups[s.Physician()] = append(groups[s.Physician()], s)
	}
	return groups
}
