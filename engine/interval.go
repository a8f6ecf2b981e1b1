package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INTERVAL - Half-open [Start, End) time span
// =============================================================================

// Interval is a half-open time span: Start is included, End is excluded.
// A shift ending exactly when another starts does NOT overlap it.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Duration() time.Duration { return iv.End.Sub(iv.Start) }

// Hours returns the span length in hours at second precision.
func (iv Interval) Hours() decimal.Decimal {
	return decimal.NewFromInt(int64(iv.Duration() / time.Second)).Div(decimal.NewFromInt(3600))
}

// Overlaps reports whether two half-open intervals intersect. The test is
// symmetric and boundary-exact.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Intersect returns the common sub-interval, if any.
func (iv Interval) Intersect(other Interval) (Interval, bool) {
	if !iv.Overlaps(other) {
		return Interval{}, false
	}
	out := iv
	if other.Start.After(out.Start) {
		out.Start = other.Start
	}
	if other.End.Before(out.End) {
		out.End = other.End
	}
	return out, true
}

// =============================================================================
// PERIOD - Half-open [Start, End) pay period
// =============================================================================

// Period is the pay-period boundary for a run. Half-open like Interval so
// that adjacent periods never share an instant.
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

func (p Period) IsValid() bool { return p.End.After(p.Start) }

// LastInstant returns the final contained instant. Parameter resolution for
// period-level incentives uses this so the most recent parameter version of
// the period applies.
func (p Period) LastInstant() time.Time { return p.End.Add(-time.Nanosecond) }

func (p Period) String() string {
	return "[" + p.Start.Format("2006-01-02") + ", " + p.End.Format("2006-01-02") + ")"
}

// MonthPeriod returns the calendar-month period containing the given month.
func MonthPeriod(year int, month time.Month, loc *time.Location) Period {
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// PreviousMonth returns the calendar month before the given instant.
// The batch entry point defaults to this when no range is given.
func PreviousMonth(now time.Time, loc *time.Location) Period {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	prev := first.AddDate(0, -1, 0)
	return Period{Start: prev, End: first}
}

// =============================================================================
// CLOCK WINDOW - Recurring daily time-of-day window
// =============================================================================

// ClockTime is a time of day, independent of date and zone.
type ClockTime struct {
	Hour   int
	Minute int
}

func NewClock(hour, minute int) ClockTime { return ClockTime{Hour: hour, Minute: minute} }

func (c ClockTime) MinutesOfDay() int { return c.Hour*60 + c.Minute }

func (c ClockTime) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, day.Location())
}

// minutesOfDay projects an instant onto its local clock time.
func minutesOfDay(t time.Time) int { return t.Hour()*60 + t.Minute() }

// ClockWindow is a half-open [From, To) time-of-day window that recurs every
// day. When To is at or before From the window crosses midnight (e.g. a
// 22:00-06:00 night differential).
type ClockWindow struct {
	From ClockTime
	To   ClockTime
}

func (w ClockWindow) CrossesMidnight() bool {
	return w.To.MinutesOfDay() <= w.From.MinutesOfDay()
}

// ContainsClock reports whether an instant's local time of day falls inside
// the window.
func (w ClockWindow) ContainsClock(t time.Time) bool {
	m := minutesOfDay(t)
	from, to := w.From.MinutesOfDay(), w.To.MinutesOfDay()
	if w.CrossesMidnight() {
		return m >= from || m < to
	}
	return m >= from && m < to
}

// Occurrences materializes the window's concrete intervals that could
// intersect the given span, one per calendar day the span touches.
func (w ClockWindow) Occurrences(span Interval) []Interval {
	var out []Interval
	// Start one day early so windows crossing midnight into the span's first
	// day are not missed.
	day := time.Date(span.Start.Year(), span.Start.Month(), span.Start.Day(), 0, 0, 0, 0, span.Start.Location())
	day = day.AddDate(0, 0, -1)
	for !day.After(span.End) {
		start := w.From.on(day)
		end := w.To.on(day)
		if w.CrossesMidnight() {
			end = end.AddDate(0, 0, 1)
		}
		out = append(out, Interval{Start: start, End: end})
		day = day.AddDate(0, 0, 1)
	}
	return out
}

// OverlapDuration sums the window's intersection with the span across all
// days, in the same half-open manner as shift overlap detection.
func (w ClockWindow) OverlapDuration(span Interval) time.Duration {
	var total time.Duration
	for _, occ := range w.Occurrences(span) {
		if hit, ok := span.Intersect(occ); ok {
			total += hit.Duration()
		}
	}
	return total
}
