package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Half-open accrual period [Start, End)
// =============================================================================

// Period is the span between two consecutive accrual anniversaries.
// End is exclusive; a zero End means "open ended".
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if t is within [Start, End).
func (p Period) Contains(t TimePoint) bool {
	if t.Before(p.Start) {
		return false
	}
	return p.End.IsZero() || t.Before(p.End)
}

func (p Period) String() string {
	if p.End.IsZero() {
		return "[" + p.Start.String() + ", ...)"
	}
	return "[" + p.Start.String() + ", " + p.End.String() + ")"
}

// =============================================================================
// ANNIVERSARY SCHEDULE - Period start and validity boundaries
// =============================================================================

// AnniversarySchedule describes a yearly accrual cycle. Periods start on
// (StartMonth, StartDay). When EndMonth is set, credit accrued in a period
// expires on the (EndMonth, EndDay) anniversary YearsToEffect years later.
//
// Examples:
//   - Start 1/1, no end:                 counter, never expires
//   - Start 1/1, end 1/4, 1 year:        2016 credit expires 2017-04-01
//   - Start 1/10, end 1/3, 0 years:      2016-10 credit expires 2017-03-01
type AnniversarySchedule struct {
	StartDay   int
	StartMonth time.Month

	EndDay   int
	EndMonth time.Month // zero = credit never expires

	YearsToEffect int
	// YearsPassed shortens the first validity window of an assignment that
	// begins mid-cycle.
	YearsPassed int
}

// PolicyPeriod is the calculator's answer for a reference instant.
type PolicyPeriod struct {
	Start        TimePoint
	ValidityDate *TimePoint
}

// Expires reports whether credit accrued under this schedule has a validity date.
func (s AnniversarySchedule) Expires() bool {
	return s.EndMonth != 0
}

// Validate rejects schedules that can never produce a well-formed period.
func (s AnniversarySchedule) Validate() error {
	if s.StartMonth < time.January || s.StartMonth > time.December {
		return Invalid("start_month", fmt.Sprintf("must be 1-12, got %d", s.StartMonth))
	}
	if s.StartDay < 1 || s.StartDay > 31 {
		return Invalid("start_day", fmt.Sprintf("must be 1-31, got %d", s.StartDay))
	}
	if s.YearsToEffect < 0 {
		return Invalid("years_to_effect", "must not be negative")
	}
	if s.YearsPassed < 0 {
		return Invalid("years_passed", "must not be negative")
	}
	if !s.Expires() {
		return nil
	}
	if s.EndMonth < time.January || s.EndMonth > time.December {
		return Invalid("end_month", fmt.Sprintf("must be 1-12, got %d", s.EndMonth))
	}
	if s.EndDay < 1 || s.EndDay > 31 {
		return Invalid("end_day", fmt.Sprintf("must be 1-31, got %d", s.EndDay))
	}
	// A full period must expire after it starts. Check in a leap year so that
	// Feb 29 anniversaries compare as configured.
	start := AnniversaryIn(2000, s.StartMonth, s.StartDay)
	if v := s.validityFrom(start, 0); !v.After(start) {
		return Invalid("years_to_effect", "validity date would precede its addition")
	}
	return nil
}

// PeriodStart returns the most recent start anniversary on or before t.
func (s AnniversarySchedule) PeriodStart(t TimePoint) TimePoint {
	day := t.Date()
	start := AnniversaryIn(day.Year(), s.StartMonth, s.StartDay)
	if day.Before(start) {
		start = AnniversaryIn(day.Year()-1, s.StartMonth, s.StartDay)
	}
	return start
}

// NextStart returns the first start anniversary strictly after t's date.
func (s AnniversarySchedule) NextStart(t TimePoint) TimePoint {
	start := s.PeriodStart(t)
	return AnniversaryIn(start.Year()+1, s.StartMonth, s.StartDay)
}

// PeriodFor returns the enclosing period start and, for expiring schedules,
// the validity date of credit accrued in that period. Pure and idempotent.
func (s AnniversarySchedule) PeriodFor(t TimePoint) PolicyPeriod {
	start := s.PeriodStart(t)
	return PolicyPeriod{Start: start, ValidityDate: s.ValidityFor(start, 0)}
}

// ValidityFor returns the validity date for a period starting at start,
// with yearsPassed subtracted from YearsToEffect (never below zero).
// Returns nil for schedules that do not expire.
func (s AnniversarySchedule) ValidityFor(start TimePoint, yearsPassed int) *TimePoint {
	if !s.Expires() {
		return nil
	}
	v := s.validityFrom(start.Date(), yearsPassed)
	return &v
}

func (s AnniversarySchedule) validityFrom(start TimePoint, yearsPassed int) TimePoint {
	years := s.YearsToEffect - yearsPassed
	if years < 0 {
		years = 0
	}
	year := start.Year() + years
	if s.EndMonth < s.StartMonth || (s.EndMonth == s.StartMonth && s.EndDay < s.StartDay) {
		year++
	}
	return AnniversaryIn(year, s.EndMonth, s.EndDay)
}

// Starts returns every start anniversary in [from, to], by date.
func (s AnniversarySchedule) Starts(from, to TimePoint) []TimePoint {
	var out []TimePoint
	current := s.PeriodStart(from)
	if current.Before(from.Date()) {
		current = s.NextStart(from)
	}
	for current.BeforeOrEqual(to.Date()) {
		out = append(out, current)
		current = AnniversaryIn(current.Year()+1, s.StartMonth, s.StartDay)
	}
	return out
}

// IsAnniversary reports whether t falls on a start anniversary.
func (s AnniversarySchedule) IsAnniversary(t TimePoint) bool {
	return s.PeriodStart(t).Equal(t.Date())
}
