package generic

// =============================================================================
// PERIOD - A billing cycle
// =============================================================================

// Period is an inclusive date range [Start, End] covered by one billing run.
//
// Examples:
//   - Monthly cycle: Apr 1 - Apr 30
//   - Quarterly cycle: Apr 1 - Jun 30
type Period struct {
	Start TimePoint
	End   TimePoint
}

// NewMonthlyPeriod returns the cycle starting at start and spanning months
// calendar months.
func NewMonthlyPeriod(start TimePoint, months int) Period {
	if months < 1 {
		months = 1
	}
	return Period{Start: start, End: start.AddMonths(months).AddDays(-1)}
}

// Validate returns ErrInvalidPeriod unless Start is strictly before End.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() || !p.Start.Before(p.End) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Days returns the number of days in the period, both ends included.
func (p Period) Days() int {
	return DaysBetween(p.Start, p.End) + 1
}

// Months returns the cycle length in months, rounding a trailing partial
// month up. A cycle is never shorter than one month.
func (p Period) Months() int {
	months := MonthsBetween(p.Start, p.End.AddDays(1))
	if p.Start.AddMonths(months).Before(p.End.AddDays(1)) {
		months++
	}
	if months < 1 {
		return 1
	}
	return months
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// NextPeriod returns the cycle of the same length in months that starts the
// day after this one ends.
func (p Period) NextPeriod() Period {
	return NewMonthlyPeriod(p.End.AddDays(1), p.Months())
}
