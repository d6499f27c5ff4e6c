package schedule

import (
	"time"
)

// maxCronIterations caps the minute-by-minute search at four years.
// An expression that never matches a real calendar day (e.g. Feb 30)
// exhausts the cap and yields ErrImpossibleSchedule.
const maxCronIterations = 4 * 365 * 24 * 60

// NextAfter computes the first instant strictly after from that matches
// the fields, evaluated in UTC or the local zone.
func (f *CronFields) NextAfter(from time.Time, utc bool) (time.Time, error) {
	loc := locationFor(utc)
	t := from.In(loc).Truncate(time.Minute).Add(time.Minute)

	for i := 0; i < maxCronIterations; i++ {
		if f.matches(t) {
			return t, nil
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, ErrImpossibleSchedule
}

func (f *CronFields) matches(t time.Time) bool {
	if !containsInt(f.Minute, t.Minute()) {
		return false
	}
	if !containsInt(f.Hour, t.Hour()) {
		return false
	}
	if !containsInt(f.Month, int(t.Month())) {
		return false
	}
	return f.dayMatches(t)
}

// dayMatches applies the classic cron day rule: when both day-of-month
// and day-of-week are restricted, a day matches if either does; when at
// most one is restricted, both must match (a wildcard always matches).
func (f *CronFields) dayMatches(t time.Time) bool {
	domRestricted := f.LastDayOfMonth || !f.DayOfMonthWildcard
	dowRestricted := !f.DayOfWeekWildcard

	domOK := f.domMatches(t)
	dowOK := containsInt(f.DayOfWeek, int(t.Weekday()))

	if domRestricted && dowRestricted {
		return domOK || dowOK
	}
	return domOK && dowOK
}

func (f *CronFields) domMatches(t time.Time) bool {
	if f.LastDayOfMonth {
		return t.AddDate(0, 0, 1).Month() != t.Month()
	}
	return containsInt(f.DayOfMonth, t.Day())
}

func containsInt(set []int, v int) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}
