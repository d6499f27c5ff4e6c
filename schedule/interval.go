package schedule

import (
	"strconv"
	"strings"
	"time"
)

func (iv Interval) next(from time.Time, utc bool) (time.Time, error) {
	if err := iv.validate(); err != nil {
		return time.Time{}, err
	}
	if !iv.Aligned {
		return from.Add(time.Duration(iv.Every) * iv.Unit.duration()), nil
	}
	return iv.nextAligned(from.In(locationFor(utc))), nil
}

// nextAligned snaps the next firing to a boundary multiple of the
// interval, in the zone carried by t. Seconds and minutes use absolute
// arithmetic so carry into the next unit falls out naturally; hours and
// days rebuild the wall clock so midnight stays midnight across DST.
func (iv Interval) nextAligned(t time.Time) time.Time {
	switch iv.Unit {
	case Seconds:
		base := t.Truncate(time.Second)
		sec := base.Second()
		next := (sec/iv.Every + 1) * iv.Every
		return base.Add(time.Duration(next-sec) * time.Second)

	case Minutes:
		base := t.Truncate(time.Minute)
		min := base.Minute()
		next := (min/iv.Every + 1) * iv.Every
		return base.Add(time.Duration(next-min) * time.Minute)

	case Hours:
		hour := t.Hour()
		next := (hour/iv.Every + 1) * iv.Every
		day := t.Day()
		if next >= 24 {
			next %= 24
			day++
		}
		return time.Date(t.Year(), t.Month(), day, next, 0, 0, 0, t.Location())

	case Days:
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		return midnight.AddDate(0, 0, iv.Every)
	}
	return time.Time{}
}

func (d Daily) next(from time.Time, utc bool) (time.Time, error) {
	hour, min, err := parseDailyAt(d.At)
	if err != nil {
		return time.Time{}, err
	}
	t := from.In(locationFor(utc))
	candidate := time.Date(t.Year(), t.Month(), t.Day(), hour, min, 0, 0, t.Location())
	if !candidate.After(from) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate, nil
}

// parseDailyAt parses an "H:MM" or "HH:MM" wall-clock time.
func parseDailyAt(at string) (hour, min int, err error) {
	parts := strings.Split(at, ":")
	if len(parts) != 2 {
		return 0, 0, parseErr("at", at, "expected H:MM or HH:MM")
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || len(parts[0]) == 0 || len(parts[0]) > 2 {
		return 0, 0, parseErr("at", at, "hour is not an integer")
	}
	min, err = strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 2 {
		return 0, 0, parseErr("at", at, "minute must be two digits")
	}
	if hour < 0 || hour > 23 {
		return 0, 0, parseErr("at", at, "hour out of range 0-23")
	}
	if min < 0 || min > 59 {
		return 0, 0, parseErr("at", at, "minute out of range 0-59")
	}
	return hour, min, nil
}
