package schedule

import (
	"fmt"
	"time"
)

// Unit is the time unit of an Interval schedule.
type Unit string

// Units accepted by Interval schedules.
const (
	Seconds Unit = "seconds"
	Minutes Unit = "minutes"
	Hours   Unit = "hours"
	Days    Unit = "days"
)

func (u Unit) duration() time.Duration {
	switch u {
	case Seconds:
		return time.Second
	case Minutes:
		return time.Minute
	case Hours:
		return time.Hour
	case Days:
		return 24 * time.Hour
	}
	return 0
}

// Schedule is the tagged union of the three schedule forms. It is sealed:
// only Interval, Daily, and Cron implement it.
type Schedule interface {
	// next computes the next firing instant strictly after from.
	next(from time.Time, utc bool) (time.Time, error)

	// validate checks the static configuration of the schedule.
	validate() error
}

// Every constructs an interval schedule firing every n units. With
// aligned=false the interval drifts from the previous scheduling instant;
// with aligned=true firings snap to boundary multiples of the interval.
func Every(n int, unit Unit, aligned bool) Interval {
	return Interval{Every: n, Unit: unit, Aligned: aligned}
}

// DailyAt constructs a daily schedule firing at the given "H:MM" or
// "HH:MM" wall-clock time.
func DailyAt(at string) Daily {
	return Daily{At: at}
}

// Expr constructs a cron schedule from a five-field expression.
func Expr(expr string) Cron {
	return Cron{Expr: expr}
}

// NextAfter routes a schedule to its next-instant computation. The result
// is strictly after from. A nil schedule yields ErrInvalidSchedule.
func NextAfter(s Schedule, from time.Time, utc bool) (time.Time, error) {
	if s == nil {
		return time.Time{}, ErrInvalidSchedule
	}
	return s.next(from, utc)
}

// Validate checks a schedule's static configuration without computing an
// instant. Registries call this at job-add time so malformed expressions
// surface to the caller instead of the timer loop.
func Validate(s Schedule) error {
	if s == nil {
		return ErrInvalidSchedule
	}
	return s.validate()
}

func locationFor(utc bool) *time.Location {
	if utc {
		return time.UTC
	}
	return time.Local
}

// ── Interval ─────────────────────────────────────────────────

// Interval fires every N units, either drifting from the previous
// scheduling instant or aligned to boundary multiples of the interval.
type Interval struct {
	Every   int
	Unit    Unit
	Aligned bool
}

func (iv Interval) validate() error {
	if iv.Every <= 0 {
		return parseErr("every", fmt.Sprintf("%d", iv.Every), "must be a positive integer")
	}
	if iv.Unit.duration() == 0 {
		return parseErr("unit", string(iv.Unit), "unknown unit")
	}
	return nil
}

// ── Daily ────────────────────────────────────────────────────

// Daily fires once a day at a fixed wall-clock time in the chosen zone.
type Daily struct {
	At string
}

func (d Daily) validate() error {
	_, _, err := parseDailyAt(d.At)
	return err
}

// ── Cron ─────────────────────────────────────────────────────

// Cron fires per a five-field cron expression.
type Cron struct {
	Expr string
}

func (c Cron) validate() error {
	_, err := ParseCron(c.Expr)
	return err
}

func (c Cron) next(from time.Time, utc bool) (time.Time, error) {
	fields, err := ParseCron(c.Expr)
	if err != nil {
		return time.Time{}, err
	}
	return fields.NextAfter(from, utc)
}
