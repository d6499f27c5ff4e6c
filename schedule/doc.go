// Package schedule defines the three schedule forms a job can carry
// (fixed intervals, daily wall-clock times, and five-field cron
// expressions) and computes the next firing instant for each.
//
// All three forms implement the sealed Schedule interface; NextAfter
// dispatches on the concrete type. Computation is a pure function of
// (schedule, from, utc): the same inputs always yield the same instant.
//
// Cron expressions follow the standard five fields (minute, hour,
// day-of-month, month, day-of-week) with *, lists, ranges, steps and
// month/weekday names, plus `L` in the day-of-month field for the last
// day of the month. Weekday 0 and 7 both denote Sunday. When both the
// day-of-month and day-of-week fields are restricted, a candidate day
// matches if either field matches (classic cron OR semantics).
package schedule
