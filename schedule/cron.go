package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// CronFields is the normalized form of a five-field cron expression.
// Each slice is sorted and deduplicated. The wildcard flags record
// whether the user wrote `*` for the day fields, which changes the
// day/weekday match rule (OR when both are restricted, AND otherwise).
type CronFields struct {
	Minute     []int
	Hour       []int
	DayOfMonth []int
	Month      []int
	DayOfWeek  []int

	DayOfMonthWildcard bool
	DayOfWeekWildcard  bool

	// LastDayOfMonth is set by `L` in the day-of-month field; the
	// DayOfMonth set is then empty.
	LastDayOfMonth bool
}

type fieldSpec struct {
	name  string
	min   int
	max   int
	names map[string]int
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var weekdayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

var cronFieldSpecs = [5]fieldSpec{
	{name: "minute", min: 0, max: 59},
	{name: "hour", min: 0, max: 23},
	{name: "day-of-month", min: 1, max: 31},
	{name: "month", min: 1, max: 12, names: monthNames},
	{name: "day-of-week", min: 0, max: 7, names: weekdayNames},
}

// ParseCron parses a five-field cron expression into CronFields.
// Fields are whitespace-separated; each accepts `*`, values, names,
// ranges, steps, and comma lists. The day-of-month field additionally
// accepts `L` (last day of the month) as the whole token.
func ParseCron(expr string) (*CronFields, error) {
	tokens := strings.Fields(expr)
	if len(tokens) != 5 {
		return nil, parseErr("expression", expr,
			fmt.Sprintf("expected 5 fields, got %d", len(tokens)))
	}

	f := &CronFields{}

	for i, tok := range tokens {
		spec := cronFieldSpecs[i]

		if i == 2 && strings.EqualFold(tok, "L") {
			f.LastDayOfMonth = true
			f.DayOfMonth = nil
			continue
		}

		set, wildcard, err := parseCronField(tok, spec)
		if err != nil {
			return nil, err
		}

		switch i {
		case 0:
			f.Minute = set
		case 1:
			f.Hour = set
		case 2:
			f.DayOfMonth = set
			f.DayOfMonthWildcard = wildcard
		case 3:
			f.Month = set
		case 4:
			f.DayOfWeek = normalizeWeekdays(set)
			f.DayOfWeekWildcard = wildcard
		}
	}

	return f, nil
}

// parseCronField expands one field token into a sorted, deduplicated
// value set. wildcard reports whether the token was a bare `*`, i.e.
// the user did not restrict the field at all. A stepped wildcard like
// `*/2` restricts the field and is not a wildcard.
func parseCronField(tok string, spec fieldSpec) (set []int, wildcard bool, err error) {
	seen := make(map[int]bool)
	wildcard = tok == "*"

	for _, elem := range strings.Split(tok, ",") {
		if elem == "" {
			return nil, false, parseErr(spec.name, tok, "empty list element")
		}

		base := elem
		step := 1
		if idx := strings.Index(elem, "/"); idx >= 0 {
			base = elem[:idx]
			stepStr := elem[idx+1:]
			if stepStr == "" {
				return nil, false, parseErr(spec.name, elem, "missing step value")
			}
			step, err = strconv.Atoi(stepStr)
			if err != nil {
				return nil, false, parseErr(spec.name, elem, "step is not an integer")
			}
			if step <= 0 {
				return nil, false, parseErr(spec.name, elem, "step must be positive")
			}
		}

		lo, hi, isRange, err := parseCronBase(base, elem, spec)
		if err != nil {
			return nil, false, err
		}

		// A bare value with a step (`a/s`) runs from a to the field max.
		if !isRange && base != "*" && strings.Contains(elem, "/") {
			hi = spec.max
		}

		for v := lo; v <= hi; v += step {
			seen[v] = true
		}
	}

	set = make([]int, 0, len(seen))
	for v := range seen {
		set = append(set, v)
	}
	sort.Ints(set)

	if len(set) == 0 {
		return nil, false, parseErr(spec.name, tok, "empty field")
	}
	return set, wildcard, nil
}

// parseCronBase resolves the part of a list element before any `/`:
// `*`, a single value, or a range `a-b`. Returns the inclusive bounds.
func parseCronBase(base, elem string, spec fieldSpec) (lo, hi int, isRange bool, err error) {
	if base == "*" {
		return spec.min, spec.max, true, nil
	}

	if idx := strings.Index(base, "-"); idx >= 0 {
		loStr, hiStr := base[:idx], base[idx+1:]
		if loStr == "" || hiStr == "" {
			return 0, 0, false, parseErr(spec.name, elem, "range is missing an endpoint")
		}
		lo, err = resolveCronValue(loStr, spec)
		if err != nil {
			return 0, 0, false, err
		}
		hi, err = resolveCronValue(hiStr, spec)
		if err != nil {
			return 0, 0, false, err
		}
		if lo > hi {
			return 0, 0, false, parseErr(spec.name, elem, "range start exceeds end")
		}
		return lo, hi, true, nil
	}

	v, err := resolveCronValue(base, spec)
	if err != nil {
		return 0, 0, false, err
	}
	return v, v, false, nil
}

// resolveCronValue converts a single token to an integer, accepting
// month/weekday names case-insensitively, and range-checks it.
func resolveCronValue(s string, spec fieldSpec) (int, error) {
	if spec.names != nil {
		if v, ok := spec.names[strings.ToLower(s)]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		if spec.names != nil {
			return 0, parseErr(spec.name, s, "unknown name")
		}
		return 0, parseErr(spec.name, s, "not an integer")
	}
	if v < spec.min || v > spec.max {
		return 0, parseErr(spec.name, s,
			fmt.Sprintf("value out of range %d-%d", spec.min, spec.max))
	}
	return v, nil
}

// normalizeWeekdays folds 7 (Sunday) into 0 and re-deduplicates.
func normalizeWeekdays(set []int) []int {
	seen := make(map[int]bool, len(set))
	for _, v := range set {
		if v == 7 {
			v = 0
		}
		seen[v] = true
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
