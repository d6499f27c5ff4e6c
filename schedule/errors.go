package schedule

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSchedule reports a schedule value that matches no variant,
	// such as a nil Schedule handed to NextAfter.
	ErrInvalidSchedule = errors.New("schedule: invalid schedule")

	// ErrImpossibleSchedule reports a cron expression whose fields can
	// never align with a real calendar instant (e.g. "0 9 30 2 *").
	// Raised after the four-year search cap is exhausted.
	ErrImpossibleSchedule = errors.New("schedule: no matching instant within four years")
)

// ParseError reports an ill-formed cron expression or daily "at" string.
// Field names the offending field and Token the offending input.
type ParseError struct {
	Field  string
	Token  string
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("schedule: %s field: %s: %q", e.Field, e.Reason, e.Token)
}

func parseErr(field, token, reason string) *ParseError {
	return &ParseError{Field: field, Token: token, Reason: reason}
}
