// Package timer implements the scheduling loop behind every job: a
// recurring timer that asks a NextFunc for the next firing instant,
// sleeps until then, and invokes an ExecFunc with the intended firing
// time (seconds precision).
//
// The loop is defensive. Next-run instants are validated (non-zero,
// strictly in the future) before arming; delays are clamped to MaxDelay
// with a recompute-on-fire split for longer waits; scheduling failures
// retry with exponential backoff; and a circuit breaker stops the loop
// for good after too many consecutive failures, so a broken schedule
// cannot spin.
//
// Execution failures are different from scheduling failures: they are
// reported through the OnError callback and never affect the loop.
package timer
