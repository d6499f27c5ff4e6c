package timer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Anonyfox/meteor-synced-cron/backoff"
)

// MaxDelay is the longest single timer arm, matching the 32-bit signed
// millisecond ceiling (~24.8 days). Longer waits are split: the timer
// fires after MaxDelay and recomputes without executing.
const MaxDelay = 2147483647 * time.Millisecond

var (
	// ErrInvalidNextRun reports a next-run instant that is zero or not
	// strictly after the current time.
	ErrInvalidNextRun = errors.New("timer: next run is not after now")

	// ErrDelayOutOfRange reports a one-shot delay outside [0, MaxDelay].
	ErrDelayOutOfRange = errors.New("timer: delay out of range")

	// ErrCircuitOpen reports a recurring timer that stopped after too
	// many consecutive scheduling failures.
	ErrCircuitOpen = errors.New("timer: circuit breaker tripped")
)

// NextFunc computes the next firing instant, strictly after now.
type NextFunc func(now time.Time) (time.Time, error)

// ExecFunc runs the work for one firing. The error is routed to the
// OnError callback and never stops the loop.
type ExecFunc func(intendedAt time.Time) error

// Handle is a cancellable reference to an armed timer. Cancel is
// idempotent and safe to call from any goroutine.
type Handle struct {
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// Cancel stops the timer. A recurring timer stops after the current
// tick, a one-shot timer never fires.
func (h *Handle) Cancel() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// Done is closed once the timer's loop has fully exited.
func (h *Handle) Done() <-chan struct{} { return h.doneCh }

type recurring struct {
	next NextFunc
	exec ExecFunc

	now         func() time.Time
	logger      *slog.Logger
	backoff     backoff.Strategy
	maxFailures int

	onSchedule     func(time.Time)
	onError        func(error)
	onCircuitBreak func(error)

	handle   *Handle
	failures int
}

// Option configures a recurring timer.
type Option func(*recurring)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *recurring) { r.logger = l }
}

// WithBackoff sets the retry delay strategy for scheduling failures.
func WithBackoff(s backoff.Strategy) Option {
	return func(r *recurring) { r.backoff = s }
}

// WithMaxConsecutiveFailures sets how many scheduling failures in a row
// trip the circuit breaker. Defaults to 3.
func WithMaxConsecutiveFailures(n int) Option {
	return func(r *recurring) { r.maxFailures = n }
}

// WithOnSchedule sets a callback invoked after each successful arm with
// the instant the timer will fire at.
func WithOnSchedule(fn func(nextRun time.Time)) Option {
	return func(r *recurring) { r.onSchedule = fn }
}

// WithOnError sets a callback for scheduling and execution errors.
func WithOnError(fn func(error)) Option {
	return func(r *recurring) { r.onError = fn }
}

// WithOnCircuitBreak sets a callback invoked once when the breaker
// trips; the timer never fires again afterwards.
func WithOnCircuitBreak(fn func(error)) Option {
	return func(r *recurring) { r.onCircuitBreak = fn }
}

// WithNowFunc overrides the clock. Tests use this to pin "now".
func WithNowFunc(fn func() time.Time) Option {
	return func(r *recurring) { r.now = fn }
}

// Recurring arms a self-rescheduling timer: compute the next instant,
// sleep, execute, repeat. Scheduling failures back off exponentially
// and trip a circuit breaker after maxFailures in a row; execution
// failures are reported through OnError and never stop the loop.
func Recurring(next NextFunc, exec ExecFunc, opts ...Option) *Handle {
	r := &recurring{
		next:        next,
		exec:        exec,
		now:         time.Now,
		logger:      slog.Default(),
		backoff:     backoff.DefaultStrategy(),
		maxFailures: 3,
		handle: &Handle{
			stopCh: make(chan struct{}),
			doneCh: make(chan struct{}),
		},
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.loop()
	return r.handle
}

func (r *recurring) loop() {
	defer close(r.handle.doneCh)

	for {
		select {
		case <-r.handle.stopCh:
			return
		default:
		}

		now := r.now()
		nextRun, err := r.next(now)
		if err == nil && (nextRun.IsZero() || !nextRun.After(now)) {
			err = fmt.Errorf("%w: got %v at %v", ErrInvalidNextRun, nextRun, now)
		}
		if err != nil {
			if !r.scheduleFailed(err) {
				return
			}
			continue
		}

		delay := nextRun.Sub(now)
		clamped := delay > MaxDelay
		if clamped {
			delay = MaxDelay
		}

		r.failures = 0
		if r.onSchedule != nil {
			r.onSchedule(nextRun)
		}
		r.logger.Debug("timer armed",
			slog.Time("next_run", nextRun),
			slog.Duration("delay", delay),
			slog.Bool("clamped", clamped),
		)

		if !r.sleep(delay) {
			return
		}
		if clamped {
			continue
		}

		r.fire(nextRun)
	}
}

// fire runs one tick. Panics and errors from the exec function are
// routed to OnError so the loop survives them.
func (r *recurring) fire(nextRun time.Time) {
	intendedAt := nextRun.Truncate(time.Second)

	defer func() {
		if rec := recover(); rec != nil {
			r.reportError(fmt.Errorf("timer: tick panicked: %v", rec))
		}
	}()

	if err := r.exec(intendedAt); err != nil {
		r.reportError(err)
	}
}

// scheduleFailed handles one scheduling failure: report, back off, and
// trip the breaker when the run of failures reaches the limit. Returns
// false when the loop must stop.
func (r *recurring) scheduleFailed(err error) bool {
	r.failures++
	r.reportError(err)

	if r.failures >= r.maxFailures {
		r.logger.Error("timer circuit breaker tripped",
			slog.Int("consecutive_failures", r.failures),
			slog.String("error", err.Error()),
		)
		if r.onCircuitBreak != nil {
			r.onCircuitBreak(err)
		}
		return false
	}

	retryIn := r.backoff.Delay(r.failures)
	r.logger.Warn("timer scheduling failed",
		slog.Int("consecutive_failures", r.failures),
		slog.Duration("retry_in", retryIn),
		slog.String("error", err.Error()),
	)
	return r.sleep(retryIn)
}

func (r *recurring) reportError(err error) {
	if r.onError != nil {
		r.onError(err)
	}
}

// sleep waits for d or until cancellation. Returns false on cancel.
func (r *recurring) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-r.handle.stopCh:
		return false
	}
}

// Once arms a single-shot timer for fn after delay. The delay must be
// within [0, MaxDelay]. Errors returned by fn are logged, not raised.
func Once(delay time.Duration, fn func() error, opts ...Option) (*Handle, error) {
	if delay < 0 || delay > MaxDelay {
		return nil, fmt.Errorf("%w: %v", ErrDelayOutOfRange, delay)
	}

	r := &recurring{
		now:    time.Now,
		logger: slog.Default(),
		handle: &Handle{
			stopCh: make(chan struct{}),
			doneCh: make(chan struct{}),
		},
	}
	for _, opt := range opts {
		opt(r)
	}

	go func() {
		defer close(r.handle.doneCh)
		if !r.sleep(delay) {
			return
		}
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("one-shot timer panicked", slog.Any("panic", rec))
			}
		}()
		if err := fn(); err != nil {
			r.logger.Warn("one-shot timer failed", slog.String("error", err.Error()))
		}
	}()
	return r.handle, nil
}
