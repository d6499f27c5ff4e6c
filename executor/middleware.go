package executor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Firing identifies one scheduled execution of a job.
type Firing struct {
	Name       string
	IntendedAt time.Time
}

// Handler is the terminal function that runs the job body.
type Handler func(ctx context.Context) (any, error)

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the firing being executed, and the next handler to
// call. Middleware MUST call next to continue the chain (unless
// short-circuiting on error).
type Middleware func(ctx context.Context, f *Firing, next Handler) (any, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, f *Firing, next Handler) (any, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (any, error) {
				return mw(ctx, f, prev)
			}
		}
		return h(ctx)
	}
}

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are converted to errors and logged with a stack trace,
// so a panicking job body never kills the scheduling loop.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, f *Firing, next Handler) (value any, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("job panicked",
					slog.String("job", f.Name),
					slog.Time("intended_at", f.IntendedAt),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				value = nil
				retErr = fmt.Errorf("panic in job %s: %v", f.Name, r)
			}
		}()
		return next(ctx)
	}
}

// Logging returns middleware that logs firing start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, f *Firing, next Handler) (any, error) {
		logger.Debug("job started",
			slog.String("job", f.Name),
			slog.Time("intended_at", f.IntendedAt),
		)

		start := time.Now()
		value, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("job failed",
				slog.String("job", f.Name),
				slog.Time("intended_at", f.IntendedAt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job completed",
				slog.String("job", f.Name),
				slog.Time("intended_at", f.IntendedAt),
				slog.Duration("elapsed", elapsed),
			)
		}
		return value, err
	}
}
