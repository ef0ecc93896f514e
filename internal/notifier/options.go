package notifier

import (
	"context"
	"log/slog"
	"time"
)

type Option func(*Runner)

// WithLogger sets a custom logger for the Runner instance.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithLogHandler sets a custom log handler for the Runner instance.
func WithLogHandler(handler slog.Handler) Option {
	return func(r *Runner) {
		r.logger = slog.New(handler)
	}
}

// WithContext sets a custom parent context for the Runner instance.
func WithContext(ctx context.Context) Option {
	return func(r *Runner) {
		r.parentCtx = ctx
	}
}

// WithThrottleWindow sets the minimum interval between notifications of
// the same kind to one session.
func WithThrottleWindow(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.window = d
		}
	}
}
