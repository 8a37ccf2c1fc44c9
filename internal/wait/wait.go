// Package wait holds the bounded polling primitives every UI step is built on.
// Nothing here blocks past its timeout; probe errors mean "not yet".
package wait

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a condition is not satisfied before the deadline.
var ErrTimeout = errors.New("wait: condition not met before timeout")

const (
	DefaultTimeout  = 10 * time.Second
	DefaultInterval = 200 * time.Millisecond
)

// Options bounds a single wait.
type Options struct {
	Timeout  time.Duration
	Interval time.Duration
	Clock    Clock
}

func (o Options) normalized() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Clock == nil {
		o.Clock = RealClock{}
	}
	return o
}

// WithTimeout returns a copy with a different timeout.
func (o Options) WithTimeout(d time.Duration) Options {
	o.Timeout = d
	return o
}

// Probe evaluates a condition once. A false result or a non-nil error both mean
// the condition is not met yet.
type Probe[T any] func(ctx context.Context) (T, bool, error)

// Poll evaluates probe until it reports success, the timeout elapses or ctx ends.
// The probe always runs at least once.
func Poll[T any](ctx context.Context, opts Options, probe Probe[T]) (T, error) {
	opts = opts.normalized()
	deadline := opts.Clock.Now().Add(opts.Timeout)

	var zero T
	for {
		v, ok, err := probe(ctx)
		if err == nil && ok {
			return v, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		remaining := deadline.Sub(opts.Clock.Now())
		if remaining <= 0 {
			return zero, ErrTimeout
		}
		step := opts.Interval
		if step > remaining {
			step = remaining
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-opts.Clock.After(step):
		}
	}
}

// Until is Poll for plain boolean conditions.
func Until(ctx context.Context, opts Options, cond func(ctx context.Context) bool) bool {
	_, err := Poll(ctx, opts, func(ctx context.Context) (struct{}, bool, error) {
		return struct{}{}, cond(ctx), nil
	})
	return err == nil
}
