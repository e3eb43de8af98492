package retrier

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const (
	defaultAttempts        = 3
	defaultInitialInterval = 200 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
	defaultMultiplier      = 2.0
	defaultJitter          = 0.1
)

// Retrier runs a call up to a fixed number of attempts with exponential
// backoff between them.
type Retrier struct {
	attempts        int
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	jitter          float64
	retryable       func(error) bool
	onRetry         func(attempt int, err error)
}

type Option func(*Retrier)

// WithAttempts sets the total number of attempts, including the first.
func WithAttempts(n int) Option {
	return func(r *Retrier) {
		if n > 0 {
			r.attempts = n
		}
	}
}

func WithInitialInterval(d time.Duration) Option {
	return func(r *Retrier) {
		if d >= 0 {
			r.initialInterval = d
		}
	}
}

func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) {
		if d > 0 {
			r.maxInterval = d
		}
	}
}

// WithJitter sets the jitter factor in [0, 1].
func WithJitter(j float64) Option {
	return func(r *Retrier) {
		if j >= 0 && j <= 1 {
			r.jitter = j
		}
	}
}

// WithRetryable restricts retries to errors for which fn returns true.
func WithRetryable(fn func(error) bool) Option {
	return func(r *Retrier) {
		r.retryable = fn
	}
}

// WithOnRetry registers a hook invoked after each failed attempt that will be
// retried.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

func New(opts ...Option) *Retrier {
	r := &Retrier{
		attempts:        defaultAttempts,
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		multiplier:      defaultMultiplier,
		jitter:          defaultJitter,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrier) Attempts() int { return r.attempts }

// Do calls fn until it succeeds, the attempts are exhausted, the error is not
// retryable, or ctx is done. The last error from fn is returned.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	interval := r.initialInterval
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt == r.attempts || errors.Is(err, context.Canceled) {
			break
		}
		if r.retryable != nil && !r.retryable(err) {
			break
		}
		if r.onRetry != nil {
			r.onRetry(attempt, err)
		}
		if !sleep(ctx, r.withJitter(interval)) {
			return ctx.Err()
		}
		interval = time.Duration(float64(interval) * r.multiplier)
		if interval > r.maxInterval {
			interval = r.maxInterval
		}
	}
	return err
}

func (r *Retrier) withJitter(d time.Duration) time.Duration {
	if r.jitter == 0 || d <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * r.jitter * float64(d)
	out := time.Duration(float64(d) + delta)
	if out < 0 {
		return 0
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// DoWithData is Do for calls that return a value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})
	return result, err
}
