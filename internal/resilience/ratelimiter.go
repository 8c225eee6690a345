package resilience

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/kunzeritter/manual2vector/internal/fn"
)

// LimiterOpts configures a token-bucket rate limiter.
type LimiterOpts struct {
	// Rate is the sustained rate in calls per second.
	Rate  float64
	Burst int
}

// Limiter throttles calls to an external dependency — the vision model's
// VRAM-bound concurrency slot, the embedding model's inter-call delay, or
// a manufacturer bulletin scraper's per-host rate limit.
type Limiter struct {
	b *rate.Limiter
}

// NewLimiter constructs a Limiter.
func NewLimiter(opts LimiterOpts) *Limiter {
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{b: rate.NewLimiter(rate.Limit(opts.Rate), burst)}
}

// Allow reports whether a call may proceed immediately, without blocking.
func (l *Limiter) Allow() bool {
	return l.b.Allow()
}

// Wait blocks until a token is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.b.Wait(ctx)
}

// Call runs f only if a token is immediately available.
func (l *Limiter) Call(f func() error) error {
	if !l.Allow() {
		return ErrRateLimited{}
	}
	return f()
}

// CallWait blocks for a token, then runs f.
func (l *Limiter) CallWait(ctx context.Context, f func() error) error {
	if err := l.Wait(ctx); err != nil {
		return err
	}
	return f()
}

// ErrRateLimited is returned when Call finds no token available.
type ErrRateLimited struct{}

func (ErrRateLimited) Error() string { return "rate limit exceeded" }

// LimiterStage rejects immediately if no token is available.
func LimiterStage[In, Out any](l *Limiter, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		if !l.Allow() {
			return fn.Err[Out](ErrRateLimited{})
		}
		return stage(ctx, in)
	}
}

// LimiterStageWait blocks for a token before running the stage rather
// than rejecting outright.
func LimiterStageWait[In, Out any](l *Limiter, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		if err := l.Wait(ctx); err != nil {
			return fn.Err[Out](err)
		}
		return stage(ctx, in)
	}
}
