package fn

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Classification is the outcome of classifying a failed attempt, used by
// Retry to decide whether and how long to wait before the next attempt.
// The retry orchestrator (internal/retry) is the sole caller that needs
// the full decision; everything else just retries transient errors.
type Classification int

const (
	// ClassRetryable means try again, subject to MaxAttempts.
	ClassRetryable Classification = iota
	// ClassRateLimited means try again, but never sooner than the
	// orchestrator's configured floor delay, regardless of attempt.
	ClassRateLimited
	// ClassPermanent means stop immediately; do not consume a retry slot.
	ClassPermanent
)

// RetryOpts configures exponential-backoff retry (spec §4.C step 3):
// delay = base * 2^(attempt-1) * jitter, jitter uniform in [0.8, 1.2],
// capped at MaxWait.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	// RateLimitFloor is the minimum delay enforced for ClassRateLimited
	// failures regardless of attempt number (spec §7: "e.g. 30s").
	RateLimitFloor time.Duration
	Jitter         bool
}

// DefaultRetry matches the spec's defaults: 3 attempts, 1s base, 30s cap.
var DefaultRetry = RetryOpts{
	MaxAttempts:    3,
	InitialWait:    time.Second,
	MaxWait:        30 * time.Second,
	RateLimitFloor: 30 * time.Second,
	Jitter:         true,
}

// Classifier maps an error to a Classification.
type Classifier func(error) Classification

// BackoffDelay computes the delay before the given attempt (1-indexed),
// applying jitter and the cap. Exposed standalone so the retry
// orchestrator can compute a scheduled_at for a durable queue entry
// without actually sleeping (spec §4.C step 5 "deployment parameter").
func BackoffDelay(opts RetryOpts, attempt int, jitterFunc func() float64) time.Duration {
	if jitterFunc == nil {
		jitterFunc = rand.Float64
	}
	base := opts.InitialWait
	if base <= 0 {
		base = DefaultRetry.InitialWait
	}
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultRetry.MaxWait
	}
	exp := attempt - 1
	if exp < 0 {
		exp = 0
	}
	wait := float64(base) * math.Pow(2, float64(exp))
	if opts.Jitter {
		wait *= 0.8 + 0.4*jitterFunc() // uniform in [0.8, 1.2]
	}
	if wait > float64(maxWait) {
		return maxWait
	}
	return time.Duration(wait)
}

// RetryClassified retries f, classifying each failure to decide whether
// to continue and how long to wait — the in-process half of spec §4.C
// step 5 ("in-process sleep is acceptable only for short-lived retries").
// Permanent classifications stop immediately without consuming the
// remaining attempt budget's delay.
func RetryClassified[T any](ctx context.Context, opts RetryOpts, classify Classifier, f func(context.Context) Result[T]) (Result[T], Classification) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultRetry.MaxAttempts
	}

	var result Result[T]
	var class Classification

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result = f(ctx)
		if result.IsOk() {
			return result, ClassRetryable
		}

		_, err := result.Unwrap()
		class = classify(err)
		if class == ClassPermanent {
			return result, class
		}
		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return Err[T](ctx.Err()), class
		default:
		}

		wait := BackoffDelay(opts, attempt, nil)
		if class == ClassRateLimited && wait < opts.RateLimitFloor {
			wait = opts.RateLimitFloor
		}

		select {
		case <-ctx.Done():
			return Err[T](ctx.Err()), class
		case <-time.After(wait):
		}
	}
	return result, class
}

// Retry retries f up to MaxAttempts times with exponential backoff,
// treating every failure as retryable. Used where the caller has no
// error taxonomy to apply (e.g. a plain infrastructure dial loop).
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	res, _ := RetryClassified(ctx, opts, func(error) Classification { return ClassRetryable }, f)
	return res
}

// RetryStage wraps a Stage with unclassified retry logic.
func RetryStage[In, Out any](opts RetryOpts, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		return Retry(ctx, opts, func(ctx context.Context) Result[Out] {
			return stage(ctx, in)
		})
	}
}
