package fn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffDelayExponentialWithJitterCap(t *testing.T) {
	opts := RetryOpts{InitialWait: time.Second, MaxWait: 30 * time.Second, Jitter: true}
	fixed := func() float64 { return 0.5 } // factor = 1.0

	if got := BackoffDelay(opts, 1, fixed); got != time.Second {
		t.Fatalf("attempt 1: got %v, want 1s", got)
	}
	if got := BackoffDelay(opts, 2, fixed); got != 2*time.Second {
		t.Fatalf("attempt 2: got %v, want 2s", got)
	}
	if got := BackoffDelay(opts, 6, fixed); got != 30*time.Second {
		t.Fatalf("attempt 6: got %v, want cap of 30s", got)
	}
}

func TestBackoffDelayJitterRange(t *testing.T) {
	opts := RetryOpts{InitialWait: time.Second, MaxWait: 30 * time.Second, Jitter: true}
	low := func() float64 { return 0 }
	high := func() float64 { return 1 }

	if got := BackoffDelay(opts, 1, low); got != 800*time.Millisecond {
		t.Fatalf("low jitter: got %v, want 800ms", got)
	}
	if got := BackoffDelay(opts, 1, high); got != 1200*time.Millisecond {
		t.Fatalf("high jitter: got %v, want 1200ms", got)
	}
}

func TestRetryClassifiedStopsOnPermanent(t *testing.T) {
	attempts := 0
	permanent := errors.New("permanent")
	_, class := RetryClassified(context.Background(), RetryOpts{MaxAttempts: 5, InitialWait: time.Millisecond, MaxWait: time.Millisecond},
		func(error) Classification { return ClassPermanent },
		func(ctx context.Context) Result[int] {
			attempts++
			return Err[int](permanent)
		})
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for permanent error, got %d", attempts)
	}
	if class != ClassPermanent {
		t.Fatalf("expected ClassPermanent, got %v", class)
	}
}

func TestRetryClassifiedExhaustsMaxAttempts(t *testing.T) {
	attempts := 0
	_, class := RetryClassified(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond},
		func(error) Classification { return ClassRetryable },
		func(ctx context.Context) Result[int] {
			attempts++
			return Errf[int]("transient failure")
		})
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if class != ClassRetryable {
		t.Fatalf("expected ClassRetryable, got %v", class)
	}
}

func TestRetryClassifiedSucceedsAfterRetry(t *testing.T) {
	attempts := 0
	res, _ := RetryClassified(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond},
		func(error) Classification { return ClassRetryable },
		func(ctx context.Context) Result[int] {
			attempts++
			if attempts < 2 {
				return Errf[int]("not yet")
			}
			return Ok(42)
		})
	v, err := res.Unwrap()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("got %d, want 42", v)
	}
}

func TestRetryClassifiedRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, _ := RetryClassified(ctx, RetryOpts{MaxAttempts: 3, InitialWait: time.Second, MaxWait: time.Second},
		func(error) Classification { return ClassRetryable },
		func(ctx context.Context) Result[int] {
			return Errf[int]("fail")
		})
	if res.IsOk() {
		t.Fatal("expected error result after cancellation")
	}
}

func TestRetryStageWrapsStage(t *testing.T) {
	calls := 0
	stage := func(ctx context.Context, in int) Result[int] {
		calls++
		if calls < 2 {
			return Errf[int]("fail")
		}
		return Ok(in * 2)
	}
	wrapped := RetryStage(RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond}, stage)
	res := wrapped(context.Background(), 21)
	v, err := res.Unwrap()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("got %d, want 42", v)
	}
}
