// Package resilience provides a circuit breaker and a rate limiter for
// guarding calls to downstream dependencies. The pipeline currently wires
// only the Limiter (visual_embedding's vision-model call rate); the
// Breaker has no caller outside this package.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/kunzeritter/manual2vector/internal/fn"
)

// State is the circuit breaker's current state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerOpts configures a Breaker.
type BreakerOpts struct {
	FailThreshold int
	Timeout       time.Duration
	HalfOpenMax   int
}

// DefaultBreakerOpts trips after 5 consecutive failures, stays open for
// 30s, and allows a single probe call in half-open state.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker guards a downstream dependency (the vision model, the embedding
// model, a manufacturer bulletin scraper endpoint) from repeated calls
// once it starts failing.
type Breaker struct {
	mu           sync.Mutex
	opts         BreakerOpts
	state        State
	failures     int
	openedAt     time.Time
	halfOpenUsed int
}

// NewBreaker constructs a Breaker in the closed state.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBreakerOpts.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	return &Breaker{opts: opts, state: Closed}
}

// ErrBreakerOpen is returned when a call is rejected because the breaker
// is open.
type ErrBreakerOpen struct{}

func (ErrBreakerOpen) Error() string { return "circuit breaker open" }

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.opts.Timeout {
			b.state = HalfOpen
			b.halfOpenUsed = 0
		} else {
			return false
		}
		fallthrough
	case HalfOpen:
		if b.halfOpenUsed < b.opts.HalfOpenMax {
			b.halfOpenUsed++
			return true
		}
		return false
	}
	return false
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = Closed
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == HalfOpen || b.failures >= b.opts.FailThreshold {
		b.state = Open
		b.openedAt = time.Now()
	}
}

// Current returns the breaker's current state, without mutating it.
func (b *Breaker) Current() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Call runs f if the breaker allows it, recording the outcome.
func (b *Breaker) Call(f func() error) error {
	if !b.allow() {
		return ErrBreakerOpen{}
	}
	err := f()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// CallResult is the fn.Result-returning variant of Call.
func CallResult[T any](b *Breaker, f func() fn.Result[T]) fn.Result[T] {
	if !b.allow() {
		return fn.Err[T](ErrBreakerOpen{})
	}
	res := f()
	if res.IsErr() {
		b.recordFailure()
		return res
	}
	b.recordSuccess()
	return res
}

// BreakerStage wraps a Stage with circuit-breaker protection.
func BreakerStage[In, Out any](b *Breaker, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		return CallResult(b, func() fn.Result[Out] {
			return stage(ctx, in)
		})
	}
}
