package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kunzeritter/manual2vector/internal/domain"
	"github.com/kunzeritter/manual2vector/internal/fn"
)

func TestClassifyRateLimited(t *testing.T) {
	if got := Classify(errors.New("upstream returned 429 too many requests")); got != fn.ClassRateLimited {
		t.Fatalf("got %v, want ClassRateLimited", got)
	}
}

func TestClassifyPermanent(t *testing.T) {
	if got := Classify(errors.New("invalid document: malformed PDF header")); got != fn.ClassPermanent {
		t.Fatalf("got %v, want ClassPermanent", got)
	}
	if got := Classify(domain.ErrLeaseMismatch); got != fn.ClassPermanent {
		t.Fatalf("got %v, want ClassPermanent for lease mismatch", got)
	}
	if got := Classify(context.Canceled); got != fn.ClassPermanent {
		t.Fatalf("got %v, want ClassPermanent for cancellation", got)
	}
}

func TestClassifyDefaultRetryable(t *testing.T) {
	if got := Classify(errors.New("connection reset by peer")); got != fn.ClassRetryable {
		t.Fatalf("got %v, want ClassRetryable", got)
	}
}

func TestNewCorrelationIDFormat(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	id := NewCorrelationID(now)
	want := "err-" + "1767225600000" // epoch millis for 2026-01-01T00:00:00Z
	if id[:len(want)] != want {
		t.Fatalf("got %q, want prefix %q", id, want)
	}
	if len(id) != len(want)+1+8 {
		t.Fatalf("unexpected correlation id length: %q", id)
	}
}

func TestNewCorrelationIDUnique(t *testing.T) {
	now := time.Now()
	a := NewCorrelationID(now)
	b := NewCorrelationID(now)
	if a == b {
		t.Fatal("expected distinct correlation ids even for the same timestamp")
	}
}

func TestKeyDeterministicAndDistinct(t *testing.T) {
	a := Key("doc-1", domain.StageUpload)
	b := Key("doc-1", domain.StageUpload)
	if a != b {
		t.Fatal("expected deterministic key")
	}
	c := Key("doc-1", domain.StageEmbedding)
	if a == c {
		t.Fatal("expected different stages to hash differently")
	}
}

func TestShouldRetryRespectsMaxAttemptsAndPermanent(t *testing.T) {
	o := New(nil, fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond})
	if !o.ShouldRetry(fn.ClassRetryable, 1) {
		t.Fatal("expected retry to be allowed within budget")
	}
	if o.ShouldRetry(fn.ClassRetryable, 3) {
		t.Fatal("expected retry to be denied once attempts are exhausted")
	}
	if o.ShouldRetry(fn.ClassPermanent, 1) {
		t.Fatal("expected permanent errors never to retry")
	}
}
