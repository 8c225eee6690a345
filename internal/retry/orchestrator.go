// Package retry implements the Retry Orchestrator (spec §4.C): it
// classifies a stage failure, decides whether and when to retry, and
// owns the ErrorRecord lifecycle backing that decision. It computes retry
// times with internal/fn's BackoffDelay and RetryOpts; this package is the
// domain-specific policy layer on top.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kunzeritter/manual2vector/internal/domain"
	"github.com/kunzeritter/manual2vector/internal/fn"
)

// Orchestrator classifies failures and drives the ErrorRecord lifecycle.
type Orchestrator struct {
	pool *pgxpool.Pool
	opts fn.RetryOpts
}

// New constructs an Orchestrator.
func New(pool *pgxpool.Pool, opts fn.RetryOpts) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts = fn.DefaultRetry
	}
	return &Orchestrator{pool: pool, opts: opts}
}

// NewCorrelationID produces an err-<epoch_ms>-<rand8> identifier, the
// format every ErrorRecord and its downstream log lines are keyed by.
func NewCorrelationID(now time.Time) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("err-%d-%s", now.UnixMilli(), randHex(b))
}

func randHex(b [4]byte) string {
	const hex = "0123456789abcdef"
	out := make([]byte, 8)
	for i, c := range b {
		out[i*2] = hex[c>>4]
		out[i*2+1] = hex[c&0x0f]
	}
	return string(out)
}

// Classify maps an error to a fn.Classification using substring matching
// against known transient/rate-limit markers. Stage processors that know
// more about their own failure modes (e.g. an HTTP status code) should
// classify directly rather than relying on string matching here.
func Classify(err error) fn.Classification {
	if err == nil {
		return fn.ClassRetryable
	}
	if errors.Is(err, context.Canceled) {
		return fn.ClassPermanent
	}
	if errors.Is(err, domain.ErrLeaseMismatch) || errors.Is(err, domain.ErrAdvisoryLockHeld) {
		return fn.ClassPermanent
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"):
		return fn.ClassRateLimited
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "malformed"), strings.Contains(msg, "unsupported"):
		return fn.ClassPermanent
	default:
		return fn.ClassRetryable
	}
}

// RecordFailure persists an ErrorRecord for a failed stage attempt,
// generating a fresh correlation id, and returns it. Called once per
// failed attempt regardless of whether a retry will follow.
//
// Cancellation is the one exception (spec §7): it never gets a
// persisted ErrorRecord, since a cancelled run isn't a failure to
// retry or investigate. The correlation id is still generated and
// returned so the caller has something to stamp on the stage row's
// last_error_ref — that stage-row note is the only trace a
// cancellation leaves.
func (o *Orchestrator) RecordFailure(ctx context.Context, documentID string, stage domain.StageName, attempt int, err error) (domain.ErrorRecord, error) {
	now := time.Now().UTC()
	class := Classify(err)
	rec := domain.ErrorRecord{
		ID:            uuid.NewString(),
		CorrelationID: NewCorrelationID(now),
		DocumentID:    documentID,
		Stage:         stage,
		ErrorType:     classToKind(class),
		Message:       err.Error(),
		Attempt:       attempt,
		Status:        domain.ErrorPendingRetry,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrCancelled) {
		rec.ErrorType = domain.ErrKindCancelled
		rec.Status = domain.ErrorExhausted
		return rec, nil
	}
	if class == fn.ClassPermanent {
		rec.Status = domain.ErrorExhausted
	} else {
		delay := fn.BackoffDelay(o.opts, attempt, nil)
		if class == fn.ClassRateLimited && delay < o.opts.RateLimitFloor {
			delay = o.opts.RateLimitFloor
		}
		scheduled := now.Add(delay)
		rec.RetryScheduledAt = scheduled
	}

	const query = `INSERT INTO system.error_records
(id, correlation_id, document_id, stage, error_type, message, attempt, retry_scheduled_at, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`
	_, execErr := o.pool.Exec(ctx, query, rec.ID, rec.CorrelationID, rec.DocumentID, rec.Stage,
		rec.ErrorType, rec.Message, rec.Attempt, nullableTime(rec.RetryScheduledAt), rec.Status, now)
	if execErr != nil {
		return rec, fmt.Errorf("record failure: %w", execErr)
	}
	return rec, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func classToKind(c fn.Classification) domain.ErrorKind {
	switch c {
	case fn.ClassRateLimited:
		return domain.ErrKindRateLimited
	case fn.ClassPermanent:
		return domain.ErrKindPermanent
	default:
		return domain.ErrKindTransient
	}
}

// ShouldRetry reports whether class permits another attempt within
// MaxAttempts.
func (o *Orchestrator) ShouldRetry(class fn.Classification, attempt int) bool {
	if class == fn.ClassPermanent {
		return false
	}
	return attempt < o.opts.MaxAttempts
}

// AdvisoryLockGuard ensures only one worker retries a given
// (document_id, stage) pair at a time, even across process restarts —
// retries are exclusive per spec §4.C.
type AdvisoryLockGuard struct {
	pool *pgxpool.Pool
}

// NewAdvisoryLockGuard constructs a retry-exclusivity guard.
func NewAdvisoryLockGuard(pool *pgxpool.Pool) *AdvisoryLockGuard {
	return &AdvisoryLockGuard{pool: pool}
}

// TryLock attempts to acquire the session-level advisory lock for
// (documentID, stage) without blocking. ok is false if another session
// already holds it. The returned conn must be released via Unlock using
// the same conn — a session advisory lock is tied to the connection that
// took it, not the key.
func (g *AdvisoryLockGuard) TryLock(ctx context.Context, documentID string, stage domain.StageName) (conn *pgxpool.Conn, ok bool, err error) {
	conn, err = g.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}
	key := Key(documentID, stage)
	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}
	return conn, true, nil
}

// Unlock releases a lock acquired via TryLock and returns the connection
// to the pool.
func (g *AdvisoryLockGuard) Unlock(ctx context.Context, conn *pgxpool.Conn, documentID string, stage domain.StageName) error {
	defer conn.Release()
	key := Key(documentID, stage)
	var released bool
	if err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, key).Scan(&released); err != nil {
		return fmt.Errorf("release advisory lock: %w", err)
	}
	if !released {
		return domain.ErrAdvisoryLockHeld
	}
	return nil
}

// Key reduces (documentID, stage) to a stable lock key, matching
// store.AdvisoryLockKey's algorithm so the pipeline executor and the
// retry orchestrator never contend on a relabeled key.
func Key(documentID string, stage domain.StageName) int64 {
	sum := fnv1a(documentID + "\x00" + string(stage))
	return int64(sum)
}

func fnv1a(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
