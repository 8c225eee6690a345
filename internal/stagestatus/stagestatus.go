// Package stagestatus is the Stage Status Store (spec §4.B): a
// lease-based state machine tracking one row per (document_id, stage).
// It is the single source of truth the pipeline executor and the retry
// orchestrator consult to decide whether a stage needs to run.
package stagestatus

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

// Store persists StageStatus rows in system.stage_status.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func newLeaseToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Initialize creates a pending row for (documentID, stage) if none exists.
// Safe to call repeatedly.
func (s *Store) Initialize(ctx context.Context, documentID string, stage domain.StageName) error {
	const query = `INSERT INTO system.stage_status (document_id, stage, state, attempt, last_transition)
VALUES ($1, $2, $3, 0, $4)
ON CONFLICT (document_id, stage) DO NOTHING`
	_, err := s.pool.Exec(ctx, query, documentID, stage, domain.StagePending, time.Now().UTC())
	return err
}

// Get loads the current status, returning a synthesized pending row if
// none has been initialized yet.
func (s *Store) Get(ctx context.Context, documentID string, stage domain.StageName) (domain.StageStatus, error) {
	const query = `SELECT document_id, stage, state, attempt, COALESCE(lease_token, ''), leased_until,
first_attempt_at, last_transition, COALESCE(last_error_ref, ''), metadata
FROM system.stage_status WHERE document_id = $1 AND stage = $2`
	var st domain.StageStatus
	var leasedUntil, firstAttempt *time.Time
	var rawMeta []byte
	err := s.pool.QueryRow(ctx, query, documentID, stage).Scan(
		&st.DocumentID, &st.Stage, &st.State, &st.Attempt, &st.LeaseToken, &leasedUntil,
		&firstAttempt, &st.LastTransition, &st.LastErrorRef, &rawMeta)
	if err != nil {
		return domain.StageStatus{
			DocumentID: documentID,
			Stage:      stage,
			State:      domain.StagePending,
		}, nil
	}
	if leasedUntil != nil {
		st.LeasedUntil = *leasedUntil
	}
	if firstAttempt != nil {
		st.FirstAttemptAt = *firstAttempt
	}
	if len(rawMeta) > 0 {
		_ = json.Unmarshal(rawMeta, &st.Metadata)
	}
	return st, nil
}

// Begin transitions a stage to in_progress and issues a new lease,
// reclaiming it first if the existing lease has expired (lazy garbage
// collection — spec §4.B invariant 2). Returns domain.ErrAlreadyInProgress
// if another, still-valid lease holds the stage.
//
// The INSERT..ON CONFLICT..DO UPDATE is the only statement that can
// grant a lease, and its WHERE clause re-checks the in_progress+unexpired
// condition against the row as it stands at update time, inside the same
// statement that writes the new lease. Two concurrent callers racing on
// the same row therefore cannot both pass: Postgres serializes the two
// upserts, and whichever runs second sees the first's lease_token/state
// already committed and skips the update, leaving RowsAffected at 0.
func (s *Store) Begin(ctx context.Context, documentID string, stage domain.StageName, leaseDuration time.Duration) (domain.StageStatus, error) {
	now := time.Now().UTC()
	token := newLeaseToken()
	leasedUntil := now.Add(leaseDuration)

	const upsert = `INSERT INTO system.stage_status
(document_id, stage, state, attempt, lease_token, leased_until, first_attempt_at, last_transition, last_error_ref)
VALUES ($1, $2, $3, 1, $4, $5, $6, $6, '')
ON CONFLICT (document_id, stage) DO UPDATE SET
state = $3, attempt = system.stage_status.attempt + 1, lease_token = $4, leased_until = $5,
first_attempt_at = COALESCE(system.stage_status.first_attempt_at, $6), last_transition = $6
WHERE system.stage_status.state <> $3 OR system.stage_status.leased_until < $6
RETURNING attempt, first_attempt_at`

	var attempt int
	var firstAttempt time.Time
	err := s.pool.QueryRow(ctx, upsert, documentID, stage, domain.StageInProgress, token, leasedUntil, now).
		Scan(&attempt, &firstAttempt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.StageStatus{}, domain.ErrAlreadyInProgress
		}
		return domain.StageStatus{}, fmt.Errorf("begin stage: %w", err)
	}

	return domain.StageStatus{
		DocumentID:     documentID,
		Stage:          stage,
		State:          domain.StageInProgress,
		Attempt:        attempt,
		LeaseToken:     token,
		LeasedUntil:    leasedUntil,
		FirstAttemptAt: firstAttempt,
		LastTransition: now,
	}, nil
}

// Complete marks the stage completed, but only if leaseToken still
// matches the held lease (spec §4.B invariant 1: no transition out of
// in_progress without a valid, matching, unexpired lease). metadata is
// stage-reported detail about the completed run (e.g. visual_embedding's
// capped flag) and is stored alongside the row; nil persists as '{}'.
func (s *Store) Complete(ctx context.Context, documentID string, stage domain.StageName, leaseToken string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal stage metadata: %w", err)
	}
	return s.transitionWithLease(ctx, documentID, stage, leaseToken, domain.StageCompleted, "", raw)
}

// Fail marks the stage failed, recording a correlation id for the
// associated error record.
func (s *Store) Fail(ctx context.Context, documentID string, stage domain.StageName, leaseToken, errorRef string) error {
	return s.transitionWithLease(ctx, documentID, stage, leaseToken, domain.StageFailed, errorRef, nil)
}

// Skip marks the stage skipped (e.g. a document with no images skips
// visual_embedding) without requiring a lease — skipping never competes
// with an in-progress worker.
func (s *Store) Skip(ctx context.Context, documentID string, stage domain.StageName) error {
	const query = `INSERT INTO system.stage_status (document_id, stage, state, attempt, last_transition)
VALUES ($1, $2, $3, 0, $4)
ON CONFLICT (document_id, stage) DO UPDATE SET state = $3, last_transition = $4`
	_, err := s.pool.Exec(ctx, query, documentID, stage, domain.StageSkipped, time.Now().UTC())
	return err
}

// transitionWithLease moves the stage out of in_progress. metadata is
// nil for every transition except Complete, in which case COALESCE
// leaves the existing metadata column untouched (Fail/Skip never carry
// stage-reported detail).
func (s *Store) transitionWithLease(ctx context.Context, documentID string, stage domain.StageName, leaseToken string, to domain.StageState, errorRef string, metadata []byte) error {
	const query = `UPDATE system.stage_status
SET state = $1, last_transition = $2, last_error_ref = $3, metadata = COALESCE($8, metadata)
WHERE document_id = $4 AND stage = $5 AND lease_token = $6 AND state = $7`
	tag, err := s.pool.Exec(ctx, query, to, time.Now().UTC(), errorRef, documentID, stage, leaseToken, domain.StageInProgress, metadata)
	if err != nil {
		return fmt.Errorf("transition stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLeaseMismatch
	}
	return nil
}

// ExtendLease pushes out leased_until for a still-valid lease, used by a
// long-running stage (e.g. visual_embedding over many images) to avoid
// losing its lease mid-run.
func (s *Store) ExtendLease(ctx context.Context, documentID string, stage domain.StageName, leaseToken string, extension time.Duration) error {
	const query = `UPDATE system.stage_status
SET leased_until = leased_until + $1
WHERE document_id = $2 AND stage = $3 AND lease_token = $4 AND state = $5`
	tag, err := s.pool.Exec(ctx, query, extension, documentID, stage, leaseToken, domain.StageInProgress)
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLeaseMismatch
	}
	return nil
}

// Reset returns a failed stage to pending so a retry can begin a fresh
// attempt. Attempt count is preserved (monotonic, spec §4.B invariant 3).
func (s *Store) Reset(ctx context.Context, documentID string, stage domain.StageName) error {
	const query = `UPDATE system.stage_status SET state = $1, last_transition = $2
WHERE document_id = $3 AND stage = $4 AND state = $5`
	_, err := s.pool.Exec(ctx, query, domain.StagePending, time.Now().UTC(), documentID, stage, domain.StageFailed)
	return err
}
