// Package processor defines the contract every stage processor
// implements and the base wrapper that gives all fifteen of them the
// same lease handling, idempotency precheck, and panic safety, so each
// stage's own code only has to describe its actual work.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kunzeritter/manual2vector/internal/domain"
	"github.com/kunzeritter/manual2vector/internal/fn"
)

// Processor is implemented by each of the fifteen stage processors. Only
// the stage's own work belongs here — leasing, retries, and panic
// recovery are handled once by Base.
type Processor interface {
	// Stage identifies which pipeline stage this processor runs.
	Stage() domain.StageName

	// Precheck reports whether this stage's output already exists for
	// doc (e.g. a document with no diagrams can skip svg_processing).
	// A true result short-circuits Process and marks the stage skipped.
	Precheck(ctx context.Context, doc domain.Document) (skip bool, err error)

	// Process performs the stage's work. Returning an error fails the
	// stage and hands the error to the retry orchestrator. The returned
	// map is stage-reported metadata attached to the completed stage row
	// (e.g. visual_embedding's capped flag); nil is the common case.
	Process(ctx context.Context, doc domain.Document) (map[string]any, error)
}

// Outcome is what the pipeline executor and dispatcher observe after
// running a stage through Base.Run.
type Outcome struct {
	DocumentID string
	Stage      domain.StageName
	State      domain.StageState
	Attempt    int
	Duration   time.Duration
	Err        error
	// CorrelationID is set when Process itself failed, to the correlation
	// id the retry orchestrator generated for the failure (persisted on an
	// ErrorRecord except for cancellations). Failures outside Process
	// (precheck, lease, status bookkeeping) leave it empty.
	CorrelationID string
	// Metadata is whatever the processor returned from Process on a
	// completed run (e.g. {"capped": true}); nil otherwise.
	Metadata map[string]any
}

// StatusStore is the subset of *stagestatus.Store that Base needs. A
// narrow interface rather than the concrete type so Base can be unit
// tested against a fake store.
type StatusStore interface {
	Initialize(ctx context.Context, documentID string, stage domain.StageName) error
	Begin(ctx context.Context, documentID string, stage domain.StageName, leaseDuration time.Duration) (domain.StageStatus, error)
	Complete(ctx context.Context, documentID string, stage domain.StageName, leaseToken string, metadata map[string]any) error
	Fail(ctx context.Context, documentID string, stage domain.StageName, leaseToken, errorRef string) error
	Skip(ctx context.Context, documentID string, stage domain.StageName) error
	ExtendLease(ctx context.Context, documentID string, stage domain.StageName, leaseToken string, extension time.Duration) error
}

// FailureRecorder is the subset of *retry.Orchestrator that Base needs.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, documentID string, stage domain.StageName, attempt int, err error) (domain.ErrorRecord, error)
}

// Base wraps a Processor with the shared stage-execution contract (spec
// §4.D): begin a lease, run an idempotency precheck, extend the lease
// while the stage runs, convert panics into failures, and record the
// outcome in the status store and (on failure) the retry orchestrator.
type Base struct {
	status        StatusStore
	retries       FailureRecorder
	leaseDuration time.Duration
	log           *slog.Logger
}

// NewBase constructs a Base shared by every stage processor.
func NewBase(status StatusStore, retries FailureRecorder, leaseDuration time.Duration, log *slog.Logger) *Base {
	if log == nil {
		log = slog.Default()
	}
	return &Base{status: status, retries: retries, leaseDuration: leaseDuration, log: log}
}

// Run executes p against doc under the shared contract. It never
// returns an error itself — failures are reported through Outcome.Err
// so callers (the executor, the dispatcher, a manual retry) can inspect
// the state without a type switch on error values.
func (b *Base) Run(ctx context.Context, p Processor, doc domain.Document) Outcome {
	stage := p.Stage()
	start := time.Now()

	if err := b.status.Initialize(ctx, doc.ID, stage); err != nil {
		return b.failOutcome(doc.ID, stage, 0, start, fmt.Errorf("initialize stage status: %w", err))
	}

	skip, err := p.Precheck(ctx, doc)
	if err != nil {
		return b.failOutcome(doc.ID, stage, 0, start, fmt.Errorf("precheck: %w", err))
	}
	if skip {
		if err := b.status.Skip(ctx, doc.ID, stage); err != nil {
			return b.failOutcome(doc.ID, stage, 0, start, fmt.Errorf("mark skipped: %w", err))
		}
		return Outcome{DocumentID: doc.ID, Stage: stage, State: domain.StageSkipped, Duration: time.Since(start)}
	}

	leased, err := b.status.Begin(ctx, doc.ID, stage, b.leaseDuration)
	if err != nil {
		return b.failOutcome(doc.ID, stage, leased.Attempt, start, fmt.Errorf("begin lease: %w", err))
	}

	extendCtx, stopExtending := context.WithCancel(ctx)
	defer stopExtending()
	go b.extendLeaseUntilDone(extendCtx, doc.ID, stage, leased.LeaseToken)

	metadata, processErr := b.runGuarded(ctx, p, doc)
	stopExtending()

	if processErr != nil {
		rec, recErr := b.retries.RecordFailure(ctx, doc.ID, stage, leased.Attempt, processErr)
		if recErr != nil {
			b.log.Error("processor: record failure", "document_id", doc.ID, "stage", stage, "error", recErr)
		}
		if failErr := b.status.Fail(ctx, doc.ID, stage, leased.LeaseToken, rec.CorrelationID); failErr != nil {
			b.log.Error("processor: mark failed", "document_id", doc.ID, "stage", stage, "error", failErr)
		}
		return Outcome{
			DocumentID: doc.ID, Stage: stage, State: domain.StageFailed,
			Attempt: leased.Attempt, Duration: time.Since(start), Err: processErr,
			CorrelationID: rec.CorrelationID,
		}
	}

	if err := b.status.Complete(ctx, doc.ID, stage, leased.LeaseToken, metadata); err != nil {
		return b.failOutcome(doc.ID, stage, leased.Attempt, start, fmt.Errorf("mark complete: %w", err))
	}
	return Outcome{
		DocumentID: doc.ID, Stage: stage, State: domain.StageCompleted,
		Attempt: leased.Attempt, Duration: time.Since(start), Metadata: metadata,
	}
}

// runGuarded converts a panic raised by p.Process into an error instead
// of crashing the worker (spec §4.D).
func (b *Base) runGuarded(ctx context.Context, p Processor, doc domain.Document) (map[string]any, error) {
	stage := fn.Guarded(func(ctx context.Context, d domain.Document) fn.Result[map[string]any] {
		metadata, err := p.Process(ctx, d)
		if err != nil {
			return fn.Err[map[string]any](err)
		}
		return fn.Ok(metadata)
	})
	return stage(ctx, doc).Unwrap()
}

// extendLeaseUntilDone renews the lease at half its duration so a
// long-running stage (visual_embedding over many images) doesn't lose
// its lease mid-run. It stops as soon as ctx is cancelled, which
// happens the instant Run's guarded call returns or the caller's own
// context expires — letting the lease run out on a cancelled job is the
// mechanism that allows another worker to reclaim it.
func (b *Base) extendLeaseUntilDone(ctx context.Context, documentID string, stage domain.StageName, token string) {
	interval := b.leaseDuration / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.status.ExtendLease(ctx, documentID, stage, token, b.leaseDuration); err != nil {
				b.log.Warn("processor: extend lease failed", "document_id", documentID, "stage", stage, "error", err)
				return
			}
		}
	}
}

func (b *Base) failOutcome(documentID string, stage domain.StageName, attempt int, start time.Time, err error) Outcome {
	b.log.Error("processor: stage error", "document_id", documentID, "stage", stage, "error", err)
	return Outcome{DocumentID: documentID, Stage: stage, State: domain.StageFailed, Attempt: attempt, Duration: time.Since(start), Err: err}
}
