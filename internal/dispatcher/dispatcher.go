// Package dispatcher implements the Stage-Based Dispatcher (spec §4.I):
// the external entry point that runs a single stage, or an ordered
// sequence of stages, for an already-ingested document on demand,
// instead of letting the Pipeline Executor pick the next stage itself.
package dispatcher

import (
	"context"
	"fmt"

	"github.com/kunzeritter/manual2vector/internal/domain"
	"github.com/kunzeritter/manual2vector/internal/pipeline"
	"github.com/kunzeritter/manual2vector/internal/processor"
	"github.com/kunzeritter/manual2vector/internal/store"
)

// PreconditionError reports that a requested stage's dependencies are
// not all completed or skipped yet, in the same wrapped-sentinel-plus-
// context shape as domain.ValidationError.
type PreconditionError struct {
	Stage   domain.StageName
	Missing []domain.StageName
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: stage %s missing dependencies %v", domain.ErrDependencyNotMet, e.Stage, e.Missing)
}

func (e *PreconditionError) Unwrap() error { return domain.ErrDependencyNotMet }

// Dispatcher invokes individual stages for an existing document,
// re-checking the same dependency gate the Pipeline Executor's
// ModeSelective enforces but reporting every unmet dependency at once
// instead of stopping at the first.
type Dispatcher struct {
	executor  *pipeline.Executor
	status    pipeline.StatusReader
	documents *store.Repo[domain.Document, string]
}

// New builds a Dispatcher.
func New(executor *pipeline.Executor, status pipeline.StatusReader, documents *store.Repo[domain.Document, string]) *Dispatcher {
	return &Dispatcher{executor: executor, status: status, documents: documents}
}

// MissingDependencies returns every dependency of stage not yet
// completed or skipped for documentID, nil if stage is eligible to run.
func (d *Dispatcher) MissingDependencies(ctx context.Context, documentID string, stage domain.StageName) ([]domain.StageName, error) {
	var missing []domain.StageName
	for _, dep := range domain.StageDependencies[stage] {
		st, err := d.status.Get(ctx, documentID, dep)
		if err != nil {
			return nil, fmt.Errorf("dispatcher: dependency status for %s: %w", dep, err)
		}
		if st.State != domain.StageCompleted && st.State != domain.StageSkipped {
			missing = append(missing, dep)
		}
	}
	return missing, nil
}

// DispatchStage runs one stage for documentID. Force bypasses the
// dependency gate, mirroring pipeline.RunOptions.Force.
func (d *Dispatcher) DispatchStage(ctx context.Context, documentID string, stage domain.StageName, force bool) (processor.Outcome, error) {
	doc, err := d.documents.Get(ctx, documentID)
	if err != nil {
		return processor.Outcome{}, fmt.Errorf("dispatcher: load document: %w", err)
	}

	if !force {
		missing, err := d.MissingDependencies(ctx, documentID, stage)
		if err != nil {
			return processor.Outcome{}, err
		}
		if len(missing) > 0 {
			return processor.Outcome{}, &PreconditionError{Stage: stage, Missing: missing}
		}
	}

	outcomes, err := d.executor.Run(ctx, doc, pipeline.RunOptions{
		Mode: pipeline.ModeSelective, Stages: []domain.StageName{stage}, Force: true,
	})
	if err != nil {
		return processor.Outcome{}, err
	}
	if len(outcomes) == 0 {
		return processor.Outcome{}, fmt.Errorf("dispatcher: stage %s produced no outcome", stage)
	}
	return outcomes[0], nil
}

// SequenceOptions configures DispatchSequence.
type SequenceOptions struct {
	// StopOnError halts the sequence at the first stage that fails to
	// dispatch or whose outcome is StageFailed.
	StopOnError bool
	// Force bypasses the dependency gate for every stage in the sequence.
	Force bool
}

// DispatchSequence runs stages for documentID in order, one at a time.
// It always returns every outcome it managed to produce; the returned
// error, when non-nil, is the first one encountered — callers that did
// not set StopOnError get the full outcome list regardless.
func (d *Dispatcher) DispatchSequence(ctx context.Context, documentID string, stages []domain.StageName, opts SequenceOptions) ([]processor.Outcome, error) {
	outcomes := make([]processor.Outcome, 0, len(stages))
	var firstErr error

	for _, stage := range stages {
		outcome, err := d.DispatchStage(ctx, documentID, stage, opts.Force)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if opts.StopOnError {
				return outcomes, firstErr
			}
			continue
		}
		outcomes = append(outcomes, outcome)
		if outcome.State == domain.StageFailed {
			if firstErr == nil {
				firstErr = outcome.Err
			}
			if opts.StopOnError {
				return outcomes, firstErr
			}
		}
	}
	return outcomes, firstErr
}
