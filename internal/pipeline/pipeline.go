// Package pipeline implements the Pipeline Executor: it walks a
// document through the fifteen stages in internal/stages, respecting
// the dependency graph in domain.StageDependencies, under a
// document-scoped advisory lock so two workers never drive the same
// document at once. The teacher's engine/ingest.NewPipeline composes a
// fixed Validate→Parse→Chunk→Embed→Store chain with a logging tap
// between each link; this executor generalizes that shape to a dynamic
// dependency graph with Full/Smart/Selective run modes instead of one
// hardcoded chain.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kunzeritter/manual2vector/internal/domain"
	"github.com/kunzeritter/manual2vector/internal/processor"
	"github.com/kunzeritter/manual2vector/internal/retry"
)

// pipelineLockStage is a sentinel stage name used only as the second
// half of the (document_id, stage) advisory lock key so the
// document-wide lock shares retry.Key/store.AdvisoryLockKey's hashing
// instead of introducing a second lock scheme. It is never a real
// StageName written to stage_status — domain.AllStages never contains it.
const pipelineLockStage domain.StageName = "__pipeline_run__"

// Mode selects how the executor picks which stages to run.
type Mode int

const (
	// ModeFull runs all fifteen stages in dependency order, regardless
	// of any prior run's status — each stage's own Precheck still
	// short-circuits work that already exists.
	ModeFull Mode = iota
	// ModeSmart runs only stages currently pending or failed whose
	// dependencies are completed or skipped, the resume path.
	ModeSmart
	// ModeSelective runs a caller-supplied stage list, gated by
	// dependency completeness unless Force is set.
	ModeSelective
)

// RunOptions configures one Executor.Run call.
type RunOptions struct {
	Mode Mode
	// Stages is the caller-supplied sequence for ModeSelective. Ignored
	// for ModeFull and ModeSmart.
	Stages []domain.StageName
	// Force skips the dependency gate check in ModeSelective.
	Force bool
}

// StatusReader is the read seam the executor needs from the stage
// status store to decide eligibility and build Smart-mode targets.
type StatusReader interface {
	Get(ctx context.Context, documentID string, stage domain.StageName) (domain.StageStatus, error)
}

// DocumentReader reloads a document's mutable core fields between waves.
// classification writes manufacturer_id/type/priority to the database
// without any way to hand the mutation back through the call stack, so
// the executor re-reads the row rather than threading a stale snapshot
// into the stages that depend on it.
type DocumentReader interface {
	Get(ctx context.Context, id string) (domain.Document, error)
}

// Executor runs a document through the stage graph (spec §4.F).
type Executor struct {
	stages  map[domain.StageName]processor.Processor
	base    *processor.Base
	status  StatusReader
	docs    DocumentReader
	retries *retry.Orchestrator
	lock    *retry.AdvisoryLockGuard
	sem     chan struct{}
	sink    Sink
	log     *slog.Logger
}

// Config gathers Executor's constructor arguments.
type Config struct {
	Stages                 []processor.Processor
	Base                   *processor.Base
	Status                 StatusReader
	Documents              DocumentReader
	Retries                *retry.Orchestrator
	Pool                   *pgxpool.Pool
	MaxConcurrentDocuments int
	Sink                   Sink
	Log                    *slog.Logger
}

// NewExecutor builds an Executor from the fifteen stage processors plus
// the shared collaborators every stage runs under.
func NewExecutor(cfg Config) *Executor {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = SlogSink(log)
	}
	maxConcurrent := cfg.MaxConcurrentDocuments
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	byStage := make(map[domain.StageName]processor.Processor, len(cfg.Stages))
	for _, p := range cfg.Stages {
		byStage[p.Stage()] = p
	}
	return &Executor{
		stages:  byStage,
		base:    cfg.Base,
		status:  cfg.Status,
		docs:    cfg.Documents,
		retries: cfg.Retries,
		lock:    retry.NewAdvisoryLockGuard(cfg.Pool),
		sem:     make(chan struct{}, maxConcurrent),
		sink:    sink,
		log:     log,
	}
}

// Run executes doc through the stages selected by opts, returning one
// Outcome per stage actually attempted. It blocks until a concurrency
// slot is free or ctx is cancelled, then holds the document-scoped
// advisory lock for the full run.
func (e *Executor) Run(ctx context.Context, doc domain.Document, opts RunOptions) ([]processor.Outcome, error) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.sem }()

	conn, ok, err := e.lock.TryLock(ctx, doc.ID, pipelineLockStage)
	if err != nil {
		return nil, fmt.Errorf("pipeline: acquire document lock: %w", err)
	}
	if !ok {
		return nil, domain.ErrDocumentLocked
	}
	defer func() {
		if unlockErr := e.lock.Unlock(context.WithoutCancel(ctx), conn, doc.ID, pipelineLockStage); unlockErr != nil {
			e.log.Warn("pipeline: release document lock", "document_id", doc.ID, "error", unlockErr)
		}
	}()

	targets, err := e.selectTargets(ctx, doc.ID, opts)
	if err != nil {
		return nil, err
	}

	return e.runWaves(ctx, doc, targets), nil
}

// selectTargets computes which stages Run should attempt, per mode.
func (e *Executor) selectTargets(ctx context.Context, documentID string, opts RunOptions) ([]domain.StageName, error) {
	switch opts.Mode {
	case ModeFull:
		return append([]domain.StageName{}, domain.AllStages...), nil

	case ModeSmart:
		var targets []domain.StageName
		for _, stage := range domain.AllStages {
			st, err := e.status.Get(ctx, documentID, stage)
			if err != nil {
				return nil, fmt.Errorf("pipeline: smart mode status for %s: %w", stage, err)
			}
			if st.State != domain.StagePending && st.State != domain.StageFailed {
				continue
			}
			satisfied, err := e.depsSatisfied(ctx, documentID, stage)
			if err != nil {
				return nil, err
			}
			if satisfied {
				targets = append(targets, stage)
			}
		}
		return targets, nil

	case ModeSelective:
		if len(opts.Stages) == 0 {
			return nil, fmt.Errorf("pipeline: selective mode requires at least one stage")
		}
		if opts.Force {
			return opts.Stages, nil
		}
		for _, stage := range opts.Stages {
			satisfied, err := e.depsSatisfied(ctx, documentID, stage)
			if err != nil {
				return nil, err
			}
			if !satisfied {
				return nil, fmt.Errorf("%w: stage %s", domain.ErrDependencyNotMet, stage)
			}
		}
		return opts.Stages, nil

	default:
		return nil, fmt.Errorf("pipeline: unknown mode %d", opts.Mode)
	}
}

func (e *Executor) depsSatisfied(ctx context.Context, documentID string, stage domain.StageName) (bool, error) {
	for _, dep := range domain.StageDependencies[stage] {
		st, err := e.status.Get(ctx, documentID, dep)
		if err != nil {
			return false, fmt.Errorf("pipeline: dependency status for %s: %w", dep, err)
		}
		if st.State != domain.StageCompleted && st.State != domain.StageSkipped {
			return false, nil
		}
	}
	return true, nil
}

// runWaves runs targets to completion, a wave at a time: every stage
// whose dependencies are already satisfied runs concurrently (spec §4.F
// — table_extraction alongside svg_processing is the canonical example),
// then the next wave is computed from the updated stage_status rows.
// Stages on the same branch never appear in the same wave because a
// stage only becomes ready once its dependency's status flips to
// completed/skipped, which only happens after its own wave returns.
func (e *Executor) runWaves(ctx context.Context, doc domain.Document, targets []domain.StageName) []processor.Outcome {
	remaining := make(map[domain.StageName]bool, len(targets))
	for _, s := range targets {
		remaining[s] = true
	}

	var outcomes []processor.Outcome
	for len(remaining) > 0 {
		var wave []domain.StageName
		for s := range remaining {
			satisfied, err := e.depsSatisfied(ctx, doc.ID, s)
			if err != nil {
				e.log.Error("pipeline: dependency check failed mid-run", "document_id", doc.ID, "stage", s, "error", err)
				continue
			}
			if satisfied {
				wave = append(wave, s)
			}
		}
		if len(wave) == 0 {
			// Nothing in the remaining set is unblocked: either a
			// dependency outside targets never reached a terminal
			// state, or the dependency check above errored for every
			// candidate. Either way further looping can't make progress.
			break
		}
		sort.Slice(wave, func(i, j int) bool { return stageRank[wave[i]] < stageRank[wave[j]] })

		results := e.runConcurrently(ctx, doc, wave)
		outcomes = append(outcomes, results...)
		for _, s := range wave {
			delete(remaining, s)
		}

		if len(remaining) > 0 {
			doc = e.reload(ctx, doc)
		}
	}
	return outcomes
}

// reload re-reads doc so the next wave sees any core-field mutation a
// just-finished stage made (classification writes manufacturer_id/type
// directly to the database, not back through this in-memory value).
// Falls back to the stale snapshot on a read error or a nil reader —
// the affected downstream stages already tolerate an empty
// ManufacturerID by no-oping.
func (e *Executor) reload(ctx context.Context, doc domain.Document) domain.Document {
	if e.docs == nil {
		return doc
	}
	fresh, err := e.docs.Get(ctx, doc.ID)
	if err != nil {
		e.log.Warn("pipeline: reload document between waves failed", "document_id", doc.ID, "error", err)
		return doc
	}
	return fresh
}

// runConcurrently runs every stage in wave through Base.Run at once and
// waits for all of them, emitting observability events around each.
func (e *Executor) runConcurrently(ctx context.Context, doc domain.Document, wave []domain.StageName) []processor.Outcome {
	type indexed struct {
		i int
		o processor.Outcome
	}
	results := make(chan indexed, len(wave))
	for i, stageName := range wave {
		p, ok := e.stages[stageName]
		if !ok {
			results <- indexed{i, processor.Outcome{DocumentID: doc.ID, Stage: stageName, State: domain.StageFailed,
				Err: fmt.Errorf("pipeline: no processor registered for stage %s", stageName)}}
			continue
		}
		go func(i int, p processor.Processor) {
			e.sink(Event{Kind: EventStageStarted, DocumentID: doc.ID, Stage: p.Stage()})
			outcome := e.base.Run(ctx, p, doc)
			e.emitOutcome(doc.ID, outcome)
			results <- indexed{i, outcome}
		}(i, p)
	}

	outcomes := make([]processor.Outcome, len(wave))
	for range wave {
		r := <-results
		outcomes[r.i] = r.o
	}
	return outcomes
}

func (e *Executor) emitOutcome(documentID string, outcome processor.Outcome) {
	switch outcome.State {
	case domain.StageFailed:
		willRetry := false
		if e.retries != nil {
			class := retry.Classify(outcome.Err)
			willRetry = e.retries.ShouldRetry(class, outcome.Attempt)
		}
		e.sink(Event{
			Kind: EventStageFailed, DocumentID: documentID, Stage: outcome.Stage,
			CorrelationID: outcome.CorrelationID, WillRetry: willRetry, Err: outcome.Err,
		})
	default:
		e.sink(Event{Kind: EventStageCompleted, DocumentID: documentID, Stage: outcome.Stage, Duration: outcome.Duration})
	}
}

// stageRank gives every stage a stable position matching domain.AllStages,
// used only to make wave ordering deterministic for logging/tests.
var stageRank = func() map[domain.StageName]int {
	m := make(map[domain.StageName]int, len(domain.AllStages))
	for i, s := range domain.AllStages {
		m[s] = i
	}
	return m
}()
