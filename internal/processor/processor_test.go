package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

type fakeStatus struct {
	mu               sync.Mutex
	state            domain.StageState
	attempt          int
	completed        bool
	completeMetadata map[string]any
	failed           bool
	skipped          bool
	extends          int
	beginErr         error
}

func (f *fakeStatus) Initialize(context.Context, string, domain.StageName) error { return nil }

func (f *fakeStatus) Begin(_ context.Context, _ string, _ domain.StageName, _ time.Duration) (domain.StageStatus, error) {
	if f.beginErr != nil {
		return domain.StageStatus{}, f.beginErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempt++
	return domain.StageStatus{State: domain.StageInProgress, Attempt: f.attempt, LeaseToken: "tok"}, nil
}

func (f *fakeStatus) Complete(_ context.Context, _ string, _ domain.StageName, _ string, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = true
	f.completeMetadata = metadata
	return nil
}

func (f *fakeStatus) Fail(context.Context, string, domain.StageName, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = true
	return nil
}

func (f *fakeStatus) Skip(context.Context, string, domain.StageName) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skipped = true
	return nil
}

func (f *fakeStatus) ExtendLease(context.Context, string, domain.StageName, string, time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extends++
	return nil
}

type fakeRetries struct {
	recorded bool
}

func (f *fakeRetries) RecordFailure(_ context.Context, documentID string, stage domain.StageName, attempt int, err error) (domain.ErrorRecord, error) {
	f.recorded = true
	return domain.ErrorRecord{CorrelationID: "err-test"}, nil
}

type stubProcessor struct {
	stage        domain.StageName
	skip         bool
	precheckOK   bool
	processErr   error
	panics       bool
	processMeta  map[string]any
}

func (s stubProcessor) Stage() domain.StageName { return s.stage }

func (s stubProcessor) Precheck(context.Context, domain.Document) (bool, error) {
	if !s.precheckOK {
		return false, errors.New("precheck boom")
	}
	return s.skip, nil
}

func (s stubProcessor) Process(context.Context, domain.Document) (map[string]any, error) {
	if s.panics {
		panic("process boom")
	}
	return s.processMeta, s.processErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunCompletesOnSuccess(t *testing.T) {
	status := &fakeStatus{}
	retries := &fakeRetries{}
	base := NewBase(status, retries, time.Minute, quietLogger())

	out := base.Run(context.Background(), stubProcessor{stage: domain.StageUpload, precheckOK: true}, domain.Document{ID: "doc-1"})

	if out.State != domain.StageCompleted {
		t.Fatalf("got state %v, want completed", out.State)
	}
	if !status.completed {
		t.Fatal("expected status store to record completion")
	}
	if retries.recorded {
		t.Fatal("did not expect a failure to be recorded")
	}
}

func TestRunSkipsWhenPrecheckSaysSkip(t *testing.T) {
	status := &fakeStatus{}
	base := NewBase(status, &fakeRetries{}, time.Minute, quietLogger())

	out := base.Run(context.Background(), stubProcessor{stage: domain.StageSVGProcessing, precheckOK: true, skip: true}, domain.Document{ID: "doc-1"})

	if out.State != domain.StageSkipped {
		t.Fatalf("got state %v, want skipped", out.State)
	}
	if !status.skipped {
		t.Fatal("expected status store to record skip")
	}
	if status.completed {
		t.Fatal("did not expect completion after a skip")
	}
}

func TestRunFailsWhenPrecheckErrors(t *testing.T) {
	status := &fakeStatus{}
	base := NewBase(status, &fakeRetries{}, time.Minute, quietLogger())

	out := base.Run(context.Background(), stubProcessor{stage: domain.StageUpload, precheckOK: false}, domain.Document{ID: "doc-1"})

	if out.State != domain.StageFailed || out.Err == nil {
		t.Fatalf("got %+v, want failed with error", out)
	}
}

func TestRunRecordsFailureAndMarksFailedOnProcessError(t *testing.T) {
	status := &fakeStatus{}
	retries := &fakeRetries{}
	base := NewBase(status, retries, time.Minute, quietLogger())

	out := base.Run(context.Background(), stubProcessor{stage: domain.StageTextExtraction, precheckOK: true, processErr: errors.New("boom")}, domain.Document{ID: "doc-1"})

	if out.State != domain.StageFailed {
		t.Fatalf("got state %v, want failed", out.State)
	}
	if !status.failed {
		t.Fatal("expected status store to record failure")
	}
	if !retries.recorded {
		t.Fatal("expected retry orchestrator to record the failure")
	}
}

func TestRunConvertsPanicToFailure(t *testing.T) {
	status := &fakeStatus{}
	retries := &fakeRetries{}
	base := NewBase(status, retries, time.Minute, quietLogger())

	out := base.Run(context.Background(), stubProcessor{stage: domain.StageImageProcessing, precheckOK: true, panics: true}, domain.Document{ID: "doc-1"})

	if out.State != domain.StageFailed || out.Err == nil {
		t.Fatalf("got %+v, want failed with error after panic", out)
	}
	if !status.failed {
		t.Fatal("expected status store to record failure after a panic")
	}
}

func TestRunCarriesProcessMetadataIntoCompleteAndOutcome(t *testing.T) {
	status := &fakeStatus{}
	base := NewBase(status, &fakeRetries{}, time.Minute, quietLogger())

	out := base.Run(context.Background(), stubProcessor{
		stage: domain.StageVisualEmbedding, precheckOK: true,
		processMeta: map[string]any{"capped": true},
	}, domain.Document{ID: "doc-1"})

	if out.State != domain.StageCompleted {
		t.Fatalf("got state %v, want completed", out.State)
	}
	if capped, _ := out.Metadata["capped"].(bool); !capped {
		t.Fatalf("got outcome metadata %+v, want capped=true", out.Metadata)
	}
	if capped, _ := status.completeMetadata["capped"].(bool); !capped {
		t.Fatalf("got status store metadata %+v, want capped=true", status.completeMetadata)
	}
}

func TestRunFailsWhenBeginErrors(t *testing.T) {
	status := &fakeStatus{beginErr: errors.New("lease already held")}
	base := NewBase(status, &fakeRetries{}, time.Minute, quietLogger())

	out := base.Run(context.Background(), stubProcessor{stage: domain.StageUpload, precheckOK: true}, domain.Document{ID: "doc-1"})

	if out.State != domain.StageFailed || out.Err == nil {
		t.Fatalf("got %+v, want failed when lease cannot be acquired", out)
	}
}
