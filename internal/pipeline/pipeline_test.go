package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kunzeritter/manual2vector/internal/domain"
	"github.com/kunzeritter/manual2vector/internal/processor"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memStatus struct {
	mu   sync.Mutex
	rows map[string]domain.StageStatus
}

func newMemStatus() *memStatus {
	return &memStatus{rows: map[string]domain.StageStatus{}}
}

func statusKey(documentID string, stage domain.StageName) string {
	return documentID + "|" + string(stage)
}

func (m *memStatus) set(documentID string, stage domain.StageName, state domain.StageState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[statusKey(documentID, stage)] = domain.StageStatus{DocumentID: documentID, Stage: stage, State: state}
}

func (m *memStatus) Get(_ context.Context, documentID string, stage domain.StageName) (domain.StageStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.rows[statusKey(documentID, stage)]; ok {
		return st, nil
	}
	return domain.StageStatus{DocumentID: documentID, Stage: stage, State: domain.StagePending}, nil
}

func (m *memStatus) Initialize(_ context.Context, documentID string, stage domain.StageName) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := statusKey(documentID, stage)
	if _, ok := m.rows[k]; !ok {
		m.rows[k] = domain.StageStatus{DocumentID: documentID, Stage: stage, State: domain.StagePending}
	}
	return nil
}

func (m *memStatus) Begin(_ context.Context, documentID string, stage domain.StageName, _ time.Duration) (domain.StageStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.rows[statusKey(documentID, stage)]
	st.DocumentID, st.Stage = documentID, stage
	st.Attempt++
	st.State = domain.StageInProgress
	st.LeaseToken = "tok"
	m.rows[statusKey(documentID, stage)] = st
	return st, nil
}

func (m *memStatus) Complete(_ context.Context, documentID string, stage domain.StageName, _ string, _ map[string]any) error {
	m.set(documentID, stage, domain.StageCompleted)
	return nil
}

func (m *memStatus) Fail(_ context.Context, documentID string, stage domain.StageName, _, _ string) error {
	m.set(documentID, stage, domain.StageFailed)
	return nil
}

func (m *memStatus) Skip(_ context.Context, documentID string, stage domain.StageName) error {
	m.set(documentID, stage, domain.StageSkipped)
	return nil
}

func (m *memStatus) ExtendLease(context.Context, string, domain.StageName, string, time.Duration) error {
	return nil
}

type fakeRetries struct{}

func (fakeRetries) RecordFailure(context.Context, string, domain.StageName, int, error) (domain.ErrorRecord, error) {
	return domain.ErrorRecord{CorrelationID: "err-test"}, nil
}

type stubProcessor struct {
	stage       domain.StageName
	skip        bool
	precheckErr error
	processErr  error
	onProcess   func() error
}

func (s *stubProcessor) Stage() domain.StageName { return s.stage }

func (s *stubProcessor) Precheck(context.Context, domain.Document) (bool, error) {
	return s.skip, s.precheckErr
}

func (s *stubProcessor) Process(context.Context, domain.Document) (map[string]any, error) {
	if s.onProcess != nil {
		return nil, s.onProcess()
	}
	return nil, s.processErr
}

func TestSelectTargetsFullReturnsEveryStage(t *testing.T) {
	e := &Executor{status: newMemStatus()}
	targets, err := e.selectTargets(context.Background(), "doc-1", RunOptions{Mode: ModeFull})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(targets) != len(domain.AllStages) {
		t.Fatalf("got %d targets, want %d", len(targets), len(domain.AllStages))
	}
}

func TestSelectTargetsSmartOnlyPicksEligibleStages(t *testing.T) {
	status := newMemStatus()
	status.set("doc-1", domain.StageUpload, domain.StageCompleted)
	// text_extraction is pending and its only dependency (upload) is
	// completed: eligible. table_extraction and svg_processing depend
	// on text_extraction, which is not yet completed: not eligible.
	e := &Executor{status: status}

	targets, err := e.selectTargets(context.Background(), "doc-1", RunOptions{Mode: ModeSmart})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(targets) != 1 || targets[0] != domain.StageTextExtraction {
		t.Fatalf("got %v, want only text_extraction", targets)
	}
}

func TestSelectTargetsSelectiveBlocksOnUnmetDependency(t *testing.T) {
	e := &Executor{status: newMemStatus()}

	_, err := e.selectTargets(context.Background(), "doc-1", RunOptions{
		Mode:   ModeSelective,
		Stages: []domain.StageName{domain.StageTableExtraction},
	})
	if !errors.Is(err, domain.ErrDependencyNotMet) {
		t.Fatalf("got %v, want ErrDependencyNotMet", err)
	}
}

func TestSelectTargetsSelectiveForceBypassesGate(t *testing.T) {
	e := &Executor{status: newMemStatus()}

	targets, err := e.selectTargets(context.Background(), "doc-1", RunOptions{
		Mode:   ModeSelective,
		Stages: []domain.StageName{domain.StageTableExtraction},
		Force:  true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(targets) != 1 || targets[0] != domain.StageTableExtraction {
		t.Fatalf("got %v, want [table_extraction]", targets)
	}
}

func TestRunWavesRunsParallelBranchesConcurrently(t *testing.T) {
	status := newMemStatus()
	status.set("doc-1", domain.StageTextExtraction, domain.StageCompleted)
	base := processor.NewBase(status, fakeRetries{}, time.Minute, quietLogger())

	var mu sync.Mutex
	started := 0
	bothStarted := make(chan struct{})
	release := make(chan struct{})

	mark := func() error {
		mu.Lock()
		started++
		n := started
		mu.Unlock()
		if n == 2 {
			close(bothStarted)
		}
		<-release
		return nil
	}

	e := &Executor{
		stages: map[domain.StageName]processor.Processor{
			domain.StageTableExtraction: &stubProcessor{stage: domain.StageTableExtraction, onProcess: mark},
			domain.StageSVGProcessing:   &stubProcessor{stage: domain.StageSVGProcessing, onProcess: mark},
		},
		base:   base,
		status: status,
		sink:   func(Event) {},
		log:    quietLogger(),
	}

	done := make(chan []processor.Outcome, 1)
	go func() {
		done <- e.runWaves(context.Background(), domain.Document{ID: "doc-1"},
			[]domain.StageName{domain.StageTableExtraction, domain.StageSVGProcessing})
	}()

	select {
	case <-bothStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("expected both branch stages to start before either finished")
	}
	close(release)

	select {
	case outcomes := <-done:
		if len(outcomes) != 2 {
			t.Fatalf("got %d outcomes, want 2", len(outcomes))
		}
		for _, o := range outcomes {
			if o.State != domain.StageCompleted {
				t.Fatalf("stage %s: got %v, want completed", o.Stage, o.State)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runWaves did not return after release")
	}
}

func TestRunWavesStopsWhenDependencyNeverCompletes(t *testing.T) {
	status := newMemStatus() // classification never completes
	base := processor.NewBase(status, fakeRetries{}, time.Minute, quietLogger())
	e := &Executor{
		stages: map[domain.StageName]processor.Processor{
			domain.StageMetadataExtraction: &stubProcessor{stage: domain.StageMetadataExtraction},
		},
		base:   base,
		status: status,
		sink:   func(Event) {},
		log:    quietLogger(),
	}

	outcomes := e.runWaves(context.Background(), domain.Document{ID: "doc-1"}, []domain.StageName{domain.StageMetadataExtraction})
	if len(outcomes) != 0 {
		t.Fatalf("got %d outcomes, want 0 since the dependency never completed", len(outcomes))
	}
}

func TestRunWavesEmitsStartedThenFailedEvents(t *testing.T) {
	status := newMemStatus()
	status.set("doc-1", domain.StageUpload, domain.StageCompleted)
	base := processor.NewBase(status, fakeRetries{}, time.Minute, quietLogger())

	var mu sync.Mutex
	var kinds []EventKind
	e := &Executor{
		stages: map[domain.StageName]processor.Processor{
			domain.StageTextExtraction: &stubProcessor{stage: domain.StageTextExtraction, processErr: errors.New("boom")},
		},
		base:   base,
		status: status,
		sink: func(ev Event) {
			mu.Lock()
			kinds = append(kinds, ev.Kind)
			mu.Unlock()
		},
		log: quietLogger(),
	}

	e.runWaves(context.Background(), domain.Document{ID: "doc-1"}, []domain.StageName{domain.StageTextExtraction})

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 2 || kinds[0] != EventStageStarted || kinds[1] != EventStageFailed {
		t.Fatalf("got %v, want [started, failed]", kinds)
	}
}
