package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

type fakeStatus struct {
	states map[domain.StageName]domain.StageState
}

func (f *fakeStatus) Get(_ context.Context, _ string, stage domain.StageName) (domain.StageStatus, error) {
	state, ok := f.states[stage]
	if !ok {
		state = domain.StagePending
	}
	return domain.StageStatus{Stage: stage, State: state}, nil
}

func TestMissingDependenciesReturnsNilWhenSatisfied(t *testing.T) {
	d := &Dispatcher{status: &fakeStatus{states: map[domain.StageName]domain.StageState{
		domain.StageUpload: domain.StageCompleted,
	}}}

	missing, err := d.MissingDependencies(context.Background(), "doc-1", domain.StageTextExtraction)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("got missing %v, want none", missing)
	}
}

func TestMissingDependenciesReportsEveryUnmetStage(t *testing.T) {
	d := &Dispatcher{status: &fakeStatus{states: map[domain.StageName]domain.StageState{
		domain.StageUpload: domain.StagePending,
	}}}

	missing, err := d.MissingDependencies(context.Background(), "doc-1", domain.StageTextExtraction)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(missing) != 1 || missing[0] != domain.StageUpload {
		t.Fatalf("got missing %v, want [upload]", missing)
	}
}

func TestMissingDependenciesTreatsSkippedAsSatisfied(t *testing.T) {
	d := &Dispatcher{status: &fakeStatus{states: map[domain.StageName]domain.StageState{
		domain.StageTextExtraction: domain.StageSkipped,
	}}}

	missing, err := d.MissingDependencies(context.Background(), "doc-1", domain.StageTableExtraction)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("got missing %v, want none", missing)
	}
}

func TestPreconditionErrorUnwrapsToDependencyNotMet(t *testing.T) {
	err := &PreconditionError{Stage: domain.StageStorage, Missing: []domain.StageName{domain.StageSeriesDetection}}
	if !errors.Is(err, domain.ErrDependencyNotMet) {
		t.Fatal("expected PreconditionError to unwrap to ErrDependencyNotMet")
	}
	if err.Error() == "" {
		t.Fatal("expected a non-empty error message")
	}
}
