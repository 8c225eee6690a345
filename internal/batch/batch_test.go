package batch

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIsAsyncRespectsThreshold(t *testing.T) {
	e := NewEngine[domain.Document, string](nil, Mutator[domain.Document, string]{}, nil, "batch.documents", 50, quietLogger())

	if e.isAsync(50) {
		t.Fatal("expected a batch of exactly the threshold to stay synchronous")
	}
	if !e.isAsync(51) {
		t.Fatal("expected a batch over the threshold to go async")
	}
}

func TestNewEngineDefaultsThreshold(t *testing.T) {
	e := NewEngine[domain.Document, string](nil, Mutator[domain.Document, string]{}, nil, "batch.documents", 0, nil)
	if e.syncThreshold != 50 {
		t.Fatalf("got threshold %d, want default 50", e.syncThreshold)
	}
	if e.log == nil {
		t.Fatal("expected a default logger")
	}
}

func TestAsyncJobSurvivesJSONRoundTrip(t *testing.T) {
	job := asyncJob{
		TaskID: "batch-1", Resource: "documents", Operation: domain.BatchStatusChange,
		IDs: []string{"doc-1", "doc-2"}, Fields: map[string]any{"status": "completed"},
		RollbackOnError: true, ActorID: "user-1", CorrelationID: "err-123-abc",
	}

	raw, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded asyncJob
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.TaskID != job.TaskID || decoded.Resource != job.Resource || decoded.Operation != job.Operation {
		t.Fatalf("got %+v, want %+v", decoded, job)
	}
	if len(decoded.IDs) != 2 || decoded.IDs[0] != "doc-1" {
		t.Fatalf("ids did not survive round trip: %v", decoded.IDs)
	}
	if decoded.Fields["status"] != "completed" {
		t.Fatalf("fields did not survive round trip: %v", decoded.Fields)
	}
}
