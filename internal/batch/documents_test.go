package batch

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

func sampleDocument() domain.Document {
	return domain.Document{
		ID: "doc-1", ContentHash: "abc123", Filename: "manual.pdf", ByteSize: 4096,
		ManufacturerID: "mfg-1", ProductIDs: []string{"prod-1", "prod-2"},
		Type: domain.DocServiceManual, Priority: 3, Status: domain.DocumentProcessing,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestDocumentToMapFromMapRoundTrip(t *testing.T) {
	d := sampleDocument()
	restored := documentFromMap(documentToMap(d))
	if !reflect.DeepEqual(restored, d) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", restored, d)
	}
}

func TestDocumentToMapFromMapSurvivesJSONRoundTrip(t *testing.T) {
	// rollback_data persists through system.batch_tasks as JSONB, so a
	// snapshot taken in-process must still decode correctly once it has
	// been marshalled and unmarshalled as part of a RollbackEntry.
	d := sampleDocument()
	values := documentToMap(d)

	raw, err := json.Marshal(values)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	restored := documentFromMap(decoded)
	if !reflect.DeepEqual(restored, d) {
		t.Fatalf("round trip through JSON mismatch: got %+v, want %+v", restored, d)
	}
}

func TestApplyDocumentFieldsUpdatesOnlyGivenKeys(t *testing.T) {
	d := sampleDocument()
	before := d.Filename

	updated := applyDocumentFields(d, map[string]any{
		"status":   "completed",
		"priority": float64(7), // as it would arrive via JSON
	})

	if updated.Status != domain.DocumentCompleted {
		t.Fatalf("got status %q, want completed", updated.Status)
	}
	if updated.Priority != 7 {
		t.Fatalf("got priority %d, want 7", updated.Priority)
	}
	if updated.Filename != before {
		t.Fatalf("filename changed unexpectedly: %q", updated.Filename)
	}
	if !updated.UpdatedAt.After(d.CreatedAt) {
		t.Fatal("expected UpdatedAt to advance")
	}
}

func TestApplyDocumentFieldsReassignsManufacturer(t *testing.T) {
	d := sampleDocument()
	updated := applyDocumentFields(d, map[string]any{"manufacturer_id": "mfg-2"})
	if updated.ManufacturerID != "mfg-2" {
		t.Fatalf("got manufacturer %q, want mfg-2", updated.ManufacturerID)
	}
}

func TestAsIntAcceptsJSONAndNativeNumbers(t *testing.T) {
	cases := []struct {
		in   any
		want int
	}{
		{5, 5},
		{int64(9), 9},
		{float64(12), 12},
		{"not a number", 0},
		{nil, 0},
	}
	for _, c := range cases {
		if got := asInt(c.in); got != c.want {
			t.Errorf("asInt(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestAsStringSliceAcceptsJSONAndNativeSlices(t *testing.T) {
	if got := asStringSlice([]string{"a", "b"}); len(got) != 2 {
		t.Fatalf("got %v", got)
	}
	if got := asStringSlice([]any{"a", "b"}); len(got) != 2 || got[0] != "a" {
		t.Fatalf("got %v", got)
	}
	if got := asStringSlice(nil); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}
