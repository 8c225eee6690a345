package store

import (
	"testing"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

func TestAdvisoryLockKeyDeterministic(t *testing.T) {
	a := AdvisoryLockKey("doc-1", domain.StageTextExtraction)
	b := AdvisoryLockKey("doc-1", domain.StageTextExtraction)
	if a != b {
		t.Fatal("expected advisory lock key to be deterministic")
	}
}

func TestAdvisoryLockKeyDiffersPerStage(t *testing.T) {
	a := AdvisoryLockKey("doc-1", domain.StageTextExtraction)
	b := AdvisoryLockKey("doc-1", domain.StageEmbedding)
	if a == b {
		t.Fatal("expected different stages on the same document to hash differently")
	}
}

func TestAdvisoryLockKeyDiffersPerDocument(t *testing.T) {
	a := AdvisoryLockKey("doc-1", domain.StageUpload)
	b := AdvisoryLockKey("doc-2", domain.StageUpload)
	if a == b {
		t.Fatal("expected different documents on the same stage to hash differently")
	}
}

func TestColumnList(t *testing.T) {
	if got := columnList([]string{"a", "b", "c"}); got != "a, b, c" {
		t.Fatalf("got %q", got)
	}
	if got := columnList(nil); got != "" {
		t.Fatalf("got %q", got)
	}
}
