package config

import (
	"flag"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(flag.NewFlagSet("test", flag.ContinueOnError), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.VectorDims != 768 {
		t.Fatalf("expected default vector dims 768, got %d", cfg.VectorDims)
	}
	if cfg.MaxConcurrentDocuments != 4 {
		t.Fatalf("expected default max concurrent documents 4, got %d", cfg.MaxConcurrentDocuments)
	}
}

func TestLoadFlagOverridesDefault(t *testing.T) {
	cfg, err := Load(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-vector-dims=1536", "-qdrant=qdrant.internal:6334"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.VectorDims != 1536 {
		t.Fatalf("expected flag override 1536, got %d", cfg.VectorDims)
	}
	if cfg.QdrantAddr != "qdrant.internal:6334" {
		t.Fatalf("expected flag override address, got %s", cfg.QdrantAddr)
	}
}
