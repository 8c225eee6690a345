package blobstore

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func TestMemoryStorePutGetRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if err := m.Put(ctx, "images/abc.png", bytes.NewReader([]byte("pngdata")), "image/png"); err != nil {
		t.Fatalf("put: %v", err)
	}

	rc, err := m.Get(ctx, "images/abc.png")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "pngdata" {
		t.Fatalf("got %q, want pngdata", data)
	}
}

func TestMemoryStoreExistsAndDelete(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	key := "documents/doc-1/manual.pdf"

	if ok, _ := m.Exists(ctx, key); ok {
		t.Fatal("expected key to not exist before put")
	}

	_ = m.Put(ctx, key, bytes.NewReader([]byte("pdfbytes")), "application/pdf")
	if ok, _ := m.Exists(ctx, key); !ok {
		t.Fatal("expected key to exist after put")
	}

	if err := m.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := m.Exists(ctx, key); ok {
		t.Fatal("expected key to not exist after delete")
	}
}

func TestMemoryStoreGetMissingKeyErrors(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.Get(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing key")
	}
}
