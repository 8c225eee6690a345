package blobstore

import "testing"

func TestImageKeyFormat(t *testing.T) {
	got := ImageKey("abc123", "png")
	want := "images/abc123.png"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDocumentKeyFormat(t *testing.T) {
	got := DocumentKey("doc-9", "manual.pdf")
	want := "documents/doc-9/manual.pdf"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
