package domain

import "testing"

func TestFingerprintDedupAcrossCasingAndWhitespace(t *testing.T) {
	a := Fingerprint("Error code 13.20.01")
	b := Fingerprint("ERROR CODE 13.20.01")
	c := Fingerprint("Error   code   13.20.01")
	if a != b || b != c {
		t.Fatalf("expected identical fingerprints, got %q %q %q", a, b, c)
	}
}

func TestFingerprintDiffersOnContent(t *testing.T) {
	a := Fingerprint("Error code 13.20.01")
	b := Fingerprint("Error code 99.99.99")
	if a == b {
		t.Fatal("expected different fingerprints for different content")
	}
}

func TestValidateUploadEmptyBytes(t *testing.T) {
	err := ValidateUpload(UploadInput{Filename: "a.pdf"})
	if err == nil {
		t.Fatal("expected error for empty bytes")
	}
}

func TestValidateUploadMissingExtension(t *testing.T) {
	err := ValidateUpload(UploadInput{Filename: "manual", Bytes: []byte("x")})
	if err == nil {
		t.Fatal("expected error for missing extension")
	}
}

func TestValidateUploadOK(t *testing.T) {
	if err := ValidateUpload(UploadInput{Filename: "manual.pdf", Bytes: []byte("x")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestContentHashStable(t *testing.T) {
	h1 := ContentHash([]byte("hello"))
	h2 := ContentHash([]byte("hello"))
	if h1 != h2 {
		t.Fatal("content hash should be deterministic")
	}
	if h1 == ContentHash([]byte("world")) {
		t.Fatal("content hash should differ for different content")
	}
}

func TestValidateDocType(t *testing.T) {
	if err := ValidateDocType(DocServiceManual); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateDocType(DocType("unknown")); err == nil {
		t.Fatal("expected error for unknown doc type")
	}
}

func TestValidateEmbeddingDimensionMismatch(t *testing.T) {
	e := Embedding{Vector: make([]float32, 10), Dimension: 768}
	if err := ValidateEmbedding(e); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestValidateEmbeddingOK(t *testing.T) {
	e := Embedding{Vector: make([]float32, 768), Dimension: 768}
	if err := ValidateEmbedding(e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPriorityForDocType(t *testing.T) {
	cases := map[DocType]int{
		DocBulletin:      1,
		DocCPMD:          2,
		DocServiceManual: 3,
		DocPartsCatalog:  4,
		DocOther:         5,
		DocType("x"):     5,
	}
	for dt, want := range cases {
		if got := PriorityForDocType(dt); got != want {
			t.Errorf("PriorityForDocType(%s) = %d, want %d", dt, got, want)
		}
	}
}

func TestLeaseExpired(t *testing.T) {
	s := StageStatus{State: StageInProgress, LeasedUntil: mustParseTime(t, "2026-01-01T00:00:00Z")}
	if s.LeaseExpired(mustParseTime(t, "2026-01-01T00:00:01Z")) != true {
		t.Fatal("expected lease to be expired")
	}
	if s.LeaseExpired(mustParseTime(t, "2025-12-31T23:59:59Z")) != false {
		t.Fatal("expected lease to still be active")
	}
}
