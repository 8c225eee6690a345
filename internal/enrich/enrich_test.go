package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPVisionModelDescribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/describe" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		var req describeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Prompt != "what is shown" {
			t.Fatalf("unexpected prompt %q", req.Prompt)
		}
		_ = json.NewEncoder(w).Encode(describeResponse{Text: "a fuser assembly", Confidence: 0.8})
	}))
	defer srv.Close()

	vm := NewHTTPVisionModel(srv.URL)
	desc, err := vm.Describe(context.Background(), []byte("fake-image"), "what is shown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc.Text != "a fuser assembly" || desc.Confidence != 0.8 {
		t.Fatalf("unexpected result: %+v", desc)
	}
}

func TestHTTPVisionModelExtractErrorCodesPropagatesNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	vm := NewHTTPVisionModel(srv.URL)
	if _, err := vm.ExtractErrorCodes(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestHTTPEmbedderEmbedChecksDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Vector: []float32{0.1, 0.2}})
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, "text-embed-3", 3)
	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestHTTPEmbedderEmbedSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Vector: []float32{0.1, 0.2}})
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, "text-embed-3", 2)
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("got %d dims, want 2", len(vec))
	}
	if e.Dimension() != 2 || e.ModelName() != "text-embed-3" {
		t.Fatalf("unexpected metadata: dim=%d model=%s", e.Dimension(), e.ModelName())
	}
}

func TestYouTubeMetadataServiceRejectsUnsupportedPlatform(t *testing.T) {
	y := NewYouTubeMetadataService("key")
	if _, err := y.Enrich(context.Background(), "vimeo", "abc"); err == nil {
		t.Fatal("expected error for unsupported platform")
	}
}

func TestYouTubeMetadataServiceRequiresAPIKey(t *testing.T) {
	y := NewYouTubeMetadataService("")
	if _, err := y.Enrich(context.Background(), "youtube", "abc"); err == nil {
		t.Fatal("expected error when no API key is configured")
	}
}

func TestParseISO8601Duration(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"PT1H2M3S", 3723},
		{"PT5M", 300},
		{"PT45S", 45},
		{"PT0S", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseISO8601Duration(tt.in); got != tt.want {
			t.Errorf("parseISO8601Duration(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
