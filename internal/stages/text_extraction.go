package stages

import (
	"context"
	"fmt"
	"io"

	"github.com/kunzeritter/manual2vector/internal/blobstore"
	"github.com/kunzeritter/manual2vector/internal/domain"
)

// languageUnknown is the fallback language tag (spec §4.E: "unknown ->
// unk"). Detecting an actual ISO 639-1 tag is a non-goal here; a
// production build would wire in a language detector behind this
// constant's call site.
const languageUnknown = "unk"

// TextExtraction is the text_extraction stage (spec §4.E): produces one
// raw ContentChunk per page, contiguous ordinals starting at 0, with
// pages that yielded no text still emitted (image_only=true) so a
// scanned or image-only page never fails the stage.
type TextExtraction struct {
	deps Deps
}

func NewTextExtraction(deps Deps) *TextExtraction { return &TextExtraction{deps: deps} }

func (t *TextExtraction) Stage() domain.StageName { return domain.StageTextExtraction }

func (t *TextExtraction) Precheck(ctx context.Context, doc domain.Document) (bool, error) {
	return t.deps.alreadyDone(ctx, doc.ID, t.Stage())
}

func (t *TextExtraction) Process(ctx context.Context, doc domain.Document) (map[string]any, error) {
	rc, err := t.deps.Blobs.Get(ctx, blobstore.DocumentKey(doc.ID, doc.Filename))
	if err != nil {
		return nil, fmt.Errorf("text_extraction: fetch document bytes: %w", err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("text_extraction: read document bytes: %w", err)
	}

	pages, err := t.deps.Text.ExtractText(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("text_extraction: extract: %w", err)
	}

	now := t.deps.now()
	chunks := make([]domain.ContentChunk, len(pages))
	for ordinal, page := range pages {
		chunks[ordinal] = domain.ContentChunk{
			ID:         newID(),
			DocumentID: doc.ID,
			Ordinal:    ordinal,
			PageStart:  page.Page,
			PageEnd:    page.Page,
			Type:       domain.ChunkBody,
			Text:       page.Text,
			Confidence: 1.0,
			Language:   languageUnknown,
			ImageOnly:  page.Text == "",
			CreatedAt:  now,
		}
	}

	if err := t.deps.Gateway.ReplaceContentChunks(ctx, doc.ID, chunks); err != nil {
		return nil, fmt.Errorf("text_extraction: %w", err)
	}
	return nil, nil
}
