package stages

import (
	"context"
	"fmt"

	"github.com/kunzeritter/manual2vector/internal/domain"
	"github.com/kunzeritter/manual2vector/internal/extract"
	"github.com/kunzeritter/manual2vector/internal/store"
)

// PartsExtraction is the parts_extraction stage (spec §4.E): finds part
// numbers per chunk and records one StructuredExtraction row per chunk
// aggregating every part found in it.
type PartsExtraction struct {
	deps Deps
}

func NewPartsExtraction(deps Deps) *PartsExtraction { return &PartsExtraction{deps: deps} }

func (p *PartsExtraction) Stage() domain.StageName { return domain.StagePartsExtraction }

func (p *PartsExtraction) Precheck(ctx context.Context, doc domain.Document) (bool, error) {
	return p.deps.alreadyDone(ctx, doc.ID, p.Stage())
}

func (p *PartsExtraction) Process(ctx context.Context, doc domain.Document) (map[string]any, error) {
	manufacturer, err := p.manufacturerName(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("parts_extraction: resolve manufacturer: %w", err)
	}

	chunks, err := p.deps.Gateway.Chunks.List(ctx, store.ListOpts{
		Filter: map[string]any{"document_id": doc.ID},
		Limit:  10000,
	})
	if err != nil {
		return nil, fmt.Errorf("parts_extraction: list chunks: %w", err)
	}

	now := p.deps.now()
	for _, chunk := range chunks {
		matches := extract.ExtractPartNumbers(chunk.Text, manufacturer)
		if len(matches) == 0 {
			continue
		}

		parts := make([]map[string]any, 0, len(matches))
		for _, mtch := range matches {
			parts = append(parts, map[string]any{
				"part_number":  mtch.Code,
				"context_span": mtch.Span,
			})
		}

		extraction := domain.StructuredExtraction{
			ID:               newID(),
			SourceType:       domain.EmbeddingSourceTextChunk,
			SourceID:         chunk.ID,
			ExtractionType:   domain.ExtractionPartsList,
			ExtractedData:    map[string]any{"parts": parts},
			Confidence:       0.7,
			ValidationStatus: domain.ValidationPending,
			CreatedAt:        now,
		}
		if _, err := p.deps.Gateway.UpsertExtraction(ctx, extraction); err != nil {
			return nil, fmt.Errorf("parts_extraction: persist chunk %s: %w", chunk.ID, err)
		}
	}
	return nil, nil
}

func (p *PartsExtraction) manufacturerName(ctx context.Context, doc domain.Document) (string, error) {
	if doc.ManufacturerID == "" {
		return "", nil
	}
	mfr, err := p.deps.Gateway.Manufacturers.Get(ctx, doc.ManufacturerID)
	if err != nil {
		return "", err
	}
	return mfr.Name, nil
}
