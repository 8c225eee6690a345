package stages

import (
	"context"
	"fmt"

	"github.com/kunzeritter/manual2vector/internal/domain"
	"github.com/kunzeritter/manual2vector/internal/store"
)

// Storage is the storage stage (spec §4.E): confirms every raster/vector
// asset extracted earlier in the pipeline actually landed in the blob
// store before downstream stages treat the document as fully processed.
// image_processing and svg_processing upload as they go (visual_embedding
// depends on the bytes being there already); this stage is the integrity
// gate that catches a blob lost to an interrupted upload.
type Storage struct {
	deps Deps
}

func NewStorage(deps Deps) *Storage { return &Storage{deps: deps} }

func (s *Storage) Stage() domain.StageName { return domain.StageStorage }

func (s *Storage) Precheck(ctx context.Context, doc domain.Document) (bool, error) {
	return s.deps.alreadyDone(ctx, doc.ID, s.Stage())
}

func (s *Storage) Process(ctx context.Context, doc domain.Document) (map[string]any, error) {
	images, err := s.deps.Gateway.Images.List(ctx, store.ListOpts{
		Filter: map[string]any{"document_id": doc.ID},
		Limit:  1000,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list images: %w", err)
	}

	for _, img := range images {
		ok, err := s.deps.Blobs.Exists(ctx, img.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("storage: check %s: %w", img.StorageKey, err)
		}
		if !ok {
			return nil, fmt.Errorf("storage: missing blob for image %s at key %s", img.ID, img.StorageKey)
		}
	}

	if doc.ManufacturerID != "" && s.deps.Graph != nil {
		// series_detection only writes the Document->Product/Series edges
		// when it found a product line to attach to, so a document whose
		// graph side never got that far has no path back to a
		// manufacturer yet — that is expected, not a corruption, so a
		// lookup failure here is not an error. A mismatch is.
		if graphMfr, err := s.deps.Graph.ManufacturerForDocument(ctx, doc.ID); err == nil && graphMfr != doc.ManufacturerID {
			return nil, fmt.Errorf("storage: graph manufacturer %s disagrees with relational manufacturer %s for document %s",
				graphMfr, doc.ManufacturerID, doc.ID)
		}
	}
	return nil, nil
}
