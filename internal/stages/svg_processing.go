package stages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"

	"github.com/kunzeritter/manual2vector/internal/blobstore"
	"github.com/kunzeritter/manual2vector/internal/domain"
)

// SVGProcessing is the svg_processing stage (spec §4.E diagram): extracts
// embedded vector graphics and persists each as a content.images row,
// sharing image_processing's hash-based dedup so the same diagram
// embedded in two manuals resolves to one stored asset.
type SVGProcessing struct {
	deps Deps
}

func NewSVGProcessing(deps Deps) *SVGProcessing { return &SVGProcessing{deps: deps} }

func (s *SVGProcessing) Stage() domain.StageName { return domain.StageSVGProcessing }

func (s *SVGProcessing) Precheck(ctx context.Context, doc domain.Document) (bool, error) {
	return s.deps.alreadyDone(ctx, doc.ID, s.Stage())
}

func (s *SVGProcessing) Process(ctx context.Context, doc domain.Document) (map[string]any, error) {
	rc, err := s.deps.Blobs.Get(ctx, blobstore.DocumentKey(doc.ID, doc.Filename))
	if err != nil {
		return nil, fmt.Errorf("svg_processing: fetch document bytes: %w", err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("svg_processing: read document bytes: %w", err)
	}

	assets, err := s.deps.SVGs.ExtractSVGs(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("svg_processing: extract: %w", err)
	}

	now := s.deps.now()
	for _, asset := range assets {
		hash := domain.ContentHash([]byte(asset.Markup))

		if _, err := s.deps.Gateway.GetImageByHash(ctx, hash); err == nil {
			continue // byte-identical vector graphic already stored
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("svg_processing: lookup hash for page %d: %w", asset.Page, err)
		}

		key := blobstore.ImageKey(hash, "svg")
		if err := s.deps.Blobs.Put(ctx, key, bytes.NewReader([]byte(asset.Markup)), "image/svg+xml"); err != nil {
			return nil, fmt.Errorf("svg_processing: store page %d: %w", asset.Page, err)
		}

		img := domain.Image{
			ID:         newID(),
			DocumentID: doc.ID,
			Page:       asset.Page,
			FileHash:   hash,
			StorageKey: key,
			CreatedAt:  now,
		}
		if _, err := s.deps.Gateway.Images.Create(ctx, img); err != nil {
			return nil, fmt.Errorf("svg_processing: persist page %d: %w", asset.Page, err)
		}
	}
	return nil, nil
}
