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

// ImageProcessing is the image_processing stage (spec §4.E): extracts
// raster images, hashes each, and dedups across documents via
// getImageByHash before storing a new one. No OCR is run (OCRText stays
// empty); a vision-model description is attempted when a model is wired,
// and its failure never fails the stage.
type ImageProcessing struct {
	deps Deps
}

func NewImageProcessing(deps Deps) *ImageProcessing { return &ImageProcessing{deps: deps} }

func (p *ImageProcessing) Stage() domain.StageName { return domain.StageImageProcessing }

func (p *ImageProcessing) Precheck(ctx context.Context, doc domain.Document) (bool, error) {
	return p.deps.alreadyDone(ctx, doc.ID, p.Stage())
}

func (p *ImageProcessing) Process(ctx context.Context, doc domain.Document) (map[string]any, error) {
	rc, err := p.deps.Blobs.Get(ctx, blobstore.DocumentKey(doc.ID, doc.Filename))
	if err != nil {
		return nil, fmt.Errorf("image_processing: fetch document bytes: %w", err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("image_processing: read document bytes: %w", err)
	}

	images, err := p.deps.Images.ExtractImages(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("image_processing: extract: %w", err)
	}

	now := p.deps.now()
	for _, extracted := range images {
		hash := domain.ContentHash(extracted.Bytes)

		if existing, err := p.deps.Gateway.GetImageByHash(ctx, hash); err == nil {
			_ = existing // dedup hit: reuse the existing row, nothing to do
			continue
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("image_processing: lookup hash for page %d: %w", extracted.Page, err)
		}

		key := blobstore.ImageKey(hash, extracted.Ext)
		if err := p.deps.Blobs.Put(ctx, key, bytes.NewReader(extracted.Bytes), "image/"+extracted.Ext); err != nil {
			return nil, fmt.Errorf("image_processing: store page %d: %w", extracted.Page, err)
		}

		img := domain.Image{
			ID:            newID(),
			DocumentID:    doc.ID,
			Page:          extracted.Page,
			FileHash:      hash,
			StorageKey:    key,
			AIDescription: p.describe(ctx, extracted.Bytes),
			CreatedAt:     now,
		}
		if _, err := p.deps.Gateway.Images.Create(ctx, img); err != nil {
			return nil, fmt.Errorf("image_processing: persist page %d: %w", extracted.Page, err)
		}
	}
	return nil, nil
}

// describe best-effort asks the vision model for a free-text description
// of the image, stored as its AIDescription. A failure here is
// swallowed: it is optional per spec §4.E.
func (p *ImageProcessing) describe(ctx context.Context, raw []byte) string {
	if p.deps.Vision == nil {
		return ""
	}
	desc, err := p.deps.Vision.Describe(ctx, raw, "Describe this image from a technical manual.")
	if err != nil {
		return ""
	}
	return desc.Text
}
