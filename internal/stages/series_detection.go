package stages

import (
	"context"
	"fmt"

	"github.com/kunzeritter/manual2vector/internal/domain"
	"github.com/kunzeritter/manual2vector/internal/extract"
	"github.com/kunzeritter/manual2vector/internal/store"
)

// SeriesDetection is the series_detection stage (spec §4.E): resolves
// the product line mentioned in the document to a Product and
// ProductSeries row, and mirrors the hierarchy into the graph store.
type SeriesDetection struct {
	deps Deps
}

func NewSeriesDetection(deps Deps) *SeriesDetection { return &SeriesDetection{deps: deps} }

func (s *SeriesDetection) Stage() domain.StageName { return domain.StageSeriesDetection }

func (s *SeriesDetection) Precheck(ctx context.Context, doc domain.Document) (bool, error) {
	return s.deps.alreadyDone(ctx, doc.ID, s.Stage())
}

func (s *SeriesDetection) Process(ctx context.Context, doc domain.Document) (map[string]any, error) {
	if doc.ManufacturerID == "" {
		return nil, nil // classification found no manufacturer; nothing to attach a series to
	}

	mfr, err := s.deps.Gateway.Manufacturers.Get(ctx, doc.ManufacturerID)
	if err != nil {
		return nil, fmt.Errorf("series_detection: resolve manufacturer: %w", err)
	}

	chunks, err := s.deps.Gateway.Chunks.List(ctx, store.ListOpts{
		Filter: map[string]any{"document_id": doc.ID},
		Limit:  20,
	})
	if err != nil {
		return nil, fmt.Errorf("series_detection: list chunks: %w", err)
	}

	var productLine string
	for _, chunk := range chunks {
		if match := extract.ExtractBestManufacturer(chunk.Text); match != nil && match.Product != "" {
			productLine = match.Product
			break
		}
	}

	var seriesID string
	if productLine != "" {
		series, err := s.deps.Gateway.FindOrCreateProductSeries(ctx, newID(), mfr.ID, productLine)
		if err != nil {
			return nil, fmt.Errorf("series_detection: find or create series: %w", err)
		}

		product, err := s.deps.Gateway.FindOrCreateProduct(ctx, newID(), mfr.ID, productLine, productLine)
		if err != nil {
			return nil, fmt.Errorf("series_detection: find or create product: %w", err)
		}
		seriesID = series.ID

		if s.deps.Graph != nil {
			if err := s.deps.Graph.EnsureHierarchy(ctx, mfr.ID, mfr.Name, product.ID, product.Name, product.Model, series.ID, series.Name); err != nil {
				return nil, fmt.Errorf("series_detection: ensure graph hierarchy: %w", err)
			}
			if err := s.deps.Graph.LinkDocumentToSeries(ctx, doc.ID, series.ID); err != nil {
				return nil, fmt.Errorf("series_detection: link document to series: %w", err)
			}
			if err := s.deps.Graph.LinkDocumentToProduct(ctx, doc.ID, product.ID); err != nil {
				return nil, fmt.Errorf("series_detection: link document to product: %w", err)
			}
		}
	}

	if err := s.linkVideos(ctx, doc.ID, mfr.ID, seriesID); err != nil {
		return nil, fmt.Errorf("series_detection: %w", err)
	}
	return nil, nil
}

// linkVideos denormalizes this document's manufacturer (and series, once
// resolved) onto every video the document references (spec §3): videos
// are shared across documents, so a video already linked to one
// manufacturer picks up a second one here rather than being overwritten
// (scenario: two manuals from different manufacturers both embed the
// same installation video).
func (s *SeriesDetection) linkVideos(ctx context.Context, documentID, manufacturerID, seriesID string) error {
	links, err := s.deps.Gateway.Links.List(ctx, store.ListOpts{
		Filter: map[string]any{"document_id": documentID, "category": domain.LinkVideo},
		Limit:  1000,
	})
	if err != nil {
		return fmt.Errorf("list video links: %w", err)
	}
	for _, link := range links {
		if link.VideoID == "" {
			continue
		}
		if err := s.deps.Gateway.AttachVideoTaxonomy(ctx, link.VideoID, manufacturerID, seriesID); err != nil {
			return fmt.Errorf("attach taxonomy to video %s: %w", link.VideoID, err)
		}
		if s.deps.Graph != nil {
			if err := s.deps.Graph.LinkVideoToManufacturer(ctx, link.VideoID, manufacturerID); err != nil {
				return fmt.Errorf("link video %s to manufacturer: %w", link.VideoID, err)
			}
		}
	}
	return nil
}
