package stages

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kunzeritter/manual2vector/internal/domain"
	"github.com/kunzeritter/manual2vector/internal/resilience"
	"github.com/kunzeritter/manual2vector/internal/store"
)

// VisualEmbedding is the visual_embedding stage (spec §4.E): computes a
// vector per image by describing it with the vision model and embedding
// that description, capped at deps.VisualEmbeddingCap images per run and
// throttled to deps.VisualEmbeddingDelay between calls to avoid
// exhausting a shared GPU. A per-image failure is skipped; the stage
// only fails if every attempted image failed.
type VisualEmbedding struct {
	deps Deps
}

func NewVisualEmbedding(deps Deps) *VisualEmbedding { return &VisualEmbedding{deps: deps} }

func (v *VisualEmbedding) Stage() domain.StageName { return domain.StageVisualEmbedding }

func (v *VisualEmbedding) Precheck(ctx context.Context, doc domain.Document) (bool, error) {
	return v.deps.alreadyDone(ctx, doc.ID, v.Stage())
}

func (v *VisualEmbedding) Process(ctx context.Context, doc domain.Document) (map[string]any, error) {
	if v.deps.Vision == nil || v.deps.Embedder == nil {
		return nil, nil // no vision or embedding model wired: nothing to embed
	}
	images, err := v.deps.Gateway.Images.List(ctx, store.ListOpts{
		Filter: map[string]any{"document_id": doc.ID},
		Limit:  1000,
	})
	if err != nil {
		return nil, fmt.Errorf("visual_embedding: list images: %w", err)
	}

	pending := make([]domain.Image, 0, len(images))
	for _, img := range images {
		if img.VisualEmbeddingID == "" {
			pending = append(pending, img)
		}
	}

	cap := v.deps.VisualEmbeddingCap
	if cap <= 0 {
		cap = 5
	}
	capped := len(pending) > cap
	if capped {
		pending = pending[:cap] // spec invariant: bound images processed per run
	}

	delay := v.deps.VisualEmbeddingDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: 1.0 / delay.Seconds(), Burst: 1})

	metadata := map[string]any{"capped": capped}

	processed := 0
	for _, img := range pending {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("visual_embedding: rate limiter: %w", err)
		}
		if err := v.embedOne(ctx, doc.ID, img); err != nil {
			continue
		}
		processed++
	}

	if processed == 0 && len(pending) > 0 {
		return nil, fmt.Errorf("visual_embedding: all %d attempted images failed", len(pending))
	}
	return metadata, nil
}

func (v *VisualEmbedding) embedOne(ctx context.Context, documentID string, img domain.Image) error {
	rc, err := v.deps.Blobs.Get(ctx, img.StorageKey)
	if err != nil {
		return fmt.Errorf("fetch image %s: %w", img.ID, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read image %s: %w", img.ID, err)
	}

	desc, err := v.deps.Vision.Describe(ctx, raw, "Describe this technical diagram.")
	if err != nil {
		return fmt.Errorf("describe image %s: %w", img.ID, err)
	}

	vector, err := v.deps.Embedder.Embed(ctx, desc.Text)
	if err != nil {
		return fmt.Errorf("embed description for image %s: %w", img.ID, err)
	}

	embeddingID := newID()
	if err := v.deps.Gateway.CreateEmbeddings(ctx, []domain.Embedding{{
		ID:         embeddingID,
		SourceType: domain.EmbeddingSourceImage,
		SourceID:   img.ID,
		Vector:     vector,
		ModelName:  v.deps.Embedder.ModelName(),
		Dimension:  len(vector),
		CreatedAt:  v.deps.now(),
	}}); err != nil {
		return fmt.Errorf("persist embedding metadata for image %s: %w", img.ID, err)
	}

	if v.deps.Vectors != nil {
		if err := v.deps.Vectors.Upsert(ctx, domain.Embedding{
			ID:         embeddingID,
			SourceType: domain.EmbeddingSourceImage,
			SourceID:   img.ID,
			Vector:     vector,
			ModelName:  v.deps.Embedder.ModelName(),
			Dimension:  len(vector),
		}, map[string]any{"document_id": documentID, "image_id": img.ID}); err != nil {
			return fmt.Errorf("upsert vector for image %s: %w", img.ID, err)
		}
	}

	img.VisualEmbeddingID = embeddingID
	img.AIDescription = desc.Text
	if _, err := v.deps.Gateway.Images.Update(ctx, img); err != nil {
		return fmt.Errorf("update image %s with embedding id: %w", img.ID, err)
	}
	return nil
}
