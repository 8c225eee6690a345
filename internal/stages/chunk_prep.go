package stages

import (
	"context"
	"fmt"

	"github.com/kunzeritter/manual2vector/internal/domain"
	"github.com/kunzeritter/manual2vector/internal/store"
)

// ChunkPrep is the chunk_prep stage (spec §4.E): fingerprints every
// ContentChunk and inserts an IntelligenceChunk per distinct fingerprint,
// dropping within-document collisions. Collisions across documents are
// expected and not deduplicated.
type ChunkPrep struct {
	deps Deps
}

func NewChunkPrep(deps Deps) *ChunkPrep { return &ChunkPrep{deps: deps} }

func (c *ChunkPrep) Stage() domain.StageName { return domain.StageChunkPrep }

func (c *ChunkPrep) Precheck(ctx context.Context, doc domain.Document) (bool, error) {
	return c.deps.alreadyDone(ctx, doc.ID, c.Stage())
}

func (c *ChunkPrep) Process(ctx context.Context, doc domain.Document) (map[string]any, error) {
	chunks, err := c.deps.Gateway.Chunks.List(ctx, store.ListOpts{
		Filter: map[string]any{"document_id": doc.ID},
		Limit:  10000,
	})
	if err != nil {
		return nil, fmt.Errorf("chunk_prep: list chunks: %w", err)
	}

	now := c.deps.now()
	for _, chunk := range chunks {
		fp := domain.Fingerprint(chunk.Text)
		ic := domain.IntelligenceChunk{
			ID:            newID(),
			DocumentID:    doc.ID,
			SourceChunkID: chunk.ID,
			Text:          chunk.Text,
			PageStart:     chunk.PageStart,
			PageEnd:       chunk.PageEnd,
			Fingerprint:   fp,
			Status:        domain.IntelligencePending,
			CreatedAt:     now,
		}
		if _, _, err := c.deps.Gateway.UpsertIntelligenceChunk(ctx, ic); err != nil {
			return nil, fmt.Errorf("chunk_prep: upsert chunk %s: %w", chunk.ID, err)
		}
	}
	return nil, nil
}
