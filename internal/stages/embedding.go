package stages

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kunzeritter/manual2vector/internal/domain"
	"github.com/kunzeritter/manual2vector/internal/store"
)

// Embedding is the embedding stage (spec §4.E): computes a text
// embedding for every IntelligenceChunk belonging to the document,
// idempotent per (source_type, source_id, model_name) so re-running
// against an already-embedded chunk overwrites rather than duplicates.
type Embedding struct {
	deps Deps
}

func NewEmbedding(deps Deps) *Embedding { return &Embedding{deps: deps} }

func (e *Embedding) Stage() domain.StageName { return domain.StageEmbedding }

func (e *Embedding) Precheck(ctx context.Context, doc domain.Document) (bool, error) {
	return e.deps.alreadyDone(ctx, doc.ID, e.Stage())
}

func (e *Embedding) Process(ctx context.Context, doc domain.Document) (map[string]any, error) {
	if e.deps.Embedder == nil {
		return nil, nil // no embedding model wired: nothing to embed
	}
	chunks, err := e.deps.Gateway.IntelligenceChunks.List(ctx, store.ListOpts{
		Filter: map[string]any{"document_id": doc.ID},
		Limit:  10000,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: list intelligence chunks: %w", err)
	}

	embeddings := make([]domain.Embedding, 0, len(chunks))
	payloads := make(map[string]map[string]any, len(chunks))
	now := e.deps.now()

	for _, chunk := range chunks {
		vector, err := e.deps.Embedder.Embed(ctx, chunk.Text)
		if err != nil {
			return nil, fmt.Errorf("embedding: embed chunk %s: %w", chunk.ID, err)
		}

		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(string(domain.EmbeddingSourceTextChunk)+"\x00"+chunk.ID+"\x00"+e.deps.Embedder.ModelName())).String()
		emb := domain.Embedding{
			ID:         id,
			SourceType: domain.EmbeddingSourceTextChunk,
			SourceID:   chunk.ID,
			Vector:     vector,
			ModelName:  e.deps.Embedder.ModelName(),
			Dimension:  len(vector),
			CreatedAt:  now,
		}
		embeddings = append(embeddings, emb)
		payloads[id] = map[string]any{"document_id": doc.ID, "chunk_id": chunk.ID}

		chunk.Status = domain.IntelligenceCompleted
		if _, err := e.deps.Gateway.IntelligenceChunks.Update(ctx, chunk); err != nil {
			return nil, fmt.Errorf("embedding: mark chunk %s completed: %w", chunk.ID, err)
		}
	}

	if err := e.deps.Gateway.CreateEmbeddings(ctx, embeddings); err != nil {
		return nil, fmt.Errorf("embedding: persist metadata: %w", err)
	}
	if e.deps.Vectors != nil {
		if err := e.deps.Vectors.UpsertBatch(ctx, embeddings, payloads); err != nil {
			return nil, fmt.Errorf("embedding: upsert vectors: %w", err)
		}
	}
	return nil, nil
}
