package stages

import (
	"context"
	"fmt"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

// SearchIndexing is the search_indexing stage (spec §4.E), the final
// stage: ensures the vector collection backing search is provisioned for
// every embedding dimension this document wrote, then marks the
// document completed.
type SearchIndexing struct {
	deps Deps
}

func NewSearchIndexing(deps Deps) *SearchIndexing { return &SearchIndexing{deps: deps} }

func (s *SearchIndexing) Stage() domain.StageName { return domain.StageSearchIndexing }

func (s *SearchIndexing) Precheck(ctx context.Context, doc domain.Document) (bool, error) {
	return s.deps.alreadyDone(ctx, doc.ID, s.Stage())
}

func (s *SearchIndexing) Process(ctx context.Context, doc domain.Document) (map[string]any, error) {
	if s.deps.Vectors != nil && s.deps.Embedder != nil {
		if err := s.deps.Vectors.EnsureCollection(ctx, s.deps.Embedder.Dimension()); err != nil {
			return nil, fmt.Errorf("search_indexing: ensure collection: %w", err)
		}
	}

	doc.Status = domain.DocumentCompleted
	if _, err := s.deps.Gateway.Documents.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("search_indexing: mark document completed: %w", err)
	}
	return nil, nil
}
