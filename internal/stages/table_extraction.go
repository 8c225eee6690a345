package stages

import (
	"context"
	"fmt"
	"io"

	"github.com/kunzeritter/manual2vector/internal/blobstore"
	"github.com/kunzeritter/manual2vector/internal/domain"
)

// TableExtraction is the table_extraction stage (spec §4.E): detects
// tables per page and upserts one StructuredTable row per (page,
// index_on_page), so a retried run collapses onto the same rows instead
// of duplicating them.
type TableExtraction struct {
	deps Deps
}

func NewTableExtraction(deps Deps) *TableExtraction { return &TableExtraction{deps: deps} }

func (t *TableExtraction) Stage() domain.StageName { return domain.StageTableExtraction }

func (t *TableExtraction) Precheck(ctx context.Context, doc domain.Document) (bool, error) {
	return t.deps.alreadyDone(ctx, doc.ID, t.Stage())
}

func (t *TableExtraction) Process(ctx context.Context, doc domain.Document) (map[string]any, error) {
	rc, err := t.deps.Blobs.Get(ctx, blobstore.DocumentKey(doc.ID, doc.Filename))
	if err != nil {
		return nil, fmt.Errorf("table_extraction: fetch document bytes: %w", err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("table_extraction: read document bytes: %w", err)
	}

	tables, err := t.deps.Tables.ExtractTables(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("table_extraction: extract: %w", err)
	}

	now := t.deps.now()
	for _, tbl := range tables {
		row := domain.StructuredTable{
			ID:                 newID(),
			DocumentID:         doc.ID,
			Page:               tbl.Page,
			IndexOnPage:        tbl.IndexOnPage,
			DataRows:           tbl.DataRows,
			MarkdownRendering:  tbl.MarkdownRendering,
			Caption:            tbl.Caption,
			SurroundingContext: tbl.SurroundingContext,
			CreatedAt:          now,
		}
		if _, err := t.deps.Gateway.UpsertStructuredTable(ctx, row); err != nil {
			return nil, fmt.Errorf("table_extraction: upsert page %d index %d: %w", tbl.Page, tbl.IndexOnPage, err)
		}
	}
	return nil, nil
}
