package store

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

var structuredTableColumns = []string{
	"id", "document_id", "page", "index_on_page", "data_rows",
	"markdown_rendering", "caption", "surrounding_context", "created_at",
}

func newStructuredTableRepo(pool *pgxpool.Pool) *Repo[domain.StructuredTable, string] {
	return NewRepo[domain.StructuredTable, string](pool, "content.structured_tables", structuredTableColumns,
		func(t domain.StructuredTable) map[string]any {
			rows, _ := json.Marshal(t.DataRows)
			return map[string]any{
				"id": t.ID, "document_id": t.DocumentID, "page": t.Page,
				"index_on_page": t.IndexOnPage, "data_rows": rows,
				"markdown_rendering": t.MarkdownRendering, "caption": t.Caption,
				"surrounding_context": t.SurroundingContext, "created_at": t.CreatedAt,
			}
		},
		func(rows pgx.Rows) (domain.StructuredTable, error) {
			var t domain.StructuredTable
			var raw []byte
			if err := rows.Scan(&t.ID, &t.DocumentID, &t.Page, &t.IndexOnPage, &raw,
				&t.MarkdownRendering, &t.Caption, &t.SurroundingContext, &t.CreatedAt); err != nil {
				return t, err
			}
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &t.DataRows); err != nil {
					return t, fmt.Errorf("unmarshal data_rows: %w", err)
				}
			}
			return t, nil
		},
		WithFilterableColumns[domain.StructuredTable, string]("document_id", "page"),
	)
}
