package store

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

var chunkColumns = []string{
	"id", "document_id", "ordinal", "page_start", "page_end",
	"chunk_type", "text", "confidence", "language", "image_only", "created_at",
}

func newChunkRepo(pool *pgxpool.Pool) *Repo[domain.ContentChunk, string] {
	return NewRepo[domain.ContentChunk, string](pool, "content.content_chunks", chunkColumns,
		func(c domain.ContentChunk) map[string]any {
			return map[string]any{
				"id": c.ID, "document_id": c.DocumentID, "ordinal": c.Ordinal,
				"page_start": c.PageStart, "page_end": c.PageEnd, "chunk_type": c.Type,
				"text": c.Text, "confidence": c.Confidence, "language": c.Language,
				"image_only": c.ImageOnly, "created_at": c.CreatedAt,
			}
		},
		func(rows pgx.Rows) (domain.ContentChunk, error) {
			var c domain.ContentChunk
			err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.PageStart, &c.PageEnd,
				&c.Type, &c.Text, &c.Confidence, &c.Language, &c.ImageOnly, &c.CreatedAt)
			return c, err
		},
		WithFilterableColumns[domain.ContentChunk, string]("document_id", "chunk_type"),
	)
}
