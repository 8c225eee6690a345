package store

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

var imageColumns = []string{
	"id", "document_id", "page", "file_hash", "storage_key",
	"ocr_text", "ai_description", "visual_embedding_id", "created_at",
}

func newImageRepo(pool *pgxpool.Pool) *Repo[domain.Image, string] {
	return NewRepo[domain.Image, string](pool, "content.images", imageColumns,
		func(i domain.Image) map[string]any {
			return map[string]any{
				"id": i.ID, "document_id": i.DocumentID, "page": i.Page,
				"file_hash": i.FileHash, "storage_key": i.StorageKey,
				"ocr_text": i.OCRText, "ai_description": i.AIDescription,
				"visual_embedding_id": i.VisualEmbeddingID, "created_at": i.CreatedAt,
			}
		},
		func(rows pgx.Rows) (domain.Image, error) {
			var i domain.Image
			err := rows.Scan(&i.ID, &i.DocumentID, &i.Page, &i.FileHash, &i.StorageKey,
				&i.OCRText, &i.AIDescription, &i.VisualEmbeddingID, &i.CreatedAt)
			return i, err
		},
		WithFilterableColumns[domain.Image, string]("document_id"),
	)
}
