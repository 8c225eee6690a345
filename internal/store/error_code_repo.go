package store

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

var errorCodeColumns = []string{
	"id", "code", "manufacturer_id", "product_id", "document_id", "video_id",
	"description", "solution", "confidence", "ai_extracted", "verified", "created_at",
}

func newErrorCodeRepo(pool *pgxpool.Pool) *Repo[domain.ErrorCode, string] {
	return NewRepo[domain.ErrorCode, string](pool, "intelligence.error_codes", errorCodeColumns,
		func(e domain.ErrorCode) map[string]any {
			return map[string]any{
				"id": e.ID, "code": e.Code, "manufacturer_id": e.ManufacturerID,
				"product_id": e.ProductID, "document_id": e.DocumentID, "video_id": e.VideoID,
				"description": e.Description, "solution": e.Solution, "confidence": e.Confidence,
				"ai_extracted": e.AIExtracted, "verified": e.Verified, "created_at": e.CreatedAt,
			}
		},
		func(rows pgx.Rows) (domain.ErrorCode, error) {
			var e domain.ErrorCode
			err := rows.Scan(&e.ID, &e.Code, &e.ManufacturerID, &e.ProductID, &e.DocumentID, &e.VideoID,
				&e.Description, &e.Solution, &e.Confidence, &e.AIExtracted, &e.Verified, &e.CreatedAt)
			return e, err
		},
		WithFilterableColumns[domain.ErrorCode, string]("document_id", "manufacturer_id", "product_id"),
	)
}
