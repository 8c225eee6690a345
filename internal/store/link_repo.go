package store

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

var linkColumns = []string{
	"id", "document_id", "url", "category", "confidence_score", "video_id", "created_at",
}

func newLinkRepo(pool *pgxpool.Pool) *Repo[domain.Link, string] {
	return NewRepo[domain.Link, string](pool, "content.links", linkColumns,
		func(l domain.Link) map[string]any {
			return map[string]any{
				"id": l.ID, "document_id": l.DocumentID, "url": l.URL,
				"category": l.Category, "confidence_score": l.ConfidenceScore,
				"video_id": l.VideoID, "created_at": l.CreatedAt,
			}
		},
		func(rows pgx.Rows) (domain.Link, error) {
			var l domain.Link
			err := rows.Scan(&l.ID, &l.DocumentID, &l.URL, &l.Category, &l.ConfidenceScore, &l.VideoID, &l.CreatedAt)
			return l, err
		},
		WithFilterableColumns[domain.Link, string]("document_id", "category"),
	)
}
