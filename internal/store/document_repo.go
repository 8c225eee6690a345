package store

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

var documentColumns = []string{
	"id", "content_hash", "filename", "byte_size", "manufacturer_id",
	"doc_type", "priority", "status", "created_at", "updated_at",
}

func newDocumentRepo(pool *pgxpool.Pool) *Repo[domain.Document, string] {
	return NewRepo[domain.Document, string](pool, "core.documents", documentColumns,
		func(d domain.Document) map[string]any {
			return map[string]any{
				"id": d.ID, "content_hash": d.ContentHash, "filename": d.Filename,
				"byte_size": d.ByteSize, "manufacturer_id": d.ManufacturerID,
				"doc_type": d.Type, "priority": d.Priority, "status": d.Status,
				"created_at": d.CreatedAt, "updated_at": d.UpdatedAt,
			}
		},
		func(rows pgx.Rows) (domain.Document, error) {
			var d domain.Document
			err := rows.Scan(&d.ID, &d.ContentHash, &d.Filename, &d.ByteSize, &d.ManufacturerID,
				&d.Type, &d.Priority, &d.Status, &d.CreatedAt, &d.UpdatedAt)
			return d, err
		},
		WithFilterableColumns[domain.Document, string]("status", "manufacturer_id", "doc_type"),
	)
}
