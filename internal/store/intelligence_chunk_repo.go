package store

import (
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

var intelligenceChunkColumns = []string{
	"id", "document_id", "source_chunk_id", "text", "page_start", "page_end",
	"fingerprint", "status", "metadata", "created_at",
}

func newIntelligenceChunkRepo(pool *pgxpool.Pool) *Repo[domain.IntelligenceChunk, string] {
	return NewRepo[domain.IntelligenceChunk, string](pool, "intelligence.intelligence_chunks", intelligenceChunkColumns,
		func(c domain.IntelligenceChunk) map[string]any {
			meta, _ := json.Marshal(c.Metadata)
			return map[string]any{
				"id": c.ID, "document_id": c.DocumentID, "source_chunk_id": c.SourceChunkID,
				"text": c.Text, "page_start": c.PageStart, "page_end": c.PageEnd,
				"fingerprint": c.Fingerprint, "status": c.Status, "metadata": meta,
				"created_at": c.CreatedAt,
			}
		},
		func(rows pgx.Rows) (domain.IntelligenceChunk, error) {
			var c domain.IntelligenceChunk
			var raw []byte
			if err := rows.Scan(&c.ID, &c.DocumentID, &c.SourceChunkID, &c.Text, &c.PageStart, &c.PageEnd,
				&c.Fingerprint, &c.Status, &raw, &c.CreatedAt); err != nil {
				return c, err
			}
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &c.Metadata)
			}
			return c, nil
		},
		WithFilterableColumns[domain.IntelligenceChunk, string]("document_id", "status"),
	)
}
