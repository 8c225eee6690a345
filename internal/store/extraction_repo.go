package store

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

var extractionColumns = []string{
	"id", "source_type", "source_id", "extraction_type",
	"extracted_data", "confidence", "validation_status", "created_at",
}

func newExtractionRepo(pool *pgxpool.Pool) *Repo[domain.StructuredExtraction, string] {
	return NewRepo[domain.StructuredExtraction, string](pool, "intelligence.structured_extractions", extractionColumns,
		func(e domain.StructuredExtraction) map[string]any {
			data, _ := json.Marshal(e.ExtractedData)
			return map[string]any{
				"id": e.ID, "source_type": e.SourceType, "source_id": e.SourceID,
				"extraction_type": e.ExtractionType, "extracted_data": data,
				"confidence": e.Confidence, "validation_status": e.ValidationStatus,
				"created_at": e.CreatedAt,
			}
		},
		func(rows pgx.Rows) (domain.StructuredExtraction, error) {
			var e domain.StructuredExtraction
			var raw []byte
			if err := rows.Scan(&e.ID, &e.SourceType, &e.SourceID, &e.ExtractionType,
				&raw, &e.Confidence, &e.ValidationStatus, &e.CreatedAt); err != nil {
				return e, err
			}
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &e.ExtractedData); err != nil {
					return e, fmt.Errorf("unmarshal extracted_data: %w", err)
				}
			}
			return e, nil
		},
		WithFilterableColumns[domain.StructuredExtraction, string]("source_type", "extraction_type", "validation_status"),
	)
}
