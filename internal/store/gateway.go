package store

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

// Gateway is the persistence gateway: the single entry point every stage
// processor and the retry orchestrator use to read and write relational
// state, across the core/content/intelligence/system schemas.
type Gateway struct {
	pool *pgxpool.Pool

	Documents          *Repo[domain.Document, string]
	Chunks             *Repo[domain.ContentChunk, string]
	IntelligenceChunks *Repo[domain.IntelligenceChunk, string]
	Images             *Repo[domain.Image, string]
	Extractions        *Repo[domain.StructuredExtraction, string]
	Links              *Repo[domain.Link, string]
	StructuredTables   *Repo[domain.StructuredTable, string]
	Videos             *Repo[domain.Video, string]
	ErrorCodes         *Repo[domain.ErrorCode, string]
	Manufacturers      *Repo[domain.Manufacturer, string]
	Products           *Repo[domain.Product, string]
	ProductSeries      *Repo[domain.ProductSeries, string]
	BatchTasks         *Repo[domain.BatchTask, string]
	AuditLog           *Repo[domain.AuditEntry, string]
}

// Open connects to Postgres and wires the typed repositories.
func Open(ctx context.Context, dsn string) (*Gateway, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Gateway{
		pool:               pool,
		Documents:          newDocumentRepo(pool),
		Chunks:             newChunkRepo(pool),
		IntelligenceChunks: newIntelligenceChunkRepo(pool),
		Images:             newImageRepo(pool),
		Extractions:        newExtractionRepo(pool),
		Links:              newLinkRepo(pool),
		StructuredTables:   newStructuredTableRepo(pool),
		Videos:             newVideoRepo(pool),
		ErrorCodes:         newErrorCodeRepo(pool),
		Manufacturers:      newManufacturerRepo(pool),
		Products:           newProductRepo(pool),
		ProductSeries:      newProductSeriesRepo(pool),
		BatchTasks:         newBatchTaskRepo(pool),
		AuditLog:           newAuditEntryRepo(pool),
	}, nil
}

// Close releases the connection pool.
func (g *Gateway) Close() { g.pool.Close() }

// Pool exposes the underlying connection pool so a caller can start its
// own transaction (the Batch Operations Engine's synchronous path is the
// only caller today — every other write goes through a typed Repo or a
// Gateway method).
func (g *Gateway) Pool() *pgxpool.Pool { return g.pool }

// AdvisoryLockKey reduces a (document_id, stage_name) pair to a stable
// 64-bit integer for Postgres advisory locks, the relational analogue of
// a per-document-stage mutex.
func AdvisoryLockKey(documentID string, stage domain.StageName) int64 {
	h := fnv.New64a()
	h.Write([]byte(documentID))
	h.Write([]byte{0})
	h.Write([]byte(stage))
	return int64(h.Sum64())
}

// TryAdvisoryLock attempts to acquire a session-level advisory lock on
// conn without blocking. Returns false if another session already holds
// it — the caller should treat that as domain.ErrAdvisoryLockHeld.
func (g *Gateway) TryAdvisoryLock(ctx context.Context, conn *pgxpool.Conn, key int64) (bool, error) {
	var acquired bool
	err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired)
	return acquired, err
}

// ReleaseAdvisoryLock releases a previously acquired advisory lock.
func (g *Gateway) ReleaseAdvisoryLock(ctx context.Context, conn *pgxpool.Conn, key int64) error {
	_, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", key)
	return err
}

// AcquireConn checks out a dedicated connection for advisory-lock use;
// advisory locks are session-scoped so they must be held on one
// connection for the duration of the guarded operation.
func (g *Gateway) AcquireConn(ctx context.Context) (*pgxpool.Conn, error) {
	return g.pool.Acquire(ctx)
}

// UpsertDocumentByHash inserts a document or returns the existing row for
// the same content hash, atomically. Content hash is the document's
// natural key: re-uploading identical bytes must not create a duplicate
// (spec property: idempotent upload).
func (g *Gateway) UpsertDocumentByHash(ctx context.Context, doc domain.Document) (domain.Document, bool, error) {
	const query = `
INSERT INTO core.documents (id, content_hash, filename, byte_size, manufacturer_id, doc_type, priority, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
ON CONFLICT (content_hash) DO UPDATE SET content_hash = core.documents.content_hash
RETURNING id, content_hash, filename, byte_size, manufacturer_id, doc_type, priority, status, created_at, updated_at, (xmax = 0) AS inserted`

	now := time.Now().UTC()
	rows, err := g.pool.Query(ctx, query,
		doc.ID, doc.ContentHash, doc.Filename, doc.ByteSize, doc.ManufacturerID,
		doc.Type, doc.Priority, doc.Status, now)
	if err != nil {
		return domain.Document{}, false, fmt.Errorf("upsert document: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return domain.Document{}, false, fmt.Errorf("upsert document: no row returned")
	}

	var d domain.Document
	var inserted bool
	if err := rows.Scan(&d.ID, &d.ContentHash, &d.Filename, &d.ByteSize, &d.ManufacturerID,
		&d.Type, &d.Priority, &d.Status, &d.CreatedAt, &d.UpdatedAt, &inserted); err != nil {
		return domain.Document{}, false, fmt.Errorf("scan upserted document: %w", err)
	}
	return d, inserted, nil
}

// GetImageByHash looks up a previously stored image by its content hash,
// used by image_processing to skip re-uploading byte-identical images
// that recur across manuals from the same manufacturer.
func (g *Gateway) GetImageByHash(ctx context.Context, fileHash string) (domain.Image, error) {
	const query = `SELECT id, document_id, page, file_hash, storage_key, ocr_text, ai_description, visual_embedding_id, created_at
FROM content.images WHERE file_hash = $1 LIMIT 1`
	var img domain.Image
	err := g.pool.QueryRow(ctx, query, fileHash).Scan(
		&img.ID, &img.DocumentID, &img.Page, &img.FileHash, &img.StorageKey,
		&img.OCRText, &img.AIDescription, &img.VisualEmbeddingID, &img.CreatedAt)
	if err != nil {
		return domain.Image{}, err
	}
	return img, nil
}

// UpsertStructuredTable inserts a table row or returns the existing one
// for the same (document_id, page, index_on_page), so a re-run of
// table_extraction after a partial failure does not duplicate rows.
func (g *Gateway) UpsertStructuredTable(ctx context.Context, t domain.StructuredTable) (domain.StructuredTable, error) {
	data, err := json.Marshal(t.DataRows)
	if err != nil {
		return domain.StructuredTable{}, fmt.Errorf("marshal data_rows: %w", err)
	}
	const query = `
INSERT INTO content.structured_tables (id, document_id, page, index_on_page, data_rows, markdown_rendering, caption, surrounding_context, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (document_id, page, index_on_page) DO UPDATE SET document_id = content.structured_tables.document_id
RETURNING id, document_id, page, index_on_page, data_rows, markdown_rendering, caption, surrounding_context, created_at`

	rows, err := g.pool.Query(ctx, query,
		t.ID, t.DocumentID, t.Page, t.IndexOnPage, data, t.MarkdownRendering, t.Caption, t.SurroundingContext, time.Now().UTC())
	if err != nil {
		return domain.StructuredTable{}, fmt.Errorf("upsert structured table: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return domain.StructuredTable{}, fmt.Errorf("upsert structured table: no row returned")
	}

	var out domain.StructuredTable
	var raw []byte
	if err := rows.Scan(&out.ID, &out.DocumentID, &out.Page, &out.IndexOnPage, &raw,
		&out.MarkdownRendering, &out.Caption, &out.SurroundingContext, &out.CreatedAt); err != nil {
		return domain.StructuredTable{}, fmt.Errorf("scan upserted structured table: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out.DataRows); err != nil {
			return domain.StructuredTable{}, fmt.Errorf("unmarshal data_rows: %w", err)
		}
	}
	return out, nil
}

// UpsertIntelligenceChunk inserts an IntelligenceChunk or returns the
// existing row for the same (document_id, fingerprint), implementing
// chunk_prep's within-document deduplication invariant.
func (g *Gateway) UpsertIntelligenceChunk(ctx context.Context, c domain.IntelligenceChunk) (domain.IntelligenceChunk, bool, error) {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return domain.IntelligenceChunk{}, false, fmt.Errorf("marshal metadata: %w", err)
	}
	const query = `
INSERT INTO intelligence.intelligence_chunks (id, document_id, source_chunk_id, text, page_start, page_end, fingerprint, status, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (document_id, fingerprint) DO UPDATE SET document_id = intelligence.intelligence_chunks.document_id
RETURNING id, document_id, source_chunk_id, text, page_start, page_end, fingerprint, status, metadata, created_at, (xmax = 0) AS inserted`

	rows, err := g.pool.Query(ctx, query,
		c.ID, c.DocumentID, c.SourceChunkID, c.Text, c.PageStart, c.PageEnd,
		c.Fingerprint, c.Status, meta, time.Now().UTC())
	if err != nil {
		return domain.IntelligenceChunk{}, false, fmt.Errorf("upsert intelligence chunk: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return domain.IntelligenceChunk{}, false, fmt.Errorf("upsert intelligence chunk: no row returned")
	}

	var out domain.IntelligenceChunk
	var raw []byte
	var inserted bool
	if err := rows.Scan(&out.ID, &out.DocumentID, &out.SourceChunkID, &out.Text, &out.PageStart, &out.PageEnd,
		&out.Fingerprint, &out.Status, &raw, &out.CreatedAt, &inserted); err != nil {
		return domain.IntelligenceChunk{}, false, fmt.Errorf("scan upserted intelligence chunk: %w", err)
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out.Metadata)
	}
	return out, inserted, nil
}

// FindOrCreateVideo resolves a (platform, platform_video_id) pair to a
// Video row, creating it on first encounter — the link_extraction
// stage's sole write path for videos, shared across every document that
// references the same video.
func (g *Gateway) FindOrCreateVideo(ctx context.Context, v domain.Video) (domain.Video, error) {
	const query = `
INSERT INTO content.videos (id, platform, platform_video_id, title, duration_seconds, thumbnail_url, channel_title, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (platform, platform_video_id) DO UPDATE SET platform = content.videos.platform
RETURNING id, platform, platform_video_id, title, duration_seconds, thumbnail_url, channel_title, manufacturer_ids, series_ids, created_at`

	rows, err := g.pool.Query(ctx, query,
		v.ID, v.Platform, v.PlatformVideoID, v.Title, v.DurationSeconds, v.ThumbnailURL, v.ChannelTitle, time.Now().UTC())
	if err != nil {
		return domain.Video{}, fmt.Errorf("find or create video: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return domain.Video{}, fmt.Errorf("find or create video: no row returned")
	}

	var out domain.Video
	if err := rows.Scan(&out.ID, &out.Platform, &out.PlatformVideoID, &out.Title,
		&out.DurationSeconds, &out.ThumbnailURL, &out.ChannelTitle,
		&out.ManufacturerIDs, &out.SeriesIDs, &out.CreatedAt); err != nil {
		return domain.Video{}, fmt.Errorf("scan found or created video: %w", err)
	}
	return out, nil
}

// AttachVideoTaxonomy denormalizes manufacturerID and seriesID onto a
// video's manufacturer_ids/series_ids arrays (spec §3: videos are
// auto-linked to the document's manufacturer and series, denormalized
// for unified search), appending only when the id is new so a video
// referenced by documents from two different manufacturers ends up
// linked to both. Either id may be empty; an empty one is skipped.
func (g *Gateway) AttachVideoTaxonomy(ctx context.Context, videoID, manufacturerID, seriesID string) error {
	const query = `
UPDATE content.videos SET
manufacturer_ids = CASE WHEN $2 = '' OR $2 = ANY(manufacturer_ids) THEN manufacturer_ids ELSE array_append(manufacturer_ids, $2) END,
series_ids = CASE WHEN $3 = '' OR $3 = ANY(series_ids) THEN series_ids ELSE array_append(series_ids, $3) END
WHERE id = $1`
	_, err := g.pool.Exec(ctx, query, videoID, manufacturerID, seriesID)
	if err != nil {
		return fmt.Errorf("attach video taxonomy: %w", err)
	}
	return nil
}

// FindOrCreateManufacturer resolves a manufacturer by name, creating it
// on first encounter — classification's anchor for attaching a document
// to the core.* hierarchy.
func (g *Gateway) FindOrCreateManufacturer(ctx context.Context, id, name string) (domain.Manufacturer, error) {
	const query = `
INSERT INTO core.manufacturers (id, name) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET name = core.manufacturers.name
RETURNING id, name`
	var out domain.Manufacturer
	err := g.pool.QueryRow(ctx, query, id, name).Scan(&out.ID, &out.Name)
	if err != nil {
		return domain.Manufacturer{}, fmt.Errorf("find or create manufacturer: %w", err)
	}
	return out, nil
}

// FindOrCreateProduct resolves a product by (manufacturer_id, model),
// creating it on first encounter — series_detection's write anchor for
// the product a series is attached to.
func (g *Gateway) FindOrCreateProduct(ctx context.Context, id, manufacturerID, name, model string) (domain.Product, error) {
	const query = `
INSERT INTO core.products (id, manufacturer_id, name, model) VALUES ($1, $2, $3, $4)
ON CONFLICT (manufacturer_id, model) DO UPDATE SET name = core.products.name
RETURNING id, manufacturer_id, name, model`
	var out domain.Product
	err := g.pool.QueryRow(ctx, query, id, manufacturerID, name, model).Scan(&out.ID, &out.ManufacturerID, &out.Name, &out.Model)
	if err != nil {
		return domain.Product{}, fmt.Errorf("find or create product: %w", err)
	}
	return out, nil
}

// FindOrCreateProductSeries resolves a series by (manufacturer_id, name),
// creating it on first encounter — series_detection's write anchor.
func (g *Gateway) FindOrCreateProductSeries(ctx context.Context, id, manufacturerID, name string) (domain.ProductSeries, error) {
	const query = `
INSERT INTO core.product_series (id, manufacturer_id, name) VALUES ($1, $2, $3)
ON CONFLICT (manufacturer_id, name) DO UPDATE SET name = core.product_series.name
RETURNING id, manufacturer_id, name`
	var out domain.ProductSeries
	err := g.pool.QueryRow(ctx, query, id, manufacturerID, name).Scan(&out.ID, &out.ManufacturerID, &out.Name)
	if err != nil {
		return domain.ProductSeries{}, fmt.Errorf("find or create product series: %w", err)
	}
	return out, nil
}

// ReplaceContentChunks atomically replaces every ContentChunk belonging
// to a document, the idempotency anchor for text_extraction: a retried
// run after a partial failure must not violate the (document_id,
// ordinal) uniqueness constraint or leave stale chunks from a half
// completed prior attempt.
func (g *Gateway) ReplaceContentChunks(ctx context.Context, documentID string, chunks []domain.ContentChunk) error {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replace content chunks: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM content.content_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("replace content chunks: delete existing: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`INSERT INTO content.content_chunks (id, document_id, ordinal, page_start, page_end, chunk_type, text, confidence, language, image_only, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			c.ID, c.DocumentID, c.Ordinal, c.PageStart, c.PageEnd, c.Type, c.Text, c.Confidence, c.Language, c.ImageOnly, c.CreatedAt)
	}
	br := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("replace content chunks: insert: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("replace content chunks: close batch: %w", err)
	}

	return tx.Commit(ctx)
}

// UpsertExtraction inserts a structured-extraction row or overwrites the
// existing one for the same (source_type, source_id, extraction_type),
// the anchor parts_extraction uses so re-running against the same chunk
// replaces rather than duplicates its extracted parts list.
func (g *Gateway) UpsertExtraction(ctx context.Context, e domain.StructuredExtraction) (domain.StructuredExtraction, error) {
	data, err := json.Marshal(e.ExtractedData)
	if err != nil {
		return domain.StructuredExtraction{}, fmt.Errorf("marshal extracted_data: %w", err)
	}
	const query = `
INSERT INTO intelligence.structured_extractions (id, source_type, source_id, extraction_type, extracted_data, confidence, validation_status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (source_type, source_id, extraction_type)
DO UPDATE SET extracted_data = EXCLUDED.extracted_data, confidence = EXCLUDED.confidence
RETURNING id, source_type, source_id, extraction_type, extracted_data, confidence, validation_status, created_at`

	rows, err := g.pool.Query(ctx, query,
		e.ID, e.SourceType, e.SourceID, e.ExtractionType, data, e.Confidence, e.ValidationStatus, time.Now().UTC())
	if err != nil {
		return domain.StructuredExtraction{}, fmt.Errorf("upsert extraction: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return domain.StructuredExtraction{}, fmt.Errorf("upsert extraction: no row returned")
	}

	var out domain.StructuredExtraction
	var raw []byte
	if err := rows.Scan(&out.ID, &out.SourceType, &out.SourceID, &out.ExtractionType, &raw, &out.Confidence, &out.ValidationStatus, &out.CreatedAt); err != nil {
		return domain.StructuredExtraction{}, fmt.Errorf("scan upserted extraction: %w", err)
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out.ExtractedData)
	}
	return out, nil
}

// UpsertErrorCode inserts a fault/error code row or merges onto the
// existing one for the same (code, manufacturer_id, product_id,
// document_id, video_id), the anchor metadata_extraction relies on to
// keep a retried run from duplicating a code it already persisted.
func (g *Gateway) UpsertErrorCode(ctx context.Context, e domain.ErrorCode) (domain.ErrorCode, error) {
	const query = `
INSERT INTO intelligence.error_codes (id, code, manufacturer_id, product_id, document_id, video_id, description, solution, confidence, ai_extracted, verified, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (code, manufacturer_id, product_id, document_id, video_id)
DO UPDATE SET description = EXCLUDED.description, solution = EXCLUDED.solution,
              confidence = EXCLUDED.confidence, ai_extracted = EXCLUDED.ai_extracted
RETURNING id, code, manufacturer_id, product_id, document_id, video_id, description, solution, confidence, ai_extracted, verified, created_at`

	rows, err := g.pool.Query(ctx, query,
		e.ID, e.Code, e.ManufacturerID, e.ProductID, e.DocumentID, e.VideoID,
		e.Description, e.Solution, e.Confidence, e.AIExtracted, e.Verified, time.Now().UTC())
	if err != nil {
		return domain.ErrorCode{}, fmt.Errorf("upsert error code: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return domain.ErrorCode{}, fmt.Errorf("upsert error code: no row returned")
	}

	var out domain.ErrorCode
	if err := rows.Scan(&out.ID, &out.Code, &out.ManufacturerID, &out.ProductID, &out.DocumentID, &out.VideoID,
		&out.Description, &out.Solution, &out.Confidence, &out.AIExtracted, &out.Verified, &out.CreatedAt); err != nil {
		return domain.ErrorCode{}, fmt.Errorf("scan upserted error code: %w", err)
	}
	return out, nil
}

// CreateEmbeddings bulk-inserts embedding metadata rows (the vector
// payload itself lives in the vector store; this table records which
// source chunk/image/table an embedding id refers back to).
func (g *Gateway) CreateEmbeddings(ctx context.Context, embeddings []domain.Embedding) error {
	batch := &pgx.Batch{}
	for _, e := range embeddings {
		batch.Queue(`INSERT INTO intelligence.embeddings (id, source_type, source_id, dimension, model_name, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (source_type, source_id, model_name) DO UPDATE SET dimension = EXCLUDED.dimension`,
			e.ID, e.SourceType, e.SourceID, e.Dimension, e.ModelName, time.Now().UTC())
	}
	br := g.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range embeddings {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("create embeddings: %w", err)
		}
	}
	return nil
}
