// Package domain defines the core entities of the ingestion pipeline: the
// documents it processes, the per-stage lifecycle records that make
// processing resumable, and the text/image/extraction rows a document
// produces on its way to becoming a queryable knowledge base.
package domain

import "time"

// DocType tags the kind of technical document ingested.
type DocType string

const (
	DocServiceManual  DocType = "service_manual"
	DocPartsCatalog   DocType = "parts_catalog"
	DocBulletin       DocType = "bulletin"
	DocCPMD           DocType = "cpmd"
	DocOther          DocType = "other"
)

// PriorityForDocType implements the classification stage's fixed mapping
// from document type to processing priority (1 highest).
func PriorityForDocType(t DocType) int {
	switch t {
	case DocBulletin:
		return 1
	case DocCPMD:
		return 2
	case DocServiceManual:
		return 3
	case DocPartsCatalog:
		return 4
	default:
		return 5
	}
}

// DocumentStatus summarizes a document's overall processing state.
type DocumentStatus string

const (
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
	DocumentArchived   DocumentStatus = "archived"
)

// Document is the logical unit ingested by the pipeline.
type Document struct {
	ID             string
	ContentHash    string // sha256 of raw bytes, dedup anchor
	Filename       string
	ByteSize       int64
	ManufacturerID string // empty until classification
	ProductIDs     []string
	Type           DocType
	Priority       int
	Status         DocumentStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StageName is one of the 15 fixed pipeline stages.
type StageName string

const (
	StageUpload             StageName = "upload"
	StageTextExtraction     StageName = "text_extraction"
	StageTableExtraction    StageName = "table_extraction"
	StageSVGProcessing      StageName = "svg_processing"
	StageImageProcessing    StageName = "image_processing"
	StageVisualEmbedding    StageName = "visual_embedding"
	StageLinkExtraction     StageName = "link_extraction"
	StageChunkPrep          StageName = "chunk_prep"
	StageClassification     StageName = "classification"
	StageMetadataExtraction StageName = "metadata_extraction"
	StagePartsExtraction    StageName = "parts_extraction"
	StageSeriesDetection    StageName = "series_detection"
	StageStorage            StageName = "storage"
	StageEmbedding          StageName = "embedding"
	StageSearchIndexing     StageName = "search_indexing"
)

// AllStages lists the 15 stages in a stable, dependency-respecting order
// (a valid topological sort of the graph in spec §4.E). Concurrency
// decisions live in the pipeline executor, not in this ordering.
var AllStages = []StageName{
	StageUpload,
	StageTextExtraction,
	StageTableExtraction,
	StageSVGProcessing,
	StageImageProcessing,
	StageVisualEmbedding,
	StageLinkExtraction,
	StageChunkPrep,
	StageClassification,
	StageMetadataExtraction,
	StagePartsExtraction,
	StageSeriesDetection,
	StageStorage,
	StageEmbedding,
	StageSearchIndexing,
}

// StageDependencies maps each stage to the stages that must be
// completed (or skipped) before it may run.
var StageDependencies = map[StageName][]StageName{
	StageUpload:             nil,
	StageTextExtraction:     {StageUpload},
	StageTableExtraction:    {StageTextExtraction},
	StageSVGProcessing:      {StageTextExtraction},
	StageImageProcessing:    {StageSVGProcessing},
	StageVisualEmbedding:    {StageImageProcessing},
	StageLinkExtraction:     {StageImageProcessing},
	StageChunkPrep:          {StageLinkExtraction},
	StageClassification:     {StageChunkPrep},
	StageMetadataExtraction: {StageClassification},
	StagePartsExtraction:    {StageMetadataExtraction},
	StageSeriesDetection:    {StagePartsExtraction},
	StageStorage:            {StageSeriesDetection},
	StageEmbedding:          {StageStorage},
	StageSearchIndexing:     {StageEmbedding},
}

// StageState is the lifecycle of a single (document, stage) pair.
type StageState string

const (
	StagePending    StageState = "pending"
	StageInProgress StageState = "in_progress"
	StageCompleted  StageState = "completed"
	StageFailed     StageState = "failed"
	StageSkipped    StageState = "skipped"
)

// StageStatus is the (document_id, stage_name, state) triple plus the
// bookkeeping needed for leasing and retry accounting (spec §3, §4.B).
type StageStatus struct {
	DocumentID      string
	Stage           StageName
	State           StageState
	Attempt         int
	LeaseToken      string
	LeasedUntil     time.Time
	FirstAttemptAt  time.Time
	LastTransition  time.Time
	LastErrorRef    string
	// Metadata is stage-reported detail attached on completion, e.g.
	// visual_embedding's {"capped": true} when the per-run image cap
	// truncated the pending set.
	Metadata map[string]any
}

// LeaseExpired reports whether an in_progress lease has expired relative to now.
func (s StageStatus) LeaseExpired(now time.Time) bool {
	return s.State == StageInProgress && now.After(s.LeasedUntil)
}

// ChunkType tags the kind of raw content chunk.
type ChunkType string

const (
	ChunkBody    ChunkType = "body"
	ChunkHeading ChunkType = "heading"
	ChunkTable   ChunkType = "table"
	ChunkCaption ChunkType = "caption"
)

// ContentChunk is raw text produced by text_extraction. Never mutated
// after creation (spec §3).
type ContentChunk struct {
	ID         string
	DocumentID string
	Ordinal    int
	PageStart  int
	PageEnd    int
	Type       ChunkType
	Text       string
	Confidence float64
	Language   string // ISO 639-1, or "unk"
	ImageOnly  bool
	CreatedAt  time.Time
}

// IntelligenceProcessingStatus is the embedding-readiness state of an
// IntelligenceChunk.
type IntelligenceProcessingStatus string

const (
	IntelligencePending   IntelligenceProcessingStatus = "pending"
	IntelligenceCompleted IntelligenceProcessingStatus = "completed"
	IntelligenceFailed    IntelligenceProcessingStatus = "failed"
)

// IntelligenceChunk is the fingerprinted, deduplicated, AI-ready
// projection of ContentChunks (spec §3, GLOSSARY).
type IntelligenceChunk struct {
	ID             string
	DocumentID     string
	SourceChunkID  string // weak reference, not ownership
	Text           string
	PageStart      int
	PageEnd        int
	Fingerprint    string // sha256 of normalized text
	Status         IntelligenceProcessingStatus
	Metadata       map[string]string
	CreatedAt      time.Time
}

// Image is an extracted raster/vector asset, deduplicated across
// documents by content hash.
type Image struct {
	ID                string
	DocumentID        string
	Page              int
	FileHash          string // unique across all images
	StorageKey        string
	OCRText           string
	AIDescription     string
	VisualEmbeddingID string
	CreatedAt         time.Time
}

// EmbeddingSourceType is the kind of row an Embedding vector was computed over.
type EmbeddingSourceType string

const (
	EmbeddingSourceTextChunk EmbeddingSourceType = "text_chunk"
	EmbeddingSourceImage     EmbeddingSourceType = "image"
	EmbeddingSourceTable     EmbeddingSourceType = "table"
)

// Embedding is a vector computed over a source row. Vector length must
// equal Dimension, and SourceID must reference an existing row of
// SourceType (spec §3 invariant).
type Embedding struct {
	ID         string
	SourceType EmbeddingSourceType
	SourceID   string
	Vector     []float32
	ModelName  string
	Dimension  int
	CreatedAt  time.Time
}

// ExtractionType tags what kind of structured data was extracted.
type ExtractionType string

const (
	ExtractionProductSpecs    ExtractionType = "product_specs"
	ExtractionErrorCodes      ExtractionType = "error_codes"
	ExtractionServiceManual   ExtractionType = "service_manual"
	ExtractionPartsList       ExtractionType = "parts_list"
	ExtractionTroubleshooting ExtractionType = "troubleshooting"
)

// ValidationStatus is the review state of a StructuredExtraction.
type ValidationStatus string

const (
	ValidationPending   ValidationStatus = "pending"
	ValidationValidated ValidationStatus = "validated"
	ValidationRejected  ValidationStatus = "rejected"
)

// StructuredExtraction is a typed, confidence-scored extraction from a
// source row (spec §3).
type StructuredExtraction struct {
	ID               string
	SourceType       EmbeddingSourceType
	SourceID         string
	ExtractionType   ExtractionType
	ExtractedData    map[string]any
	Confidence       float64
	ValidationStatus ValidationStatus
	CreatedAt        time.Time
}

// ErrorCode is a normalized error/fault code with provenance. The
// uniqueness tuple is (Code, ManufacturerID, ProductID, DocumentID,
// VideoID) — the same code is allowed to recur with different
// provenance (spec §3).
type ErrorCode struct {
	ID             string
	Code           string
	ManufacturerID string
	ProductID      string
	DocumentID     string
	VideoID        string
	Description    string
	Solution       string
	Confidence     float64
	AIExtracted    bool
	Verified       bool
	CreatedAt      time.Time
}

// LinkCategory classifies an extracted hyperlink.
type LinkCategory string

const (
	LinkVideo    LinkCategory = "video"
	LinkSupport  LinkCategory = "support"
	LinkDownload LinkCategory = "download"
	LinkTutorial LinkCategory = "tutorial"
	LinkExternal LinkCategory = "external"
	LinkEmail    LinkCategory = "email"
	LinkPhone    LinkCategory = "phone"
)

// Link is a hyperlink or annotation extracted from a document.
type Link struct {
	ID              string
	DocumentID      string
	URL             string
	Category        LinkCategory
	ConfidenceScore float64
	VideoID         string // back-reference, set if Category == LinkVideo
	CreatedAt       time.Time
}

// Video is a video reference, shared across documents, created on first
// encounter of its platform+platform video id (spec §3).
type Video struct {
	ID              string
	Platform        string
	PlatformVideoID string
	Title           string
	DurationSeconds int
	ThumbnailURL    string
	ChannelTitle    string
	ManufacturerIDs []string // denormalized, unified search
	SeriesIDs       []string // denormalized, unified search
	CreatedAt       time.Time
}

// StructuredTable is a table emitted by table_extraction. Idempotency
// anchor is (DocumentID, Page, IndexOnPage) — the same page's Nth table
// extracted twice collapses to one row (spec §4.E).
type StructuredTable struct {
	ID                 string
	DocumentID         string
	Page               int
	IndexOnPage        int
	DataRows           [][]string
	MarkdownRendering  string
	Caption            string
	SurroundingContext string
	CreatedAt          time.Time
}

// Manufacturer, Product, and ProductSeries are the core.* hierarchy a
// document's classification and series_detection stages attach to.
type Manufacturer struct {
	ID   string
	Name string
}

type Product struct {
	ID             string
	ManufacturerID string
	Name           string
	Model          string
}

type ProductSeries struct {
	ID             string
	ManufacturerID string
	Name           string
}
