// Package stages implements the fifteen stage processors of spec §4.E,
// each satisfying internal/processor.Processor so it can run under
// processor.Base's lease/precheck/panic-safety wrapper, generalized from
// the teacher's own per-stage fn.Stage functions in engine/ingest.go
// (Validate, Parse, ChunkDoc, NewEmbed, NewStore) into one struct per
// pipeline stage.
//
// Parsing a source PDF into pages, tables, vector graphics, and raster
// images is itself out of scope (non-goal: "PDF extraction/OCR/vision
// internals"). Every stage that needs this reads it through a narrow
// extractor interface instead, the same seam internal/enrich uses for
// vision/embedding/video-metadata collaborators — a production build
// wires a real PDF library behind these; this package only depends on
// the interface.
package stages

import "context"

// PageText is one page's worth of text pulled from a source document.
type PageText struct {
	Page int
	Text string
}

// TextExtractor pulls page-indexed text out of a raw document. Pages
// with no extractable text are still represented; the stage decides how
// to flag them (spec §4.E: image-only pages must never fail the stage).
type TextExtractor interface {
	ExtractText(ctx context.Context, raw []byte) ([]PageText, error)
}

// ExtractedTable is a table found on a page, before it is persisted.
type ExtractedTable struct {
	Page               int
	IndexOnPage        int
	DataRows           [][]string
	MarkdownRendering  string
	Caption            string
	SurroundingContext string
}

// TableExtractor finds tables in a raw document.
type TableExtractor interface {
	ExtractTables(ctx context.Context, raw []byte) ([]ExtractedTable, error)
}

// SVGAsset is a vector graphic found on a page.
type SVGAsset struct {
	Page   int
	Markup string
}

// SVGExtractor finds embedded vector graphics in a raw document.
type SVGExtractor interface {
	ExtractSVGs(ctx context.Context, raw []byte) ([]SVGAsset, error)
}

// ExtractedImage is a raster image found on a page, before hashing and
// storage.
type ExtractedImage struct {
	Page  int
	Bytes []byte
	Ext   string // file extension, e.g. "png", used to build the storage key
}

// ImageExtractor finds embedded raster images in a raw document.
type ImageExtractor interface {
	ExtractImages(ctx context.Context, raw []byte) ([]ExtractedImage, error)
}
