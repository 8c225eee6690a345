package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/kunzeritter/manual2vector/internal/domain"
	"github.com/kunzeritter/manual2vector/internal/extract"
	"github.com/kunzeritter/manual2vector/internal/store"
)

// docTypeKeywords maps a keyword found in the filename or document text
// to the document type it signals. Checked in order; first match wins.
var docTypeKeywords = []struct {
	keyword string
	docType domain.DocType
}{
	{"service bulletin", domain.DocBulletin},
	{"bulletin", domain.DocBulletin},
	{"cpmd", domain.DocCPMD},
	{"parts catalog", domain.DocPartsCatalog},
	{"parts list", domain.DocPartsCatalog},
	{"service manual", domain.DocServiceManual},
	{"repair manual", domain.DocServiceManual},
}

// Classification is the classification stage (spec §4.E): sets
// document_type, manufacturer_id, and priority_level. Priority is
// derived deterministically from type.
type Classification struct {
	deps Deps
}

func NewClassification(deps Deps) *Classification { return &Classification{deps: deps} }

func (c *Classification) Stage() domain.StageName { return domain.StageClassification }

func (c *Classification) Precheck(ctx context.Context, doc domain.Document) (bool, error) {
	return c.deps.alreadyDone(ctx, doc.ID, c.Stage())
}

func (c *Classification) Process(ctx context.Context, doc domain.Document) (map[string]any, error) {
	chunks, err := c.deps.Gateway.Chunks.List(ctx, store.ListOpts{
		Filter: map[string]any{"document_id": doc.ID},
		Limit:  10000,
	})
	if err != nil {
		return nil, fmt.Errorf("classification: list chunks: %w", err)
	}

	var sample strings.Builder
	sample.WriteString(doc.Filename)
	for i, chunk := range chunks {
		if i >= 20 {
			break // classification only needs a sample, not the whole document
		}
		sample.WriteString(" ")
		sample.WriteString(chunk.Text)
	}
	text := sample.String()

	docType := classifyDocType(text)

	var manufacturerID string
	if match := extract.ExtractBestManufacturer(text); match != nil {
		mfr, err := c.deps.Gateway.FindOrCreateManufacturer(ctx, newID(), match.Manufacturer)
		if err != nil {
			return nil, fmt.Errorf("classification: find or create manufacturer: %w", err)
		}
		manufacturerID = mfr.ID
		if c.deps.Graph != nil {
			if err := c.deps.Graph.SaveManufacturer(ctx, mfr.ID, mfr.Name); err != nil {
				return nil, fmt.Errorf("classification: save manufacturer to graph: %w", err)
			}
		}
	}

	doc.Type = docType
	doc.ManufacturerID = manufacturerID
	doc.Priority = domain.PriorityForDocType(docType)
	if _, err := c.deps.Gateway.Documents.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("classification: update document: %w", err)
	}
	return nil, nil
}

func classifyDocType(text string) domain.DocType {
	lower := strings.ToLower(text)
	for _, kw := range docTypeKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.docType
		}
	}
	return domain.DocOther
}
