package stages

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/kunzeritter/manual2vector/internal/domain"
	"github.com/kunzeritter/manual2vector/internal/enrich"
	"github.com/kunzeritter/manual2vector/internal/extract"
	"github.com/kunzeritter/manual2vector/internal/store"
)

// patternConfidence is the confidence assigned to a manufacturer-pattern
// regex hit, above the 0.6 acceptance threshold.
const patternConfidence = 0.85

// visionConfidenceFloor is the minimum confidence a vision-extracted code
// must carry to be accepted, matching the pattern-match threshold.
const visionConfidenceFloor = 0.6

// hpThreeSectionMarker splits an HP solution into its three audience
// sections; only the middle "onsite technicians" section is retained.
var hpThreeSectionMarker = regexp.MustCompile(`(?is)call\s*center.*?onsite\s+technicians:?(.*?)(?:customer\s+self[- ]repair|$)`)

// MetadataExtraction is the metadata_extraction stage (spec §4.E): finds
// fault/error codes via manufacturer-specific regex patterns, optionally
// augments with vision-model extraction from error-screen images, and
// merges results on the same code by confidence.
type MetadataExtraction struct {
	deps Deps
}

func NewMetadataExtraction(deps Deps) *MetadataExtraction { return &MetadataExtraction{deps: deps} }

func (m *MetadataExtraction) Stage() domain.StageName { return domain.StageMetadataExtraction }

func (m *MetadataExtraction) Precheck(ctx context.Context, doc domain.Document) (bool, error) {
	return m.deps.alreadyDone(ctx, doc.ID, m.Stage())
}

type candidateCode struct {
	code        string
	description string
	solution    string
	confidence  float64
	aiExtracted bool
}

func (m *MetadataExtraction) Process(ctx context.Context, doc domain.Document) (map[string]any, error) {
	manufacturer, err := m.manufacturerName(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("metadata_extraction: resolve manufacturer: %w", err)
	}
	if manufacturer == "" {
		return nil, nil // unclassified documents carry no manufacturer-specific patterns
	}

	chunks, err := m.deps.Gateway.Chunks.List(ctx, store.ListOpts{
		Filter: map[string]any{"document_id": doc.ID},
		Limit:  10000,
	})
	if err != nil {
		return nil, fmt.Errorf("metadata_extraction: list chunks: %w", err)
	}

	byCode := make(map[string]candidateCode)
	for _, chunk := range chunks {
		for _, match := range extract.ExtractErrorCodes(chunk.Text, manufacturer) {
			cand := candidateCode{
				code:        match.Code,
				description: match.Span,
				confidence:  patternConfidence,
			}
			mergeCandidate(byCode, cand)
		}
	}

	if m.deps.Vision != nil {
		images, err := m.deps.Gateway.Images.List(ctx, store.ListOpts{
			Filter: map[string]any{"document_id": doc.ID},
			Limit:  1000,
		})
		if err != nil {
			return nil, fmt.Errorf("metadata_extraction: list images: %w", err)
		}
		for _, img := range images {
			codes, err := m.visionCodes(ctx, img)
			if err != nil {
				continue // per-image vision failure is not fatal
			}
			for _, vc := range codes {
				if vc.Confidence < visionConfidenceFloor {
					continue
				}
				mergeCandidate(byCode, candidateCode{
					code:        vc.Code,
					description: vc.Description,
					solution:    filterSolution(manufacturer, vc.Solution),
					confidence:  vc.Confidence,
					aiExtracted: true,
				})
			}
		}
	}

	now := m.deps.now()
	for _, cand := range byCode {
		ec := domain.ErrorCode{
			ID:             newID(),
			Code:           cand.code,
			ManufacturerID: doc.ManufacturerID,
			DocumentID:     doc.ID,
			Description:    cand.description,
			Solution:       cand.solution,
			Confidence:     cand.confidence,
			AIExtracted:    cand.aiExtracted,
			CreatedAt:      now,
		}
		if _, err := m.deps.Gateway.UpsertErrorCode(ctx, ec); err != nil {
			return nil, fmt.Errorf("metadata_extraction: persist code %s: %w", cand.code, err)
		}
	}
	return nil, nil
}

// mergeCandidate applies the pattern/vision tie-break: higher confidence
// wins, and on an exact tie the already-present (pattern) result is kept.
func mergeCandidate(byCode map[string]candidateCode, cand candidateCode) {
	existing, ok := byCode[cand.code]
	if !ok || cand.confidence > existing.confidence {
		byCode[cand.code] = cand
	}
}

func (m *MetadataExtraction) manufacturerName(ctx context.Context, doc domain.Document) (string, error) {
	if doc.ManufacturerID == "" {
		return "", nil
	}
	mfr, err := m.deps.Gateway.Manufacturers.Get(ctx, doc.ManufacturerID)
	if err != nil {
		return "", err
	}
	return mfr.Name, nil
}

func (m *MetadataExtraction) visionCodes(ctx context.Context, img domain.Image) ([]enrich.VisionErrorCode, error) {
	rc, err := m.deps.Blobs.Get(ctx, img.StorageKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return m.deps.Vision.ExtractErrorCodes(ctx, raw)
}

// filterSolution retains only the onsite-technician section of an HP
// three-audience solution text, when that marker is present; every other
// manufacturer's solution text passes through unchanged.
func filterSolution(manufacturer, solution string) string {
	if manufacturer != "HP" {
		return solution
	}
	if m := hpThreeSectionMarker.FindStringSubmatch(solution); m != nil {
		return strings.TrimSpace(m[1])
	}
	return solution
}
