package stages

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kunzeritter/manual2vector/internal/blobstore"
	"github.com/kunzeritter/manual2vector/internal/domain"
	"github.com/kunzeritter/manual2vector/internal/enrich"
	"github.com/kunzeritter/manual2vector/internal/graphlinks"
	"github.com/kunzeritter/manual2vector/internal/store"
	"github.com/kunzeritter/manual2vector/internal/vectorstore"
)

// StatusReader is the narrow read seam every stage's Precheck uses to
// decide whether it has already run to completion for this document.
type StatusReader interface {
	Get(ctx context.Context, documentID string, stage domain.StageName) (domain.StageStatus, error)
}

// Deps holds every external collaborator a stage processor may need,
// the per-stage analogue of the teacher's ingest.Deps. Not every stage
// uses every field; unused fields are simply left nil by the caller that
// constructs a given stage.
type Deps struct {
	Gateway *store.Gateway
	Status  StatusReader
	Blobs   blobstore.Store
	Graph   *graphlinks.GraphStore
	Vectors *vectorstore.VectorStore

	Text      TextExtractor
	Tables    TableExtractor
	SVGs      SVGExtractor
	Images    ImageExtractor
	Vision    enrich.VisionModel
	Embedder  enrich.TextEmbedder
	VideoMeta enrich.VideoMetadataService

	VisualEmbeddingCap   int
	VisualEmbeddingDelay time.Duration

	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

func newID() string { return uuid.NewString() }

// alreadyDone reports whether stage has already reached a terminal
// completed/skipped state for documentID, the idempotency check every
// stage's Precheck runs before doing any work.
func (d Deps) alreadyDone(ctx context.Context, documentID string, stage domain.StageName) (bool, error) {
	if d.Status == nil {
		return false, nil
	}
	st, err := d.Status.Get(ctx, documentID, stage)
	if err != nil {
		return false, err
	}
	return st.State == domain.StageCompleted || st.State == domain.StageSkipped, nil
}
