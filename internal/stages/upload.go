package stages

import (
	"context"
	"fmt"
	"io"

	"github.com/kunzeritter/manual2vector/internal/blobstore"
	"github.com/kunzeritter/manual2vector/internal/domain"
)

// Upload is the upload stage (spec §4.E): hash the raw bytes already
// staged in the blob store under the candidate document id, and upsert
// the document row by content hash. A byte-identical re-upload resolves
// to the same document id and is treated as success, never a failure.
type Upload struct {
	deps Deps
}

func NewUpload(deps Deps) *Upload { return &Upload{deps: deps} }

func (u *Upload) Stage() domain.StageName { return domain.StageUpload }

// Precheck never skips: hashing is cheap and UpsertDocumentByHash is
// itself the idempotency anchor, so re-running upload is always safe.
func (u *Upload) Precheck(ctx context.Context, doc domain.Document) (bool, error) {
	return false, nil
}

func (u *Upload) Process(ctx context.Context, doc domain.Document) (map[string]any, error) {
	key := blobstore.DocumentKey(doc.ID, doc.Filename)
	rc, err := u.deps.Blobs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("upload: fetch staged bytes %s: %w", key, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("upload: read staged bytes: %w", err)
	}

	if err := domain.ValidateUpload(domain.UploadInput{Filename: doc.Filename, Bytes: raw}); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	docType := doc.Type
	if docType == "" {
		docType = domain.DocOther
	}

	_, _, err = u.deps.Gateway.UpsertDocumentByHash(ctx, domain.Document{
		ID:          doc.ID,
		ContentHash: domain.ContentHash(raw),
		Filename:    doc.Filename,
		ByteSize:    int64(len(raw)),
		Type:        docType,
		Priority:    domain.PriorityForDocType(docType),
		Status:      domain.DocumentProcessing,
	})
	if err != nil {
		return nil, fmt.Errorf("upload: upsert document: %w", err)
	}
	return nil, nil
}
