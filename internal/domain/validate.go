package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// ValidDocTypes is the set of recognized document type tags.
var ValidDocTypes = map[DocType]bool{
	DocServiceManual: true,
	DocPartsCatalog:  true,
	DocBulletin:      true,
	DocCPMD:          true,
	DocOther:         true,
}

// UploadInput is what the upload stage validates before hashing.
type UploadInput struct {
	Filename string
	Bytes    []byte
}

// ValidateUpload checks an UploadInput before it reaches the upload stage.
func ValidateUpload(in UploadInput) error {
	if len(in.Bytes) == 0 {
		return NewValidationError("bytes", "", ErrEmptyContent)
	}
	if strings.TrimSpace(in.Filename) == "" {
		return NewValidationError("filename", in.Filename, ErrInvalidFilename)
	}
	if filepath.Ext(in.Filename) == "" {
		return NewValidationError("filename", in.Filename, ErrInvalidFilename)
	}
	return nil
}

// ContentHash computes the document-level dedup anchor: sha256 of the
// raw bytes, hex encoded (spec §3).
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// NormalizeForFingerprint applies the chunk_prep normalization rule:
// lowercase, collapse whitespace to single spaces, trim (spec §4.E).
func NormalizeForFingerprint(text string) string {
	fields := strings.Fields(strings.ToLower(text))
	return strings.Join(fields, " ")
}

// Fingerprint computes the within-document dedup key for a chunk: sha256
// of its normalized text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(NormalizeForFingerprint(text)))
	return hex.EncodeToString(sum[:])
}

// ValidateDocType checks a document type tag is one of the fixed set.
func ValidateDocType(t DocType) error {
	if !ValidDocTypes[t] {
		return NewValidationError("document_type", string(t), ErrUnknownDocType)
	}
	return nil
}

// ValidateEmbedding checks an Embedding's vector length matches its
// declared dimension before it is persisted (spec §3 invariant).
func ValidateEmbedding(e Embedding) error {
	if len(e.Vector) != e.Dimension {
		return fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(e.Vector), e.Dimension)
	}
	return nil
}
