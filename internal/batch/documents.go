package batch

import (
	"fmt"
	"time"

	"github.com/kunzeritter/manual2vector/internal/domain"
	"github.com/kunzeritter/manual2vector/internal/store"
)

// DocumentMutator adapts core.documents to the batch engine, covering
// status_change (re-triage a manufacturer's whole backlog), field_update
// (reassign manufacturer_id, bump priority) and delete. Every value
// round-trips through JSON once rollback_data is written and later
// reloaded, so the map representation sticks to strings and numbers
// rather than time.Time, to keep a sync-path snapshot and an
// async-path, reloaded-from-Postgres one interchangeable.
func DocumentMutator(repo *store.Repo[domain.Document, string]) Mutator[domain.Document, string] {
	return Mutator[domain.Document, string]{
		Repo:        repo,
		ToMap:       documentToMap,
		ApplyFields: applyDocumentFields,
		FromMap:     documentFromMap,
	}
}

func documentToMap(d domain.Document) map[string]any {
	return map[string]any{
		"id":              d.ID,
		"content_hash":    d.ContentHash,
		"filename":        d.Filename,
		"byte_size":       d.ByteSize,
		"manufacturer_id": d.ManufacturerID,
		"product_ids":     d.ProductIDs,
		"doc_type":        string(d.Type),
		"priority":        d.Priority,
		"status":          string(d.Status),
		"created_at":      d.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":      d.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func applyDocumentFields(d domain.Document, fields map[string]any) domain.Document {
	if v, ok := fields["status"]; ok {
		d.Status = domain.DocumentStatus(asString(v))
	}
	if v, ok := fields["manufacturer_id"]; ok {
		d.ManufacturerID = asString(v)
	}
	if v, ok := fields["filename"]; ok {
		d.Filename = asString(v)
	}
	if v, ok := fields["doc_type"]; ok {
		d.Type = domain.DocType(asString(v))
	}
	if v, ok := fields["priority"]; ok {
		d.Priority = asInt(v)
	}
	if v, ok := fields["product_ids"]; ok {
		d.ProductIDs = asStringSlice(v)
	}
	d.UpdatedAt = time.Now().UTC()
	return d
}

func documentFromMap(values map[string]any) domain.Document {
	d := domain.Document{
		ID:             asString(values["id"]),
		ContentHash:    asString(values["content_hash"]),
		Filename:       asString(values["filename"]),
		ByteSize:       int64(asInt(values["byte_size"])),
		ManufacturerID: asString(values["manufacturer_id"]),
		ProductIDs:     asStringSlice(values["product_ids"]),
		Type:           domain.DocType(asString(values["doc_type"])),
		Priority:       asInt(values["priority"]),
		Status:         domain.DocumentStatus(asString(values["status"])),
	}
	if t, err := time.Parse(time.RFC3339Nano, asString(values["created_at"])); err == nil {
		d.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, asString(values["updated_at"])); err == nil {
		d.UpdatedAt = t
	}
	return d
}

// asString/asInt/asStringSlice tolerate both the native Go values a
// ToMap produces in-process and the JSON-decoded values a rollback
// snapshot comes back as after a round trip through rollback_data.
func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asStringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, len(s))
		for i, e := range s {
			out[i] = asString(e)
		}
		return out
	default:
		return nil
	}
}
