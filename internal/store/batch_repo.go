package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

var batchTaskColumns = []string{
	"id", "resource", "operation", "item_count", "processed", "successful", "failed",
	"status", "rollback_on_error", "rollback_data", "actor_id", "correlation_id",
	"created_at", "updated_at",
}

// RollbackEntry is one record's prior state, captured in a BatchTask's
// rollback_data column so a later compensating call can restore it.
type RollbackEntry struct {
	ID        string         `json:"id"`
	OldValues map[string]any `json:"old_values"`
}

func newBatchTaskRepo(pool *pgxpool.Pool) *Repo[domain.BatchTask, string] {
	return NewRepo[domain.BatchTask, string](pool, "system.batch_tasks", batchTaskColumns,
		func(t domain.BatchTask) map[string]any {
			return map[string]any{
				"id": t.ID, "resource": t.Resource, "operation": t.Operation,
				"item_count": t.ItemCount, "processed": t.Processed, "successful": t.Successful,
				"failed": t.Failed, "status": t.Status, "rollback_on_error": t.RollbackOnError,
				"rollback_data": []byte("[]"), "actor_id": t.ActorID, "correlation_id": t.CorrelationID,
				"created_at": t.CreatedAt, "updated_at": t.UpdatedAt,
			}
		},
		func(rows pgx.Rows) (domain.BatchTask, error) {
			var t domain.BatchTask
			var raw []byte
			err := rows.Scan(&t.ID, &t.Resource, &t.Operation, &t.ItemCount, &t.Processed, &t.Successful,
				&t.Failed, &t.Status, &t.RollbackOnError, &raw, &t.ActorID, &t.CorrelationID,
				&t.CreatedAt, &t.UpdatedAt)
			return t, err
		},
		WithFilterableColumns[domain.BatchTask, string]("resource", "status"),
	)
}

var auditEntryColumns = []string{
	"id", "batch_id", "resource", "resource_id", "operation",
	"old_values", "new_values", "actor_id", "correlation_id", "created_at",
}

func newAuditEntryRepo(pool *pgxpool.Pool) *Repo[domain.AuditEntry, string] {
	return NewRepo[domain.AuditEntry, string](pool, "system.audit_log", auditEntryColumns,
		func(e domain.AuditEntry) map[string]any {
			oldV, _ := json.Marshal(e.OldValues)
			newV, _ := json.Marshal(e.NewValues)
			return map[string]any{
				"id": e.ID, "batch_id": e.BatchID, "resource": e.Resource, "resource_id": e.ResourceID,
				"operation": e.Operation, "old_values": oldV, "new_values": newV,
				"actor_id": e.ActorID, "correlation_id": e.CorrelationID, "created_at": e.CreatedAt,
			}
		},
		func(rows pgx.Rows) (domain.AuditEntry, error) {
			var e domain.AuditEntry
			var oldRaw, newRaw []byte
			if err := rows.Scan(&e.ID, &e.BatchID, &e.Resource, &e.ResourceID, &e.Operation,
				&oldRaw, &newRaw, &e.ActorID, &e.CorrelationID, &e.CreatedAt); err != nil {
				return e, err
			}
			if len(oldRaw) > 0 {
				if err := json.Unmarshal(oldRaw, &e.OldValues); err != nil {
					return e, fmt.Errorf("unmarshal old_values: %w", err)
				}
			}
			if len(newRaw) > 0 {
				if err := json.Unmarshal(newRaw, &e.NewValues); err != nil {
					return e, fmt.Errorf("unmarshal new_values: %w", err)
				}
			}
			return e, nil
		},
		WithFilterableColumns[domain.AuditEntry, string]("batch_id", "resource"),
	)
}

// SetBatchProgress updates a BatchTask's counters, status, and rollback
// snapshot in one statement — called after each mutated record so a
// crash mid-batch leaves an accurate, resumable progress row.
func (g *Gateway) SetBatchProgress(ctx context.Context, id string, processed, successful, failed int, status domain.BatchStatus, rollback []RollbackEntry) error {
	data, err := json.Marshal(rollback)
	if err != nil {
		return fmt.Errorf("marshal rollback data: %w", err)
	}
	const query = `UPDATE system.batch_tasks
SET processed = $1, successful = $2, failed = $3, status = $4, rollback_data = $5, updated_at = $6
WHERE id = $7`
	_, err = g.pool.Exec(ctx, query, processed, successful, failed, status, data, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set batch progress: %w", err)
	}
	return nil
}

// LoadRollbackData reads back the rollback snapshot for a compensating
// rollback call.
func (g *Gateway) LoadRollbackData(ctx context.Context, id string) ([]RollbackEntry, error) {
	const query = `SELECT rollback_data FROM system.batch_tasks WHERE id = $1`
	var raw []byte
	if err := g.pool.QueryRow(ctx, query, id).Scan(&raw); err != nil {
		return nil, fmt.Errorf("load rollback data: %w", err)
	}
	var entries []RollbackEntry
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("unmarshal rollback data: %w", err)
		}
	}
	return entries, nil
}
