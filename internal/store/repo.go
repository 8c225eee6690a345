// Package store is the persistence gateway: a schema-partitioned
// Postgres-backed store (core.*, content.*, intelligence.*, system.*)
// built around a generic repository, the way the teacher's pkg/repo
// package builds a generic Neo4jRepo[T,ID] around a Repository[T,ID]
// interface. The typed table gateways (documents, chunks, images,
// extractions, links) are instances of Repo[T,K] configured with a row
// mapper; embeddings metadata is written by Gateway.CreateEmbeddings
// instead.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the subset of *pgxpool.Pool and pgx.Tx a Repo needs. Both
// satisfy it, so a Repo built against the pool can be rebound to a
// transaction via WithTx without any other change to its methods.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is a generic CRUD interface, independent of backend.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Create(ctx context.Context, entity T) (T, error)
	Update(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination and filtering for List operations.
type ListOpts struct {
	Offset int
	Limit  int
	Filter map[string]any
}

// Repo is a generic pgx-backed repository for a single table, the
// relational analogue of the teacher's Neo4jRepo[T,ID]: the Cypher
// label/property mapping becomes a table name/column mapping.
type Repo[T any, ID comparable] struct {
	pool       querier
	table      string
	idColumn   string
	columns    []string
	toRow      func(T) map[string]any
	fromRow    func(pgx.Rows) (T, error)
	filterable map[string]bool
}

// RepoOption configures a Repo.
type RepoOption[T any, ID comparable] func(*Repo[T, ID])

// WithIDColumn overrides the default "id" primary key column name.
func WithIDColumn[T any, ID comparable](name string) RepoOption[T, ID] {
	return func(r *Repo[T, ID]) { r.idColumn = name }
}

// WithFilterableColumns restricts which ListOpts.Filter keys are honored,
// preventing filter injection through arbitrary column names.
func WithFilterableColumns[T any, ID comparable](cols ...string) RepoOption[T, ID] {
	return func(r *Repo[T, ID]) {
		for _, c := range cols {
			r.filterable[c] = true
		}
	}
}

// NewRepo constructs a Repo for the given schema-qualified table.
func NewRepo[T any, ID comparable](
	pool *pgxpool.Pool,
	table string,
	columns []string,
	toRow func(T) map[string]any,
	fromRow func(pgx.Rows) (T, error),
	opts ...RepoOption[T, ID],
) *Repo[T, ID] {
	r := &Repo[T, ID]{
		pool:       pool,
		table:      table,
		idColumn:   "id",
		columns:    columns,
		toRow:      toRow,
		fromRow:    fromRow,
		filterable: make(map[string]bool),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

var _ Repository[any, string] = (*Repo[any, string])(nil)

// WithTx returns a copy of r bound to tx instead of the pool, letting
// several Repo calls against different tables compose into one
// transaction (the Batch Operations Engine's synchronous path).
func (r *Repo[T, ID]) WithTx(tx pgx.Tx) *Repo[T, ID] {
	clone := *r
	clone.pool = tx
	return &clone
}

func (r *Repo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", columnList(r.columns), r.table, r.idColumn)
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return zero, err
	}
	defer rows.Close()
	if !rows.Next() {
		return zero, fmt.Errorf("%s: not found", r.table)
	}
	return r.fromRow(rows)
}

func (r *Repo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf("SELECT %s FROM %s", columnList(r.columns), r.table)
	args := []any{}
	where := ""
	for k, v := range opts.Filter {
		if !r.filterable[k] {
			continue
		}
		args = append(args, v)
		if where == "" {
			where = fmt.Sprintf(" WHERE %s = $%d", k, len(args))
		} else {
			where += fmt.Sprintf(" AND %s = $%d", k, len(args))
		}
	}
	query += where
	args = append(args, limit, opts.Offset)
	query += fmt.Sprintf(" ORDER BY %s LIMIT $%d OFFSET $%d", r.idColumn, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []T
	for rows.Next() {
		item, err := r.fromRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *Repo[T, ID]) Create(ctx context.Context, entity T) (T, error) {
	var zero T
	row := r.toRow(entity)
	cols := make([]string, 0, len(row))
	placeholders := make([]string, 0, len(row))
	args := make([]any, 0, len(row))
	for _, c := range r.columns {
		v, ok := row[c]
		if !ok {
			continue
		}
		cols = append(cols, c)
		args = append(args, v)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		r.table, columnList(cols), columnList(placeholders), columnList(r.columns))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return zero, err
	}
	defer rows.Close()
	if !rows.Next() {
		return zero, fmt.Errorf("%s: insert returned no row", r.table)
	}
	return r.fromRow(rows)
}

func (r *Repo[T, ID]) Update(ctx context.Context, entity T) (T, error) {
	var zero T
	row := r.toRow(entity)
	id, ok := row[r.idColumn]
	if !ok {
		return zero, fmt.Errorf("%s: update missing id column %s", r.table, r.idColumn)
	}
	sets := make([]string, 0, len(row))
	args := make([]any, 0, len(row)+1)
	for _, c := range r.columns {
		if c == r.idColumn {
			continue
		}
		v, ok := row[c]
		if !ok {
			continue
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", c, len(args)))
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING %s",
		r.table, columnList(sets), r.idColumn, len(args), columnList(r.columns))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return zero, err
	}
	defer rows.Close()
	if !rows.Next() {
		return zero, fmt.Errorf("%s: not found", r.table)
	}
	return r.fromRow(rows)
}

func (r *Repo[T, ID]) Delete(ctx context.Context, id ID) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", r.table, r.idColumn)
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

func columnList(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
