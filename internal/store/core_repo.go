package store

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kunzeritter/manual2vector/internal/domain"
)

var manufacturerColumns = []string{"id", "name"}

func newManufacturerRepo(pool *pgxpool.Pool) *Repo[domain.Manufacturer, string] {
	return NewRepo[domain.Manufacturer, string](pool, "core.manufacturers", manufacturerColumns,
		func(m domain.Manufacturer) map[string]any { return map[string]any{"id": m.ID, "name": m.Name} },
		func(rows pgx.Rows) (domain.Manufacturer, error) {
			var m domain.Manufacturer
			err := rows.Scan(&m.ID, &m.Name)
			return m, err
		},
	)
}

var productColumns = []string{"id", "manufacturer_id", "name", "model"}

func newProductRepo(pool *pgxpool.Pool) *Repo[domain.Product, string] {
	return NewRepo[domain.Product, string](pool, "core.products", productColumns,
		func(p domain.Product) map[string]any {
			return map[string]any{"id": p.ID, "manufacturer_id": p.ManufacturerID, "name": p.Name, "model": p.Model}
		},
		func(rows pgx.Rows) (domain.Product, error) {
			var p domain.Product
			err := rows.Scan(&p.ID, &p.ManufacturerID, &p.Name, &p.Model)
			return p, err
		},
		WithFilterableColumns[domain.Product, string]("manufacturer_id"),
	)
}

var productSeriesColumns = []string{"id", "manufacturer_id", "name"}

func newProductSeriesRepo(pool *pgxpool.Pool) *Repo[domain.ProductSeries, string] {
	return NewRepo[domain.ProductSeries, string](pool, "core.product_series", productSeriesColumns,
		func(s domain.ProductSeries) map[string]any {
			return map[string]any{"id": s.ID, "manufacturer_id": s.ManufacturerID, "name": s.Name}
		},
		func(rows pgx.Rows) (domain.ProductSeries, error) {
			var s domain.ProductSeries
			err := rows.Scan(&s.ID, &s.ManufacturerID, &s.Name)
			return s, err
		},
		WithFilterableColumns[domain.ProductSeries, string]("manufacturer_id"),
	)
}
