// Package provider serves the built-in templates from the local row store.
package provider

import (
	"context"
	"log/slog"

	"github.com/vjranagit/perfmon/pkg/aggregate"
	"github.com/vjranagit/perfmon/pkg/query"
	"github.com/vjranagit/perfmon/pkg/storage"
	"github.com/vjranagit/perfmon/pkg/types"
)

// Scanner streams stored rows
type Scanner interface {
	Scan(ctx context.Context, req storage.ScanRequest, fn func(types.MapRow) error) error
}

// Store is a query.Provider over a Scanner. Every field maps straight onto
// an aggregator built from its registry definition.
type Store struct {
	rows   Scanner
	logger *slog.Logger
}

var _ query.Provider = (*Store)(nil)

// NewStore creates a provider reading from rows
func NewStore(rows Scanner, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{rows: rows, logger: logger}
}

// Factory implements query.Provider
func (s *Store) Factory(rs *query.ResolvedSeries) (aggregate.Factory, error) {
	spec, err := rs.Field.AggregatorSpec(rs.Method)
	if err != nil {
		return nil, err
	}
	return aggregate.NewFactory(spec)
}

// FilterColumns restricts a series to its sub-category when it names one
func (s *Store) FilterColumns(rs *query.ResolvedSeries) []aggregate.FilterSpec {
	if rs.SubCategory == "" || rs.Template.SubCategoryColumn == "" {
		return nil
	}
	return []aggregate.FilterSpec{{
		Column:  rs.Template.SubCategoryColumn,
		Allowed: []string{rs.SubCategory},
	}}
}

// Fetch implements query.Provider
func (s *Store) Fetch(ctx context.Context, req query.FetchRequest, fn func(types.Row) error) error {
	rows := 0
	err := s.rows.Scan(ctx, storage.ScanRequest{
		Template:        req.Template.Name,
		Systems:         req.Systems,
		Columns:         req.Columns,
		TimestampColumn: req.Template.TimestampColumn,
		SystemColumn:    req.Template.SystemColumn,
		Start:           req.Start,
		End:             req.End,
	}, func(row types.MapRow) error {
		rows++
		return fn(row)
	})
	s.logger.Debug("fetched rows",
		"template", req.Template.Name,
		"systems", len(req.Systems),
		"columns", len(req.Columns),
		"rows", rows,
	)
	return err
}
