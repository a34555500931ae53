// Package query resolves parsed series against the registry, drives rows
// from data providers through per-series aggregators and builds the
// minute-bucketed result table.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vjranagit/perfmon/pkg/aggregate"
	"github.com/vjranagit/perfmon/pkg/registry"
	"github.com/vjranagit/perfmon/pkg/types"
)

// ErrNoProvider is returned when no data provider owns a template
var ErrNoProvider = fmt.Errorf("no data provider: %w", types.ErrInternal)

// FetchRequest asks a provider for the rows of one template
type FetchRequest struct {
	Template registry.Template
	Systems  []types.SystemID
	Columns  []string
	Start    time.Time
	End      time.Time
}

// Provider supplies the field-specific part of a series pipeline and the
// raw rows. Providers never see the accumulator; they only stream rows.
type Provider interface {
	// Factory returns the base aggregator factory for a resolved series
	Factory(rs *ResolvedSeries) (aggregate.Factory, error)
	// FilterColumns declares extra filters, e.g. on a sub-category column
	FilterColumns(rs *ResolvedSeries) []aggregate.FilterSpec
	// Fetch streams every row matching req to fn, stopping on fn's error
	Fetch(ctx context.Context, req FetchRequest, fn func(types.Row) error) error
}

// ResolvedSeries is a series definition bound to its template, field,
// method and aggregator pipeline.
type ResolvedSeries struct {
	Alias       string
	Definition  types.SeriesDefinition
	Template    registry.Template
	Systems     []types.SystemID
	Category    string
	SubCategory string
	Field       registry.FieldSpec
	Method      types.Method
	Pipeline    *aggregate.Pipeline
	Factory     aggregate.Factory
}

// SystemLabel joins the target systems in grammar order
func (rs *ResolvedSeries) SystemLabel() string {
	parts := make([]string, len(rs.Systems))
	for i, s := range rs.Systems {
		parts[i] = s.String()
	}
	return strings.Join(parts, "~")
}

// Plan is the resolved form of one query
type Plan struct {
	Series      []*ResolvedSeries
	Fetches     []FetchRequest
	Accumulator *Accumulator
}

// Resolver binds definitions to the registry and the data providers
type Resolver struct {
	registry *registry.Registry

	mu        sync.RWMutex
	providers map[string]Provider
	fallback  Provider
}

// NewResolver creates a resolver. fallback serves every template without a
// dedicated provider and may be nil.
func NewResolver(reg *registry.Registry, fallback Provider) *Resolver {
	return &Resolver{
		registry:  reg,
		providers: make(map[string]Provider),
		fallback:  fallback,
	}
}

// Registry returns the schema the resolver reads
func (r *Resolver) Registry() *registry.Registry {
	return r.registry
}

// RegisterProvider adds a provider-owned template to the registry
func (r *Resolver) RegisterProvider(t registry.Template, p Provider) error {
	if p == nil {
		return errors.New("register provider: nil provider")
	}
	if err := r.registry.Register(t); err != nil {
		return err
	}
	r.mu.Lock()
	r.providers[t.Name] = p
	r.mu.Unlock()
	return nil
}

func (r *Resolver) provider(template string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[template]; ok {
		return p, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: template %s", ErrNoProvider, template)
}

// Resolve binds every definition, builds its pipeline and registers it in
// a fresh accumulator. Fetches hold one request per template, carrying the
// union of systems and columns its series need.
func (r *Resolver) Resolve(defs []types.SeriesDefinition, loc *time.Location) (*Plan, error) {
	plan := &Plan{Accumulator: NewAccumulator(loc)}
	fetchIndex := make(map[string]int)
	fetchColumns := make(map[string]map[string]struct{})
	fetchSystems := make(map[string]map[types.SystemID]struct{})

	for i, def := range defs {
		rs, err := r.resolveOne(def)
		if err != nil {
			return nil, fmt.Errorf("series %d: %w", i+1, err)
		}
		if err := plan.Accumulator.Register(rs); err != nil {
			return nil, err
		}
		plan.Series = append(plan.Series, rs)

		name := rs.Template.Name
		idx, ok := fetchIndex[name]
		if !ok {
			idx = len(plan.Fetches)
			fetchIndex[name] = idx
			fetchColumns[name] = map[string]struct{}{rs.Template.TimestampColumn: {}}
			fetchSystems[name] = make(map[types.SystemID]struct{})
			plan.Fetches = append(plan.Fetches, FetchRequest{Template: rs.Template})
		}
		fetch := &plan.Fetches[idx]
		for _, c := range rs.Pipeline.Columns() {
			fetchColumns[name][c] = struct{}{}
		}
		for _, s := range rs.Systems {
			if _, seen := fetchSystems[name][s]; !seen {
				fetchSystems[name][s] = struct{}{}
				fetch.Systems = append(fetch.Systems, s)
			}
		}
	}

	for i := range plan.Fetches {
		cols := make([]string, 0, len(fetchColumns[plan.Fetches[i].Template.Name]))
		for c := range fetchColumns[plan.Fetches[i].Template.Name] {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		plan.Fetches[i].Columns = cols
	}
	return plan, nil
}

func (r *Resolver) resolveOne(def types.SeriesDefinition) (*ResolvedSeries, error) {
	res, err := r.registry.Resolve(def)
	if err != nil {
		return nil, err
	}

	rs := &ResolvedSeries{
		Alias:       def.String(),
		Definition:  def,
		Template:    res.Template,
		Systems:     def.Systems,
		Category:    def.Category,
		SubCategory: res.SubCategory,
		Field:       res.Field,
		Method:      res.Method,
	}

	p, err := r.provider(res.Template.Name)
	if err != nil {
		return nil, err
	}
	base, err := p.Factory(rs)
	if err != nil {
		return nil, fmt.Errorf("build %s %s for %s: %w", rs.Method, rs.Field.Name, rs.Template.Name, err)
	}

	rs.Pipeline = aggregate.NewPipeline(base)
	for _, spec := range p.FilterColumns(rs) {
		rs.Pipeline.Use(spec)
	}
	rs.Pipeline.Use(systemFilter(rs))
	rs.Factory = rs.Pipeline.Build()
	return rs, nil
}

// systemFilter admits rows whose system column matches a target system
func systemFilter(rs *ResolvedSeries) aggregate.FilterSpec {
	allowed := make([]string, len(rs.Systems))
	for i, s := range rs.Systems {
		allowed[i] = s.String()
	}
	return aggregate.FilterSpec{Column: rs.Template.SystemColumn, Allowed: allowed}
}
