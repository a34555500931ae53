package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vjranagit/perfmon/pkg/types"
)

// FilterSpec restricts an aggregator to rows whose Column value, trimmed,
// is one of Allowed.
type FilterSpec struct {
	Column  string
	Allowed []string
}

func (s FilterSpec) String() string {
	allowed := append([]string(nil), s.Allowed...)
	sort.Strings(allowed)
	return fmt.Sprintf("%s in [%s]", s.Column, strings.Join(allowed, ","))
}

// Filter wraps delegate so that only matching rows reach its aggregators
func Filter(delegate Factory, spec FilterSpec) Factory {
	allowed := make(map[string]struct{}, len(spec.Allowed))
	for _, v := range spec.Allowed {
		allowed[strings.TrimSpace(v)] = struct{}{}
	}
	return &filterFactory{
		delegate: delegate,
		spec:     spec,
		allowed:  allowed,
	}
}

type filterFactory struct {
	delegate Factory
	spec     FilterSpec
	allowed  map[string]struct{}
}

func (f *filterFactory) NewAggregator() Aggregator {
	return &filterAggregator{
		delegate: f.delegate.NewAggregator(),
		column:   f.spec.Column,
		allowed:  f.allowed,
	}
}

// Columns includes the filter column so that fetches select it
func (f *filterFactory) Columns() []string {
	return unionColumns([]string{f.spec.Column}, f.delegate.Columns())
}

func (f *filterFactory) String() string {
	return fmt.Sprintf("%v | %s", f.delegate, f.spec)
}

type filterAggregator struct {
	delegate Aggregator
	column   string
	allowed  map[string]struct{}
}

func (a *filterAggregator) Accumulate(row types.Row) {
	v, ok := row.String(a.column)
	if !ok {
		return
	}
	if _, ok := a.allowed[strings.TrimSpace(v)]; ok {
		a.delegate.Accumulate(row)
	}
}

func (a *filterAggregator) Result() types.Value {
	return a.delegate.Result()
}

// Pipeline is a base factory plus an ordered list of filters. Filters are
// applied in order, so the first filter is the innermost wrapper.
type Pipeline struct {
	Base    Factory
	Filters []FilterSpec
}

// NewPipeline starts a pipeline from base
func NewPipeline(base Factory) *Pipeline {
	return &Pipeline{Base: base}
}

// Use appends a filter stage
func (p *Pipeline) Use(spec FilterSpec) *Pipeline {
	p.Filters = append(p.Filters, spec)
	return p
}

// Build wraps the base factory with every filter stage
func (p *Pipeline) Build() Factory {
	f := p.Base
	for _, spec := range p.Filters {
		f = Filter(f, spec)
	}
	return f
}

// Columns is the union of the base columns and every filter column
func (p *Pipeline) Columns() []string {
	lists := [][]string{p.Base.Columns()}
	for _, spec := range p.Filters {
		lists = append(lists, []string{spec.Column})
	}
	return unionColumns(lists...)
}

func (p *Pipeline) String() string {
	parts := []string{fmt.Sprint(p.Base)}
	for _, spec := range p.Filters {
		parts = append(parts, spec.String())
	}
	return strings.Join(parts, " | ")
}
