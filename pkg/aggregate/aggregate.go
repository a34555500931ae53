// Package aggregate implements the per-bucket numeric accumulators used to
// turn raw interval rows into series values.
//
// A Factory is stateless and describes which source columns a method reads.
// Each call to NewAggregator returns a fresh stateful Aggregator that is fed
// rows with Accumulate and read with Result. Result is pure and returns
// types.Null until at least one row has contributed.
package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vjranagit/perfmon/pkg/types"
)

// Aggregator accumulates rows for one series in one time bucket
type Aggregator interface {
	Accumulate(row types.Row)
	Result() types.Value
}

// Factory creates aggregators and reports the source columns they read
type Factory interface {
	NewAggregator() Aggregator
	Columns() []string
}

// Kind enumerates the aggregator variants
type Kind int

const (
	KindSum Kind = iota + 1
	KindMin
	KindMax
	KindAverage
	KindNaturalRate
	KindNaturalAverage
	KindNaturalStdDev
)

func (k Kind) String() string {
	switch k {
	case KindSum:
		return "SUM"
	case KindMin:
		return "MIN"
	case KindMax:
		return "MAX"
	case KindAverage:
		return "AVERAGE"
	case KindNaturalRate:
		return "NATURAL_RATE"
	case KindNaturalAverage:
		return "NATURAL_AVERAGE"
	case KindNaturalStdDev:
		return "NATURAL_STDDEV"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ErrInvalidSpec is returned when a Spec cannot produce a factory
var ErrInvalidSpec = errors.New("invalid aggregator spec")

// Spec selects a variant and its source columns. Which column fields are
// read depends on Kind:
//
//	Sum, Min, Max, Average: Column (Integral selects int64 vs float64)
//	NaturalRate:            Start, End, Counter
//	NaturalAverage:         Numerator, Denominator
//	NaturalStdDev:          Numerator, SumOfSquares, Denominator (sample count)
type Spec struct {
	Kind     Kind
	Integral bool

	Column string

	Start   string
	End     string
	Counter string

	Numerator    string
	Denominator  string
	SumOfSquares string
}

func (s Spec) String() string {
	return fmt.Sprintf("%s(%s)", s.Kind, strings.Join(s.columns(), ","))
}

func (s Spec) columns() []string {
	switch s.Kind {
	case KindSum, KindMin, KindMax, KindAverage:
		return []string{s.Column}
	case KindNaturalRate:
		return []string{s.Start, s.End, s.Counter}
	case KindNaturalAverage:
		return []string{s.Numerator, s.Denominator}
	case KindNaturalStdDev:
		return []string{s.Numerator, s.SumOfSquares, s.Denominator}
	}
	return nil
}

// NewFactory builds the factory for spec
func NewFactory(spec Spec) (Factory, error) {
	cols := spec.columns()
	if cols == nil {
		return nil, fmt.Errorf("%w: unknown kind %s", ErrInvalidSpec, spec.Kind)
	}
	for _, c := range cols {
		if c == "" {
			return nil, fmt.Errorf("%w: %s is missing a source column", ErrInvalidSpec, spec.Kind)
		}
	}

	switch spec.Kind {
	case KindSum:
		return &simpleFactory{spec: spec, newState: func() simpleState { return &sumState{} }}, nil
	case KindMin:
		return &simpleFactory{spec: spec, newState: func() simpleState { return &extremumState{less: true} }}, nil
	case KindMax:
		return &simpleFactory{spec: spec, newState: func() simpleState { return &extremumState{} }}, nil
	case KindAverage:
		return &simpleFactory{spec: spec, newState: func() simpleState { return &averageState{} }}, nil
	case KindNaturalRate:
		return &naturalRateFactory{spec: spec}, nil
	case KindNaturalAverage:
		return &naturalAverageFactory{spec: spec}, nil
	case KindNaturalStdDev:
		return &naturalStdDevFactory{spec: spec}, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %s", ErrInvalidSpec, spec.Kind)
}

// unionColumns merges column lists, sorted and without duplicates
func unionColumns(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range lists {
		for _, c := range l {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}
