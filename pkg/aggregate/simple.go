package aggregate

import (
	"github.com/vjranagit/perfmon/pkg/types"
)

// simpleState is the running state of a single-column method
type simpleState interface {
	addInt(v int64)
	addFloat(v float64)
	result(integral bool) types.Value
}

type simpleFactory struct {
	spec     Spec
	newState func() simpleState
}

func (f *simpleFactory) NewAggregator() Aggregator {
	return &simpleAggregator{
		column:   f.spec.Column,
		integral: f.spec.Integral,
		state:    f.newState(),
	}
}

func (f *simpleFactory) Columns() []string {
	return []string{f.spec.Column}
}

func (f *simpleFactory) String() string {
	return f.spec.String()
}

// simpleAggregator reads one column and skips nulls
type simpleAggregator struct {
	column   string
	integral bool
	state    simpleState
}

func (a *simpleAggregator) Accumulate(row types.Row) {
	if a.integral {
		if v, ok := row.Int(a.column); ok {
			a.state.addInt(v)
		}
		return
	}
	if v, ok := row.Float(a.column); ok {
		a.state.addFloat(v)
	}
}

func (a *simpleAggregator) Result() types.Value {
	return a.state.result(a.integral)
}

type sumState struct {
	hasValue bool
	i        int64
	f        float64
}

func (s *sumState) addInt(v int64) {
	s.hasValue = true
	s.i += v
}

func (s *sumState) addFloat(v float64) {
	s.hasValue = true
	s.f += v
}

func (s *sumState) result(integral bool) types.Value {
	if !s.hasValue {
		return types.Null
	}
	if integral {
		return types.IntValue(s.i)
	}
	return types.FloatValue(s.f)
}

// extremumState tracks a minimum when less is set, a maximum otherwise
type extremumState struct {
	less     bool
	hasValue bool
	i        int64
	f        float64
}

func (s *extremumState) addInt(v int64) {
	if !s.hasValue || (s.less && v < s.i) || (!s.less && v > s.i) {
		s.i = v
	}
	s.hasValue = true
}

func (s *extremumState) addFloat(v float64) {
	if !s.hasValue || (s.less && v < s.f) || (!s.less && v > s.f) {
		s.f = v
	}
	s.hasValue = true
}

func (s *extremumState) result(integral bool) types.Value {
	if !s.hasValue {
		return types.Null
	}
	if integral {
		return types.IntValue(s.i)
	}
	return types.FloatValue(s.f)
}

type averageState struct {
	count int64
	i     int64
	f     float64
}

func (s *averageState) addInt(v int64) {
	s.count++
	s.i += v
}

func (s *averageState) addFloat(v float64) {
	s.count++
	s.f += v
}

// result keeps a single integral observation integral. Two or more
// observations are always reported as floating point.
func (s *averageState) result(integral bool) types.Value {
	switch {
	case s.count == 0:
		return types.Null
	case integral && s.count == 1:
		return types.IntValue(s.i)
	case integral:
		return types.FloatValue(float64(s.i) / float64(s.count))
	}
	return types.FloatValue(s.f / float64(s.count))
}
