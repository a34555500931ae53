package registry

import (
	"fmt"

	"github.com/vjranagit/perfmon/pkg/aggregate"
	"github.com/vjranagit/perfmon/pkg/types"
)

// AggregatorSpec maps the field and a method it allows onto an aggregator
// variant and its source columns.
func (f FieldSpec) AggregatorSpec(m types.Method) (aggregate.Spec, error) {
	if !f.Allows(m) {
		return aggregate.Spec{}, fmt.Errorf("%w: method %s for field %q", ErrMethodNotAllowed, m, f.Name)
	}

	switch m {
	case types.MethodSum:
		return aggregate.Spec{Kind: aggregate.KindSum, Column: f.Column, Integral: f.Integral}, nil
	case types.MethodMin:
		return aggregate.Spec{Kind: aggregate.KindMin, Column: f.Column, Integral: f.Integral}, nil
	case types.MethodMax:
		return aggregate.Spec{Kind: aggregate.KindMax, Column: f.Column, Integral: f.Integral}, nil
	case types.MethodAverage:
		return aggregate.Spec{Kind: aggregate.KindAverage, Column: f.Column, Integral: f.Integral}, nil
	case types.MethodNatural:
		n := f.Natural
		switch n.Kind {
		case NaturalRate:
			return aggregate.Spec{
				Kind:    aggregate.KindNaturalRate,
				Start:   n.StartColumn,
				End:     n.EndColumn,
				Counter: n.CounterColumn,
			}, nil
		case NaturalAverage:
			return aggregate.Spec{
				Kind:        aggregate.KindNaturalAverage,
				Numerator:   n.NumeratorColumn,
				Denominator: n.DenominatorColumn,
			}, nil
		case NaturalStdDev:
			return aggregate.Spec{
				Kind:         aggregate.KindNaturalStdDev,
				Numerator:    n.NumeratorColumn,
				SumOfSquares: n.SumOfSquaresColumn,
				Denominator:  n.DenominatorColumn,
			}, nil
		}
		return aggregate.Spec{}, fmt.Errorf("field %q: unknown natural kind %s", f.Name, n.Kind)
	}
	return aggregate.Spec{}, fmt.Errorf("field %q: unknown method %s", f.Name, m)
}
