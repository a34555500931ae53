package aggregate

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/vjranagit/perfmon/pkg/types"
)

const (
	rateScale       = 4
	averageScale    = 4
	stdDevScale     = 3
	varianceScale   = 16
	millisPerMinute = 60000
)

var (
	decimalOne     = decimal.NewFromInt(1)
	decimalMinutes = decimal.NewFromInt(millisPerMinute)
)

// naturalRateFactory computes counter per minute from accumulated
// elapsed time and an accumulated counter.
type naturalRateFactory struct {
	spec Spec
}

func (f *naturalRateFactory) NewAggregator() Aggregator {
	return &naturalRateAggregator{spec: f.spec}
}

func (f *naturalRateFactory) Columns() []string {
	return unionColumns(f.spec.columns())
}

func (f *naturalRateFactory) String() string {
	return f.spec.String()
}

type naturalRateAggregator struct {
	spec     Spec
	hasValue bool
	duration decimal.Decimal
	counter  decimal.Decimal
}

func (a *naturalRateAggregator) Accumulate(row types.Row) {
	start, ok := row.Time(a.spec.Start)
	if !ok {
		return
	}
	end, ok := row.Time(a.spec.End)
	if !ok {
		return
	}
	counter, ok := row.Decimal(a.spec.Counter)
	if !ok {
		return
	}
	a.hasValue = true
	a.duration = a.duration.Add(decimal.NewFromInt(end.UnixMilli() - start.UnixMilli()))
	a.counter = a.counter.Add(counter)
}

// Result is null when nothing contributed or when the accumulated
// duration rounds to zero minutes.
func (a *naturalRateAggregator) Result() types.Value {
	if !a.hasValue {
		return types.Null
	}
	minutes := a.duration.DivRound(decimalMinutes, rateScale)
	if minutes.IsZero() {
		return types.Null
	}
	return types.DecimalValue(a.counter.DivRound(minutes, rateScale), rateScale)
}

type naturalAverageFactory struct {
	spec Spec
}

func (f *naturalAverageFactory) NewAggregator() Aggregator {
	return &naturalAverageAggregator{spec: f.spec}
}

func (f *naturalAverageFactory) Columns() []string {
	return unionColumns(f.spec.columns())
}

func (f *naturalAverageFactory) String() string {
	return f.spec.String()
}

type naturalAverageAggregator struct {
	spec        Spec
	hasValue    bool
	numerator   decimal.Decimal
	denominator decimal.Decimal
}

func (a *naturalAverageAggregator) Accumulate(row types.Row) {
	num, ok := row.Decimal(a.spec.Numerator)
	if !ok {
		return
	}
	den, ok := row.Decimal(a.spec.Denominator)
	if !ok {
		return
	}
	a.hasValue = true
	a.numerator = a.numerator.Add(num)
	a.denominator = a.denominator.Add(den)
}

// Result reports 0 rather than null for a zero denominator once at least
// one row was observed.
func (a *naturalAverageAggregator) Result() types.Value {
	if !a.hasValue {
		return types.Null
	}
	if a.denominator.IsZero() {
		return types.FloatValue(0)
	}
	return types.DecimalValue(a.numerator.DivRound(a.denominator, averageScale), averageScale)
}

type naturalStdDevFactory struct {
	spec Spec
}

func (f *naturalStdDevFactory) NewAggregator() Aggregator {
	return &naturalStdDevAggregator{spec: f.spec}
}

func (f *naturalStdDevFactory) Columns() []string {
	return unionColumns(f.spec.columns())
}

func (f *naturalStdDevFactory) String() string {
	return f.spec.String()
}

type naturalStdDevAggregator struct {
	spec         Spec
	hasValue     bool
	numerator    decimal.Decimal
	sumOfSquares decimal.Decimal
	samples      decimal.Decimal
}

func (a *naturalStdDevAggregator) Accumulate(row types.Row) {
	num, ok := row.Decimal(a.spec.Numerator)
	if !ok {
		return
	}
	sq, ok := row.Decimal(a.spec.SumOfSquares)
	if !ok {
		return
	}
	n, ok := row.Decimal(a.spec.Denominator)
	if !ok {
		return
	}
	a.hasValue = true
	a.numerator = a.numerator.Add(num)
	a.sumOfSquares = a.sumOfSquares.Add(sq)
	a.samples = a.samples.Add(n)
}

// Result computes the sample standard deviation from the accumulated sums:
//
//	variance = (sumOfSquares - numerator^2/n) / (n-1), 0 when n <= 1
func (a *naturalStdDevAggregator) Result() types.Value {
	if !a.hasValue {
		return types.Null
	}
	if a.samples.IsZero() {
		return types.FloatValue(0)
	}

	variance := decimal.Zero
	if a.samples.GreaterThan(decimalOne) {
		correction := a.numerator.Mul(a.numerator).DivRound(a.samples, varianceScale)
		variance = a.sumOfSquares.Sub(correction).DivRound(a.samples.Sub(decimalOne), varianceScale)
	}

	v := variance.InexactFloat64()
	if v < 0 {
		v = 0
	}
	stddev := decimal.NewFromFloat(math.Sqrt(v)).Round(stdDevScale)
	return types.DecimalValue(stddev, stdDevScale)
}
