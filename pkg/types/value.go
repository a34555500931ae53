package types

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type valueKind uint8

const (
	kindNull valueKind = iota
	kindInt
	kindFloat
	kindDecimal
)

// Value is an aggregation result. The zero Value is null.
type Value struct {
	kind   valueKind
	i      int64
	f      float64
	d      decimal.Decimal
	places int32
}

// Null is the absent result
var Null = Value{}

// IntValue returns an integral result
func IntValue(v int64) Value {
	return Value{kind: kindInt, i: v}
}

// FloatValue returns a floating-point result
func FloatValue(v float64) Value {
	return Value{kind: kindFloat, f: v}
}

// DecimalValue returns a fixed-scale decimal result, rendered with
// exactly places fractional digits.
func DecimalValue(d decimal.Decimal, places int32) Value {
	return Value{kind: kindDecimal, d: d, places: places}
}

// IsNull reports whether the value is absent
func (v Value) IsNull() bool { return v.kind == kindNull }

// IsIntegral reports whether the value is a fixed-point integer
func (v Value) IsIntegral() bool { return v.kind == kindInt }

// IsDecimal reports whether the value is a fixed-scale decimal
func (v Value) IsDecimal() bool { return v.kind == kindDecimal }

// Int returns the integral value
func (v Value) Int() (int64, bool) {
	return v.i, v.kind == kindInt
}

// Decimal returns the decimal value
func (v Value) Decimal() (decimal.Decimal, bool) {
	return v.d, v.kind == kindDecimal
}

// Float64 converts any non-null value to float64
func (v Value) Float64() (float64, bool) {
	switch v.kind {
	case kindInt:
		return float64(v.i), true
	case kindFloat:
		return v.f, true
	case kindDecimal:
		return v.d.InexactFloat64(), true
	}
	return 0, false
}

// String renders the value the same way MarshalJSON does
func (v Value) String() string {
	switch v.kind {
	case kindInt:
		return strconv.FormatInt(v.i, 10)
	case kindFloat:
		if math.IsInf(v.f, 0) || math.IsNaN(v.f) {
			return "null"
		}
		s := strconv.FormatFloat(v.f, 'f', -1, 64)
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		return s
	case kindDecimal:
		return v.d.StringFixed(v.places)
	}
	return "null"
}

// MarshalJSON emits null for absent values. Floating values always carry
// a fraction so that 2 and 2.0 stay distinguishable on the wire.
func (v Value) MarshalJSON() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalJSON reads a value written by MarshalJSON
func (v *Value) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*v = Null
		return nil
	}
	if !strings.ContainsAny(s, ".eE") {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*v = IntValue(n)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*v = FloatValue(f)
	return nil
}
