package types

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Row is a single raw measurement row. Every accessor reports false when
// the column is absent or null, which is distinct from a zero value.
type Row interface {
	Int(column string) (int64, bool)
	Float(column string) (float64, bool)
	Decimal(column string) (decimal.Decimal, bool)
	String(column string) (string, bool)
	Time(column string) (time.Time, bool)
}

// MapRow is a Row backed by a column map. Values may be any Go numeric
// type, json.Number, string, bool, time.Time, decimal.Decimal or nil.
type MapRow map[string]any

var _ Row = MapRow(nil)

// Int implements Row
func (r MapRow) Int(column string) (int64, bool) {
	switch v := r[column].(type) {
	case nil:
		return 0, false
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float32:
		return roundToInt(float64(v))
	case float64:
		return roundToInt(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil {
			return roundToInt(f)
		}
	case decimal.Decimal:
		return roundDecimalToInt(v)
	case string:
		trimmed := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return roundToInt(f)
		}
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// roundToInt rounds half away from zero. Values outside the int64 range
// and NaN are not representable.
func roundToInt(f float64) (int64, bool) {
	r := math.Round(f)
	if math.IsNaN(r) || r < math.MinInt64 || r >= math.MaxInt64 {
		return 0, false
	}
	return int64(r), true
}

func roundDecimalToInt(d decimal.Decimal) (int64, bool) {
	r := d.Round(0)
	if !r.BigInt().IsInt64() {
		return 0, false
	}
	return r.IntPart(), true
}

// Float implements Row
func (r MapRow) Float(column string) (float64, bool) {
	switch v := r[column].(type) {
	case nil:
		return 0, false
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		if math.IsNaN(v) {
			return 0, false
		}
		return v, true
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, true
		}
	case decimal.Decimal:
		return v.InexactFloat64(), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// Decimal implements Row. Integers and json.Number convert exactly.
func (r MapRow) Decimal(column string) (decimal.Decimal, bool) {
	switch v := r[column].(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return v, true
	case json.Number:
		if d, err := decimal.NewFromString(v.String()); err == nil {
			return d, true
		}
		return decimal.Zero, false
	case string:
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			return d, true
		}
		return decimal.Zero, false
	case float32, float64:
		f, ok := r.Float(column)
		if !ok {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(f), true
	case time.Time:
		return decimal.NewFromInt(v.UnixMilli()), true
	}
	n, ok := r.Int(column)
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromInt(n), true
}

// String implements Row. Numbers are rendered in their canonical form.
func (r MapRow) String(column string) (string, bool) {
	switch v := r[column].(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case int:
		return strconv.Itoa(v), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint32:
		return strconv.FormatUint(uint64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	case decimal.Decimal:
		return v.String(), true
	case time.Time:
		return v.Format(time.RFC3339Nano), true
	}
	return "", false
}

// Time implements Row. Numbers are taken as unix milliseconds, strings
// as RFC3339.
func (r MapRow) Time(column string) (time.Time, bool) {
	switch v := r[column].(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return v, !v.IsZero()
	case string:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	ms, ok := r.Int(column)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Project returns a copy of the row restricted to columns
func (r MapRow) Project(columns []string) MapRow {
	if len(columns) == 0 {
		out := make(MapRow, len(r))
		for k, v := range r {
			out[k] = v
		}
		return out
	}
	out := make(MapRow, len(columns))
	for _, c := range columns {
		if v, ok := r[c]; ok {
			out[c] = v
		}
	}
	return out
}
