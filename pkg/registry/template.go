// Package registry holds the schema of the measurement categories a query
// may name: templates, their fields and the aggregation methods each field
// permits.
package registry

import (
	"fmt"
	"slices"
	"strings"

	"github.com/vjranagit/perfmon/pkg/types"
)

// NaturalKind selects how a field computes its NATURAL value
type NaturalKind int

const (
	NaturalRate NaturalKind = iota + 1
	NaturalAverage
	NaturalStdDev
)

func (k NaturalKind) String() string {
	switch k {
	case NaturalRate:
		return "rate"
	case NaturalAverage:
		return "average"
	case NaturalStdDev:
		return "stddev"
	}
	return fmt.Sprintf("NaturalKind(%d)", int(k))
}

// NaturalSpec names the source columns of a NATURAL computation
type NaturalSpec struct {
	Kind NaturalKind `json:"kind"`

	StartColumn   string `json:"startColumn,omitempty"`
	EndColumn     string `json:"endColumn,omitempty"`
	CounterColumn string `json:"counterColumn,omitempty"`

	NumeratorColumn    string `json:"numeratorColumn,omitempty"`
	DenominatorColumn  string `json:"denominatorColumn,omitempty"`
	SumOfSquaresColumn string `json:"sumOfSquaresColumn,omitempty"`
}

func (n NaturalSpec) validate() error {
	var missing bool
	switch n.Kind {
	case NaturalRate:
		missing = n.StartColumn == "" || n.EndColumn == "" || n.CounterColumn == ""
	case NaturalAverage:
		missing = n.NumeratorColumn == "" || n.DenominatorColumn == ""
	case NaturalStdDev:
		missing = n.NumeratorColumn == "" || n.DenominatorColumn == "" || n.SumOfSquaresColumn == ""
	default:
		return fmt.Errorf("unknown natural kind %d", int(n.Kind))
	}
	if missing {
		return fmt.Errorf("natural %s is missing source columns", n.Kind)
	}
	return nil
}

// FieldSpec describes one field of a template
type FieldSpec struct {
	Name string `json:"name"`
	// Column is read by SUM, MIN, MAX and AVERAGE
	Column string `json:"column,omitempty"`
	// Integral fields are read and reported as fixed-point integers
	Integral bool           `json:"integral"`
	Allowed  []types.Method `json:"allowedMethods"`
	Default  types.Method   `json:"defaultMethod"`
	Natural  *NaturalSpec   `json:"natural,omitempty"`
}

// Allows reports whether m may be requested for the field. NATURAL is
// permitted whenever the field declares a natural computation.
func (f FieldSpec) Allows(m types.Method) bool {
	if m == types.MethodNatural {
		return f.Natural != nil
	}
	return slices.Contains(f.Allowed, m)
}

// Methods returns every method the field permits
func (f FieldSpec) Methods() []types.Method {
	out := make([]types.Method, 0, len(types.Methods))
	for _, m := range types.Methods {
		if f.Allows(m) {
			out = append(out, m)
		}
	}
	return out
}

func (f FieldSpec) validate() error {
	if f.Name == "" {
		return fmt.Errorf("field without name")
	}
	for _, m := range f.Allowed {
		if m == types.MethodNatural && f.Natural == nil {
			return fmt.Errorf("field %s allows NATURAL without a natural spec", f.Name)
		}
		if m != types.MethodNatural && f.Column == "" {
			return fmt.Errorf("field %s allows %s without a source column", f.Name, m)
		}
	}
	if f.Default == "" {
		return fmt.Errorf("field %s has no default method", f.Name)
	}
	if !f.Allows(f.Default) {
		return fmt.Errorf("field %s default %s is not an allowed method", f.Name, f.Default)
	}
	if f.Natural != nil {
		if err := f.Natural.validate(); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	return nil
}

// Template is one measurement family and the columns its rows carry
type Template struct {
	Name string `json:"name"`
	// TimestampColumn places a row in a minute bucket
	TimestampColumn string `json:"timestampColumn"`
	// SystemColumn holds the full system identifier of a row, e.g.
	// "ABCD-EFGH.1"
	SystemColumn string `json:"systemColumn"`
	// SubCategoryColumn, when set, is matched against the part of the
	// requested category after the template name
	SubCategoryColumn string      `json:"subCategoryColumn,omitempty"`
	Fields            []FieldSpec `json:"fields"`
}

// Field finds a field by name
func (t Template) Field(name string) (FieldSpec, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// reservedNameChars separate grammar tokens, sub-categories and
// storage key segments
const reservedNameChars = "~_./"

// Validate checks the template invariants
func (t Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template without name")
	}
	if strings.ContainsAny(t.Name, reservedNameChars) {
		return fmt.Errorf("template %q: name must not contain any of %q", t.Name, reservedNameChars)
	}
	if t.TimestampColumn == "" || t.SystemColumn == "" {
		return fmt.Errorf("template %s: timestamp and system columns are required", t.Name)
	}
	if len(t.Fields) == 0 {
		return fmt.Errorf("template %s has no fields", t.Name)
	}
	seen := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		if err := f.validate(); err != nil {
			return fmt.Errorf("template %s: %w", t.Name, err)
		}
		if seen[f.Name] {
			return fmt.Errorf("template %s: duplicate field %s", t.Name, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}
