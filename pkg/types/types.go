package types

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DatabaseID is the display code of a monitored database, e.g. "ABCD-EFGH"
type DatabaseID string

var databaseIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{4}-[A-Za-z0-9]{4}$`)

// Valid reports whether the id has the 4-dash-4 display form
func (d DatabaseID) Valid() bool {
	return databaseIDPattern.MatchString(string(d))
}

// SystemID identifies one monitored process within a database
type SystemID struct {
	Database DatabaseID
	ID       int64
}

// String renders the id as "ABCD-EFGH.12"
func (s SystemID) String() string {
	return fmt.Sprintf("%s.%d", s.Database, s.ID)
}

// ParseSystemID parses the "ABCD-EFGH.12" form
func ParseSystemID(s string) (SystemID, error) {
	db, id, ok := strings.Cut(s, ".")
	if !ok {
		return SystemID{}, fmt.Errorf("malformed system identifier %q: missing '.'", s)
	}
	if !DatabaseID(db).Valid() {
		return SystemID{}, fmt.Errorf("malformed system identifier %q: invalid database id", s)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n < 0 {
		return SystemID{}, fmt.Errorf("malformed system identifier %q: invalid system number", s)
	}
	return SystemID{Database: DatabaseID(strings.ToUpper(db)), ID: n}, nil
}

// Method is an aggregation method keyword
type Method string

const (
	MethodSum     Method = "SUM"
	MethodMin     Method = "MIN"
	MethodMax     Method = "MAX"
	MethodAverage Method = "AVERAGE"
	MethodNatural Method = "NATURAL"
)

// Methods lists every method keyword
var Methods = []Method{MethodSum, MethodMin, MethodMax, MethodAverage, MethodNatural}

// ParseMethod matches a method keyword case-insensitively
func ParseMethod(s string) (Method, bool) {
	for _, m := range Methods {
		if strings.EqualFold(string(m), s) {
			return m, true
		}
	}
	return "", false
}

// SeriesDefinition is one parsed series request
type SeriesDefinition struct {
	// Method is nil when the request did not name one
	Method   *Method
	Systems  []SystemID
	Category string
	Field    string
}

// String renders the definition back into grammar form
func (d SeriesDefinition) String() string {
	parts := make([]string, 0, len(d.Systems)+3)
	if d.Method != nil {
		parts = append(parts, string(*d.Method))
	}
	for _, s := range d.Systems {
		parts = append(parts, s.String())
	}
	parts = append(parts, d.Category, d.Field)
	return strings.Join(parts, "~")
}

// RowBatch is a set of raw rows pushed by one system for one template
type RowBatch struct {
	Template        string   `json:"template"`
	System          SystemID `json:"-"`
	SystemID        string   `json:"systemID"`
	TimestampColumn string   `json:"timestampColumn,omitempty"`
	Rows            []MapRow `json:"rows"`
}

// Normalize parses SystemID into System when only the string form is set
func (b *RowBatch) Normalize() error {
	if b.SystemID == "" {
		b.SystemID = b.System.String()
		return nil
	}
	sys, err := ParseSystemID(b.SystemID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	b.System = sys
	return nil
}

// SeriesResult is one output column of a query
type SeriesResult struct {
	Alias    string  `json:"alias,omitempty"`
	SystemID string  `json:"systemID,omitempty"`
	Category string  `json:"category,omitempty"`
	Field    string  `json:"fieldName,omitempty"`
	Method   string  `json:"aggregationMethod,omitempty"`
	Values   []Value `json:"values"`
}

// QueryResult is the minute-bucketed table produced by a query
type QueryResult struct {
	Timestamps []string       `json:"orderedTimestamps"`
	Series     []SeriesResult `json:"series"`
}
