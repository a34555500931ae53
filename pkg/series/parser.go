// Package series parses the compact series grammar used by query requests.
//
// A request holds one or more series separated by '_'. Each series is a
// '~' separated token list:
//
//	[method~]systemID(~systemID)*~categoryName~fieldName
//
// e.g. "NATURAL~ABCD-EFGH.1~ABCD-EFGH.2~Interval.WebRequest~throughputPerMinute".
package series

import (
	"fmt"
	"strings"

	"github.com/vjranagit/perfmon/pkg/types"
)

const (
	seriesSeparator = "_"
	tokenSeparator  = "~"

	// systems, category and field
	minTokens = 3
)

// ErrInvalidSeries is wrapped by every parse failure
var ErrInvalidSeries = fmt.Errorf("invalid series: %w", types.ErrBadRequest)

// Parse splits expr into series definitions
func Parse(expr string) ([]types.SeriesDefinition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty series expression", ErrInvalidSeries)
	}

	segments := strings.Split(expr, seriesSeparator)
	defs := make([]types.SeriesDefinition, 0, len(segments))
	for i, segment := range segments {
		def, err := parseSegment(segment)
		if err != nil {
			return nil, fmt.Errorf("series %d: %w", i+1, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func parseSegment(segment string) (types.SeriesDefinition, error) {
	var def types.SeriesDefinition

	if strings.TrimSpace(segment) == "" {
		return def, fmt.Errorf("%w: empty series", ErrInvalidSeries)
	}

	tokens := strings.Split(segment, tokenSeparator)
	for i, tok := range tokens {
		tokens[i] = strings.TrimSpace(tok)
		if tokens[i] == "" {
			return def, fmt.Errorf("%w: empty token at position %d in %q", ErrInvalidSeries, i+1, segment)
		}
	}

	if !isSystemToken(tokens[0]) {
		m, ok := types.ParseMethod(tokens[0])
		if !ok {
			return def, fmt.Errorf("%w: unknown aggregation method %q", ErrInvalidSeries, tokens[0])
		}
		def.Method = &m
		tokens = tokens[1:]
	}

	if len(tokens) < minTokens {
		return def, fmt.Errorf("%w: %q needs at least one system id, a category and a field", ErrInvalidSeries, segment)
	}

	systemTokens := tokens[:len(tokens)-2]
	def.Category = tokens[len(tokens)-2]
	def.Field = tokens[len(tokens)-1]

	seen := make(map[types.SystemID]bool, len(systemTokens))
	for _, tok := range systemTokens {
		sys, err := types.ParseSystemID(tok)
		if err != nil {
			return def, fmt.Errorf("%w: %v", ErrInvalidSeries, err)
		}
		if seen[sys] {
			continue
		}
		seen[sys] = true
		def.Systems = append(def.Systems, sys)
	}

	return def, nil
}

// isSystemToken distinguishes a system id from a method keyword by shape
func isSystemToken(tok string) bool {
	return strings.ContainsAny(tok, "-.")
}
