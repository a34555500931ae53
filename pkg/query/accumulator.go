package query

import (
	"fmt"
	"sort"
	"time"

	"github.com/vjranagit/perfmon/pkg/aggregate"
	"github.com/vjranagit/perfmon/pkg/types"
)

// TimestampLayout formats minute bucket labels
const TimestampLayout = "2006-01-02T15:04"

var (
	// ErrUnregisteredTemplate is returned when rows arrive for a template no
	// registered series reads
	ErrUnregisteredTemplate = fmt.Errorf("unregistered template: %w", types.ErrInternal)

	// ErrMissingTimestamp is returned for rows without a timestamp
	ErrMissingTimestamp = fmt.Errorf("row without timestamp: %w", types.ErrInternal)

	// ErrAccumulatorBuilt is returned when the accumulator is used after Build
	ErrAccumulatorBuilt = fmt.Errorf("accumulator already built: %w", types.ErrInternal)
)

// seriesState holds the lazily created aggregators of one series, keyed by
// bucket start in unix seconds
type seriesState struct {
	rs          *ResolvedSeries
	aggregators map[int64]aggregate.Aggregator
}

// Accumulator routes rows to per-series, per-minute aggregators. It has two
// phases: rows are accumulated until Build is first called, after which the
// accumulator is read-only. It is not safe for concurrent use.
type Accumulator struct {
	loc   *time.Location
	built bool

	series          []*seriesState
	byTemplate      map[string][]*seriesState
	timestampColumn map[string]string

	// buckets is sorted and free of duplicates
	buckets []int64
	rows    int
}

// NewAccumulator creates an accumulator whose labels are rendered in loc
func NewAccumulator(loc *time.Location) *Accumulator {
	if loc == nil {
		loc = time.UTC
	}
	return &Accumulator{
		loc:             loc,
		byTemplate:      make(map[string][]*seriesState),
		timestampColumn: make(map[string]string),
	}
}

// Register adds a series. Every series must be registered before rows of
// its template are accumulated.
func (a *Accumulator) Register(rs *ResolvedSeries) error {
	if a.built {
		return ErrAccumulatorBuilt
	}
	state := &seriesState{rs: rs, aggregators: make(map[int64]aggregate.Aggregator)}
	a.series = append(a.series, state)
	a.byTemplate[rs.Template.Name] = append(a.byTemplate[rs.Template.Name], state)
	a.timestampColumn[rs.Template.Name] = rs.Template.TimestampColumn
	return nil
}

// Accumulate feeds one row of template to every series registered under it
func (a *Accumulator) Accumulate(template string, row types.Row) error {
	if a.built {
		return ErrAccumulatorBuilt
	}
	states, ok := a.byTemplate[template]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnregisteredTemplate, template)
	}
	ts, ok := row.Time(a.timestampColumn[template])
	if !ok {
		return fmt.Errorf("%w: template %s column %s", ErrMissingTimestamp, template, a.timestampColumn[template])
	}

	bucket := ts.Truncate(time.Minute).Unix()
	a.addBucket(bucket)
	a.rows++

	for _, s := range states {
		agg, ok := s.aggregators[bucket]
		if !ok {
			agg = s.rs.Factory.NewAggregator()
			s.aggregators[bucket] = agg
		}
		agg.Accumulate(row)
	}
	return nil
}

func (a *Accumulator) addBucket(bucket int64) {
	i := sort.Search(len(a.buckets), func(i int) bool { return a.buckets[i] >= bucket })
	if i < len(a.buckets) && a.buckets[i] == bucket {
		return
	}
	a.buckets = append(a.buckets, 0)
	copy(a.buckets[i+1:], a.buckets[i:])
	a.buckets[i] = bucket
}

// Rows returns how many rows were accumulated
func (a *Accumulator) Rows() int {
	return a.rows
}

// Build ends accumulation and renders the table. Every series gets one
// value per observed bucket, null where it never received a row. Calling
// Build again returns an equal result.
func (a *Accumulator) Build() *types.QueryResult {
	a.built = true

	result := &types.QueryResult{
		Timestamps: make([]string, len(a.buckets)),
		Series:     make([]types.SeriesResult, 0, len(a.series)),
	}
	for i, b := range a.buckets {
		result.Timestamps[i] = time.Unix(b, 0).In(a.loc).Format(TimestampLayout)
	}

	for _, s := range a.series {
		values := make([]types.Value, len(a.buckets))
		for i, b := range a.buckets {
			if agg, ok := s.aggregators[b]; ok {
				values[i] = agg.Result()
			}
		}
		result.Series = append(result.Series, types.SeriesResult{
			Alias:    s.rs.Alias,
			SystemID: s.rs.SystemLabel(),
			Category: s.rs.Category,
			Field:    s.rs.Field.Name,
			Method:   string(s.rs.Method),
			Values:   values,
		})
	}
	return result
}
