package query

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/vjranagit/perfmon/internal/metrics"
	"github.com/vjranagit/perfmon/pkg/series"
	"github.com/vjranagit/perfmon/pkg/types"
)

// DefaultWindow is the query range used when Start is not given
const DefaultWindow = time.Hour

// ErrInvalidRange is returned when End precedes Start
var ErrInvalidRange = fmt.Errorf("invalid time range: %w", types.ErrBadRequest)

// Request is one series query
type Request struct {
	Series string
	Start  time.Time
	End    time.Time
}

// Cache stores query results by key
type Cache interface {
	Get(key string) (*types.QueryResult, bool)
	Put(key string, result *types.QueryResult)
}

// Engine answers series queries: parse, resolve, fetch, accumulate, build
type Engine struct {
	resolver *Resolver
	cache    Cache
	logger   *slog.Logger
	metrics  *metrics.Metrics
	loc      *time.Location
	now      func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithCache puts cache in front of the engine
func WithCache(c Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithLogger sets the engine logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the collectors the engine updates
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLocation sets the zone bucket labels are rendered in
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// WithClock overrides the time source used for default ranges
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine over resolver
func NewEngine(resolver *Resolver, opts ...Option) *Engine {
	e := &Engine{
		resolver: resolver,
		logger:   slog.Default(),
		loc:      time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New(nil)
	}
	return e
}

// Query runs req and returns the bucketed table
func (e *Engine) Query(ctx context.Context, req Request) (*types.QueryResult, error) {
	started := time.Now()

	if req.End.IsZero() {
		req.End = e.now()
	}
	if req.Start.IsZero() {
		req.Start = req.End.Add(-DefaultWindow)
	}
	if req.End.Before(req.Start) {
		e.metrics.Queries.WithLabelValues(metrics.OutcomeBadRequest).Inc()
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidRange, req.End.Format(time.RFC3339), req.Start.Format(time.RFC3339))
	}

	key := cacheKey(req)
	if e.cache != nil {
		if result, ok := e.cache.Get(key); ok {
			e.metrics.Queries.WithLabelValues(metrics.OutcomeCacheHit).Inc()
			return result, nil
		}
	}

	result, rows, err := e.run(ctx, req)
	if err != nil {
		outcome := metrics.OutcomeError
		if types.IsClientError(err) {
			outcome = metrics.OutcomeBadRequest
		}
		e.metrics.Queries.WithLabelValues(outcome).Inc()
		e.logger.Debug("query failed", "series", req.Series, "error", err)
		return nil, err
	}

	elapsed := time.Since(started)
	e.metrics.Queries.WithLabelValues(metrics.OutcomeOK).Inc()
	e.metrics.QueryDuration.Observe(elapsed.Seconds())
	e.metrics.BucketsBuilt.Observe(float64(len(result.Timestamps)))
	e.logger.Debug("query complete",
		"series", len(result.Series),
		"buckets", len(result.Timestamps),
		"rows", rows,
		"duration", elapsed,
	)

	if e.cache != nil {
		e.cache.Put(key, result)
	}
	return result, nil
}

func (e *Engine) run(ctx context.Context, req Request) (*types.QueryResult, int, error) {
	defs, err := series.Parse(req.Series)
	if err != nil {
		return nil, 0, err
	}

	plan, err := e.resolver.Resolve(defs, e.loc)
	if err != nil {
		return nil, 0, err
	}
	e.metrics.SeriesResolved.Add(float64(len(plan.Series)))

	for _, fetch := range plan.Fetches {
		fetch.Start = req.Start
		fetch.End = req.End

		p, err := e.resolver.provider(fetch.Template.Name)
		if err != nil {
			return nil, 0, err
		}
		template := fetch.Template.Name
		err = p.Fetch(ctx, fetch, func(row types.Row) error {
			return plan.Accumulator.Accumulate(template, row)
		})
		if err != nil {
			return nil, 0, fmt.Errorf("fetch %s: %w", template, err)
		}
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
	}

	rows := plan.Accumulator.Rows()
	e.metrics.RowsAccumulated.Add(float64(rows))
	return plan.Accumulator.Build(), rows, nil
}

func cacheKey(req Request) string {
	return req.Series + "|" + strconv.FormatInt(req.Start.UnixMilli(), 10) + "|" + strconv.FormatInt(req.End.UnixMilli(), 10)
}
