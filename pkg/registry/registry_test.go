package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/perfmon/pkg/aggregate"
	"github.com/vjranagit/perfmon/pkg/types"
)

func newBuiltin(t *testing.T) *Registry {
	t.Helper()
	r, err := New(Builtin()...)
	require.NoError(t, err)
	return r
}

func method(m types.Method) *types.Method { return &m }

func TestBuiltinTemplatesAreValid(t *testing.T) {
	for _, tmpl := range Builtin() {
		assert.NoError(t, tmpl.Validate(), tmpl.Name)
	}
	names := make([]string, 0)
	for _, tmpl := range newBuiltin(t).Templates() {
		names = append(names, tmpl.Name)
	}
	assert.Equal(t, []string{"GarbageCollection", "Interval", "JVM", "MemoryPool", "ThreadPool"}, names)
}

func TestResolveDefaultMethod(t *testing.T) {
	r := newBuiltin(t)

	res, err := r.Resolve(types.SeriesDefinition{Category: "Interval.WebRequest.search", Field: "throughputPerMinute"})
	require.NoError(t, err)
	assert.Equal(t, "Interval", res.Template.Name)
	assert.Equal(t, "WebRequest.search", res.SubCategory)
	assert.Equal(t, types.MethodNatural, res.Method)

	res, err = r.Resolve(types.SeriesDefinition{Category: "JVM", Field: "heapMemUsed"})
	require.NoError(t, err)
	assert.Empty(t, res.SubCategory)
	assert.Equal(t, types.MethodAverage, res.Method)
}

func TestResolveExplicitMethod(t *testing.T) {
	r := newBuiltin(t)

	res, err := r.Resolve(types.SeriesDefinition{Method: method(types.MethodMax), Category: "Interval.Login", Field: "averageDuration"})
	require.NoError(t, err)
	assert.Equal(t, types.MethodMax, res.Method)
}

func TestResolveMethodNotAllowed(t *testing.T) {
	r := newBuiltin(t)

	_, err := r.Resolve(types.SeriesDefinition{Method: method(types.MethodSum), Category: "Interval.Login", Field: "maxDuration"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMethodNotAllowed)
	assert.True(t, types.IsClientError(err))
	assert.Contains(t, err.Error(), "SUM")
	assert.Contains(t, err.Error(), "maxDuration")
	assert.Contains(t, err.Error(), "Interval")

	_, err = r.Resolve(types.SeriesDefinition{Method: method(types.MethodNatural), Category: "JVM", Field: "heapMemUsed"})
	assert.ErrorIs(t, err, ErrMethodNotAllowed)
}

func TestResolveNotFound(t *testing.T) {
	r := newBuiltin(t)

	_, err := r.Resolve(types.SeriesDefinition{Category: "Cache.Users", Field: "hits"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), `"Cache"`)

	_, err = r.Resolve(types.SeriesDefinition{Category: "JVM", Field: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, types.IsClientError(err))
}

func TestTemplateValidation(t *testing.T) {
	valid := func() Template {
		return Template{
			Name:            "Cache",
			TimestampColumn: "EndTime",
			SystemColumn:    "SystemID",
			Fields: []FieldSpec{
				{Name: "hits", Column: "Hits", Integral: true, Allowed: []types.Method{types.MethodSum}, Default: types.MethodSum},
			},
		}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(*Template){
		"no default":                   func(t *Template) { t.Fields[0].Default = "" },
		"default not allowed":          func(t *Template) { t.Fields[0].Default = types.MethodMax },
		"natural default without spec": func(t *Template) { t.Fields[0].Default = types.MethodNatural },
		"natural allowed without spec": func(t *Template) { t.Fields[0].Allowed = append(t.Fields[0].Allowed, types.MethodNatural) },
		"incomplete natural":           func(t *Template) { t.Fields[0].Natural = &NaturalSpec{Kind: NaturalRate, StartColumn: "StartTime"} },
		"duplicate field":              func(t *Template) { t.Fields = append(t.Fields, t.Fields[0]) },
		"missing timestamp":            func(t *Template) { t.TimestampColumn = "" },
		"no fields":                    func(t *Template) { t.Fields = nil },
		"dotted name":                  func(t *Template) { t.Name = "Cache.L1" },
		"slash in name":                func(t *Template) { t.Name = "Cache/L1" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			tmpl := valid()
			mutate(&tmpl)
			assert.Error(t, tmpl.Validate())
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := newBuiltin(t)
	err := r.Register(interval())
	assert.ErrorIs(t, err, ErrDuplicateTemplate)
}

func TestConcurrentRegisterAndResolve(t *testing.T) {
	r := newBuiltin(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			tmpl := Template{
				Name:            fmt.Sprintf("Custom%d", i),
				TimestampColumn: "EndTime",
				SystemColumn:    "SystemID",
				Fields: []FieldSpec{
					{Name: "value", Column: "Value", Allowed: []types.Method{types.MethodAverage}, Default: types.MethodAverage},
				},
			}
			assert.NoError(t, r.Register(tmpl))
		}(i)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(types.SeriesDefinition{Category: "JVM", Field: "heapMemUsed"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, r.Templates(), len(Builtin())+8)
}

func TestFieldMethods(t *testing.T) {
	tmpl, ok := newBuiltin(t).Template(TemplateInterval)
	require.True(t, ok)

	f, ok := tmpl.Field("throughputPerMinute")
	require.True(t, ok)
	assert.Equal(t, []types.Method{types.MethodMin, types.MethodMax, types.MethodAverage, types.MethodNatural}, f.Methods())
}

func TestAggregatorSpec(t *testing.T) {
	tmpl, _ := newBuiltin(t).Template(TemplateInterval)

	f, _ := tmpl.Field("throughputPerMinute")
	spec, err := f.AggregatorSpec(types.MethodNatural)
	require.NoError(t, err)
	assert.Equal(t, aggregate.KindNaturalRate, spec.Kind)
	assert.Equal(t, "TotalCompletions", spec.Counter)

	spec, err = f.AggregatorSpec(types.MethodMax)
	require.NoError(t, err)
	assert.Equal(t, aggregate.Spec{Kind: aggregate.KindMax, Column: "NormalizedThroughputPerMinute"}, spec)

	f, _ = tmpl.Field("standardDeviation")
	spec, err = f.AggregatorSpec(types.MethodNatural)
	require.NoError(t, err)
	assert.Equal(t, "DurationSumOfSquares", spec.SumOfSquares)

	f, _ = tmpl.Field("totalHits")
	spec, err = f.AggregatorSpec(types.MethodAverage)
	require.NoError(t, err)
	assert.True(t, spec.Integral)

	_, err = f.AggregatorSpec(types.MethodNatural)
	assert.ErrorIs(t, err, ErrMethodNotAllowed)
}
