package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/perfmon/pkg/registry"
	"github.com/vjranagit/perfmon/pkg/series"
	"github.com/vjranagit/perfmon/pkg/types"
)

func resolveOne(t *testing.T, expr string) *ResolvedSeries {
	t.Helper()
	reg, err := registry.New(registry.Builtin()...)
	require.NoError(t, err)

	defs, err := series.Parse(expr)
	require.NoError(t, err)
	plan, err := NewResolver(reg, &memProvider{}).Resolve(defs, time.UTC)
	require.NoError(t, err)
	require.Len(t, plan.Series, 1)
	return plan.Series[0]
}

func TestSystemFilterUsesFullIdentifiers(t *testing.T) {
	rs := resolveOne(t, "ABCD-EFGH.1~abcd-efgh.2~JVM~heapMemUsed")

	spec := systemFilter(rs)
	assert.Equal(t, registry.ColumnSystemID, spec.Column)
	assert.Equal(t, []string{"ABCD-EFGH.1", "ABCD-EFGH.2"}, spec.Allowed)
}

func TestSystemFilterMatchesRows(t *testing.T) {
	rs := resolveOne(t, "MAX~ABCD-EFGH.1~JVM~heapMemUsed")

	agg := rs.Factory.NewAggregator()
	agg.Accumulate(types.MapRow{registry.ColumnSystemID: "ABCD-EFGH.1", "HeapMemUsed": 10})
	// A bare numeric id or another database's system is not a match
	agg.Accumulate(types.MapRow{registry.ColumnSystemID: "1", "HeapMemUsed": 99})
	agg.Accumulate(types.MapRow{registry.ColumnSystemID: "WXYZ-0000.1", "HeapMemUsed": 98})

	assert.Equal(t, types.IntValue(10), agg.Result())
}
