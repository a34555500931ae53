package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/perfmon/pkg/registry"
	"github.com/vjranagit/perfmon/pkg/storage"
	"github.com/vjranagit/perfmon/pkg/types"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestCategoriesCommand(t *testing.T) {
	out, err := run(t, "categories")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "CATEGORY") {
		t.Errorf("missing header in output: %s", out)
	}
	assert.Contains(t, out, "Interval[.<CategoryName>]")
	assert.Contains(t, out, "throughputPerMinute")
	assert.Contains(t, out, "MIN,MAX,AVERAGE,NATURAL")
}

func TestQueryCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PERFMON_STORAGE_PATH", dir)

	store, err := storage.NewStorage(&storage.Config{Path: dir, RetentionDays: 30, CompressionLevel: 1}, nil)
	require.NoError(t, err)
	end := time.Date(2015, 1, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, store.Write(context.Background(), &types.RowBatch{
		Template: registry.TemplateInterval,
		SystemID: "ABCD-EFGH.1",
		Rows: []types.MapRow{
			{registry.ColumnEndTime: end, registry.ColumnCategory: "WebRequest", "TotalHits": 5},
		},
	}))
	require.NoError(t, store.Close())

	out, err := run(t, "query",
		"--series", "ABCD-EFGH.1~Interval~totalHits",
		"--start", "2015-01-01T09:00:00Z",
		"--end", "2015-01-01T10:00:00Z",
	)
	require.NoError(t, err, out)

	var result types.QueryResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, []string{"2015-01-01T09:30"}, result.Timestamps)
	require.Len(t, result.Series, 1)
	assert.Equal(t, []types.Value{types.IntValue(5)}, result.Series[0].Values)
}

func TestQueryCommandBadSeries(t *testing.T) {
	t.Setenv("PERFMON_STORAGE_PATH", t.TempDir())

	_, err := run(t, "query", "--series", "Interval", "--start", "", "--end", "")
	if err == nil {
		t.Fatal("expected error for invalid series")
	}
	if !strings.Contains(err.Error(), "perfmon query") {
		t.Errorf("error should mention 'perfmon query', got: %v", err)
	}
}

func TestQueryCommandBadTime(t *testing.T) {
	_, err := run(t, "query", "--series", "ABCD-EFGH.1~Interval~totalHits", "--start", "noon", "--end", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--start")
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := run(t, "query", "--log-level", "loud", "--series", "x", "--start", "", "--end", "")
	logLevel = ""
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")
}

func TestSetupLogger(t *testing.T) {
	ctx := context.Background()
	assert.True(t, setupLogger("debug").Enabled(ctx, -4))
	assert.False(t, setupLogger("warn").Enabled(ctx, 0))
	assert.True(t, setupLogger("bogus").Enabled(ctx, 0))
}
