package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/perfmon/pkg/types"
)

func TestCompressTimestamps(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	// Regular one-minute intervals in milliseconds
	now := time.Now().UnixMilli()
	timestamps := make([]int64, 100)
	for i := 0; i < 100; i++ {
		timestamps[i] = now + int64(i*60_000)
	}

	compressed, err := comp.CompressTimestamps(timestamps)
	if err != nil {
		t.Fatalf("Compression failed: %v", err)
	}

	originalSize := len(timestamps) * 8
	if len(compressed) >= originalSize {
		t.Errorf("Compression ineffective: original=%d, compressed=%d",
			originalSize, len(compressed))
	}

	decompressed, err := comp.DecompressTimestamps(compressed, len(timestamps))
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}
	assert.Equal(t, timestamps, decompressed)
}

func TestCompressTimestampsUnordered(t *testing.T) {
	comp, err := NewCompressor(1)
	require.NoError(t, err)
	defer comp.Close()

	timestamps := []int64{5000, 1000, 9000, 9000, 2000}
	compressed, err := comp.CompressTimestamps(timestamps)
	require.NoError(t, err)

	decompressed, err := comp.DecompressTimestamps(compressed, len(timestamps))
	require.NoError(t, err)
	assert.Equal(t, timestamps, decompressed)
}

func TestCompressRows(t *testing.T) {
	comp, err := NewCompressor(2)
	require.NoError(t, err)
	defer comp.Close()

	rows := []types.MapRow{
		{"TotalHits": 9007199254740993, "DurationSum": 12.5, "CategoryName": "Interval.web"},
		{"TotalHits": nil},
		{},
	}

	compressed, err := comp.CompressRows(rows)
	require.NoError(t, err)

	decoded, err := comp.DecompressRows(compressed)
	require.NoError(t, err)
	require.Len(t, decoded, 3)

	// Integers survive without float rounding
	assert.Equal(t, json.Number("9007199254740993"), decoded[0]["TotalHits"])
	hits, ok := decoded[0].Int("TotalHits")
	assert.True(t, ok)
	assert.Equal(t, int64(9007199254740993), hits)

	f, ok := decoded[0].Float("DurationSum")
	assert.True(t, ok)
	assert.Equal(t, 12.5, f)

	_, ok = decoded[1].Int("TotalHits")
	assert.False(t, ok)
	assert.Empty(t, decoded[2])
}

func TestCompressEmpty(t *testing.T) {
	comp, err := NewCompressor(2)
	require.NoError(t, err)
	defer comp.Close()

	data, err := comp.CompressRows(nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	rows, err := comp.DecompressRows(nil)
	require.NoError(t, err)
	assert.Nil(t, rows)

	ts, err := comp.DecompressTimestamps(nil, 0)
	require.NoError(t, err)
	assert.Nil(t, ts)
}

func TestCompressionLevels(t *testing.T) {
	testCases := []struct {
		level       int
		description string
	}{
		{1, "fastest"},
		{2, "default"},
		{3, "better"},
		{4, "best"},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			comp, err := NewCompressor(tc.level)
			if err != nil {
				t.Fatalf("Failed to create compressor at level %d: %v",
					tc.level, err)
			}
			defer comp.Close()

			rows := []types.MapRow{{"v": 1}, {"v": 2}, {"v": 3}}
			compressed, err := comp.CompressRows(rows)
			if err != nil {
				t.Fatalf("Compression failed: %v", err)
			}

			decoded, err := comp.DecompressRows(compressed)
			if err != nil {
				t.Fatalf("Decompression failed: %v", err)
			}

			for i := range rows {
				v, _ := decoded[i].Int("v")
				if v != int64(i+1) {
					t.Errorf("Mismatch at index %d", i)
				}
			}
		})
	}
}

func BenchmarkCompressTimestamps(b *testing.B) {
	comp, _ := NewCompressor(2)
	defer comp.Close()

	now := time.Now().UnixMilli()
	timestamps := make([]int64, 1000)
	for i := 0; i < 1000; i++ {
		timestamps[i] = now + int64(i*60_000)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = comp.CompressTimestamps(timestamps)
	}
}

func BenchmarkCompressRows(b *testing.B) {
	comp, _ := NewCompressor(2)
	defer comp.Close()

	rows := make([]types.MapRow, 1000)
	for i := range rows {
		rows[i] = types.MapRow{"TotalHits": i, "DurationSum": float64(i) * 1.5}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = comp.CompressRows(rows)
	}
}
