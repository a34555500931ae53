package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/perfmon/internal/metrics"
	"github.com/vjranagit/perfmon/pkg/types"
)

func walBatch(id int64, v int) *types.RowBatch {
	b := &types.RowBatch{
		Template: "Interval",
		System:   types.SystemID{Database: "ABCD-EFGH", ID: id},
		Rows:     []types.MapRow{{"EndTime": testBase, "TotalHits": v}},
	}
	b.Normalize()
	return b
}

func TestWAL(t *testing.T) {
	tmpDir := t.TempDir()

	wal, err := NewWAL(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}

	batch := walBatch(1, 42)
	if err := wal.Append(batch); err != nil {
		t.Fatalf("Failed to append to WAL: %v", err)
	}
	if err := wal.Flush(); err != nil {
		t.Fatalf("Failed to flush WAL: %v", err)
	}
	require.NoError(t, wal.Close())

	var replayed []*types.RowBatch
	err = ReplayWAL(tmpDir, func(b *types.RowBatch) error {
		replayed = append(replayed, b)
		return nil
	})
	if err != nil {
		t.Fatalf("WAL replay failed: %v", err)
	}

	require.Len(t, replayed, 1)
	got := replayed[0]
	require.NoError(t, got.Normalize())
	assert.Equal(t, "Interval", got.Template)
	assert.Equal(t, batch.System, got.System)
	hits, ok := got.Rows[0].Int("TotalHits")
	assert.True(t, ok)
	assert.Equal(t, int64(42), hits)
	ts, ok := got.Rows[0].Time("EndTime")
	assert.True(t, ok)
	assert.True(t, testBase.Equal(ts))

	// Replayed files are removed
	files, err := os.ReadDir(filepath.Join(tmpDir, "wal"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestWALTruncate(t *testing.T) {
	tmpDir := t.TempDir()
	wal, err := NewWAL(tmpDir)
	require.NoError(t, err)

	require.NoError(t, wal.Append(walBatch(1, 1)))
	require.NoError(t, wal.Truncate())
	require.NoError(t, wal.Append(walBatch(2, 2)))
	require.NoError(t, wal.Close())

	var systems []int64
	require.NoError(t, ReplayWAL(tmpDir, func(b *types.RowBatch) error {
		require.NoError(t, b.Normalize())
		systems = append(systems, b.System.ID)
		return nil
	}))
	assert.Equal(t, []int64{2}, systems)

	assert.Error(t, wal.Truncate())
}

func TestReplayWALMissingDirectory(t *testing.T) {
	assert.NoError(t, ReplayWAL(t.TempDir(), func(*types.RowBatch) error {
		t.Fatal("handler should not run")
		return nil
	}))
}

func TestReplayWALHandlerError(t *testing.T) {
	tmpDir := t.TempDir()
	wal, err := NewWAL(tmpDir)
	require.NoError(t, err)
	require.NoError(t, wal.Append(walBatch(1, 1)))
	require.NoError(t, wal.Close())

	boom := errors.New("boom")
	err = ReplayWAL(tmpDir, func(*types.RowBatch) error { return boom })
	assert.ErrorIs(t, err, boom)

	// A failed file stays for the next attempt
	files, _ := os.ReadDir(filepath.Join(tmpDir, "wal"))
	assert.Len(t, files, 1)
}

// recordingStorage is a Storage that remembers what it was given
type recordingStorage struct {
	mu      sync.Mutex
	batches []*types.RowBatch
	fail    error
	reject  func(*types.RowBatch) error
}

func (r *recordingStorage) Write(_ context.Context, b *types.RowBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	if r.reject != nil {
		if err := r.reject(b); err != nil {
			return err
		}
	}
	r.batches = append(r.batches, b)
	return nil
}

func (r *recordingStorage) Close() error { return nil }

func (r *recordingStorage) written() []*types.RowBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*types.RowBatch(nil), r.batches...)
}

func TestBatchWriterFlushesWhenFull(t *testing.T) {
	store := &recordingStorage{}
	var flushes atomic.Int32
	bw := NewBatchWriter(store, nil, 3, WithFlushInterval(time.Hour), WithOnFlush(func() { flushes.Add(1) }))
	defer bw.Close()

	ctx := context.Background()
	require.NoError(t, bw.Write(ctx, walBatch(1, 1)))
	require.NoError(t, bw.Write(ctx, walBatch(2, 2)))
	assert.Empty(t, store.written())
	assert.Equal(t, 2, bw.Buffered())

	require.NoError(t, bw.Write(ctx, walBatch(1, 3)))
	assert.Equal(t, 0, bw.Buffered())
	assert.Equal(t, int32(1), flushes.Load())

	// Batches of the same system and template are merged in arrival order
	written := store.written()
	require.Len(t, written, 2)
	assert.Equal(t, "ABCD-EFGH.1", written[0].SystemID)
	require.Len(t, written[0].Rows, 2)
	first, _ := written[0].Rows[0].Int("TotalHits")
	second, _ := written[0].Rows[1].Int("TotalHits")
	assert.Equal(t, []int64{1, 3}, []int64{first, second})
	assert.Equal(t, "ABCD-EFGH.2", written[1].SystemID)
}

func TestBatchWriterFlushesOnTimer(t *testing.T) {
	store := &recordingStorage{}
	bw := NewBatchWriter(store, nil, 100, WithFlushInterval(10*time.Millisecond))
	defer bw.Close()

	require.NoError(t, bw.Write(context.Background(), walBatch(1, 1)))
	require.Eventually(t, func() bool { return len(store.written()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestBatchWriterCloseFlushes(t *testing.T) {
	store := &recordingStorage{}
	bw := NewBatchWriter(store, nil, 100, WithFlushInterval(time.Hour))

	require.NoError(t, bw.Write(context.Background(), walBatch(1, 1)))
	require.NoError(t, bw.Close())
	assert.Len(t, store.written(), 1)

	assert.Error(t, bw.Write(context.Background(), walBatch(1, 2)))
	assert.NoError(t, bw.Close())
}

func TestBatchWriterRejectsMalformedSystem(t *testing.T) {
	bw := NewBatchWriter(&recordingStorage{}, nil, 10, WithFlushInterval(time.Hour))
	defer bw.Close()

	err := bw.Write(context.Background(), &types.RowBatch{Template: "Interval", SystemID: "bad"})
	require.Error(t, err)
	assert.True(t, types.IsClientError(err))
	assert.Equal(t, 0, bw.Buffered())
}

func TestBatchWriterKeepsBufferOnFailure(t *testing.T) {
	store := &recordingStorage{fail: errors.New("disk full")}
	var flushes atomic.Int32
	bw := NewBatchWriter(store, nil, 10, WithFlushInterval(time.Hour), WithOnFlush(func() { flushes.Add(1) }))

	require.NoError(t, bw.Write(context.Background(), walBatch(1, 1)))
	assert.Error(t, bw.Flush(context.Background()))
	assert.Equal(t, 1, bw.Buffered())
	assert.Equal(t, int32(0), flushes.Load())

	store.mu.Lock()
	store.fail = nil
	store.mu.Unlock()

	require.NoError(t, bw.Close())
	assert.Len(t, store.written(), 1)
}

func TestBatchWriterTruncatesWALAfterFlush(t *testing.T) {
	tmpDir := t.TempDir()
	wal, err := NewWAL(tmpDir)
	require.NoError(t, err)

	store := &recordingStorage{}
	bw := NewBatchWriter(store, wal, 10, WithFlushInterval(time.Hour))

	require.NoError(t, bw.Write(context.Background(), walBatch(1, 1)))
	require.NoError(t, bw.Flush(context.Background()))
	require.NoError(t, bw.Write(context.Background(), walBatch(2, 2)))

	// Simulate a crash: the second batch is only in the WAL
	require.NoError(t, wal.Close())

	var replayed []string
	require.NoError(t, ReplayWAL(tmpDir, func(b *types.RowBatch) error {
		replayed = append(replayed, b.SystemID)
		return nil
	}))
	assert.Equal(t, []string{"ABCD-EFGH.2"}, replayed)

	require.NoError(t, bw.Close())
	assert.Len(t, store.written(), 2)
}

func TestBatchWriterIntoRowStore(t *testing.T) {
	store := newMemStore(t)
	bw := NewBatchWriter(store, nil, 1, WithFlushInterval(time.Hour))
	defer bw.Close()

	require.NoError(t, bw.Write(context.Background(), walBatch(1, 5)))

	rows := scanAll(t, store, ScanRequest{
		Template: "Interval",
		Systems:  []types.SystemID{{Database: "ABCD-EFGH", ID: 1}},
		Start:    testBase,
		End:      testBase.Add(time.Hour),
	})
	require.Len(t, rows, 1)
}

func TestBatchWriterRejectsRowWithoutTimestamp(t *testing.T) {
	tmpDir := t.TempDir()
	wal, err := NewWAL(tmpDir)
	require.NoError(t, err)

	store := newMemStore(t)
	bw := NewBatchWriter(store, wal, 64, WithFlushInterval(time.Hour))

	bad := &types.RowBatch{
		Template: "Interval",
		SystemID: "ABCD-EFGH.1",
		Rows:     []types.MapRow{{"TotalHits": 1}},
	}
	err = bw.Write(context.Background(), bad)
	require.Error(t, err)
	assert.True(t, types.IsClientError(err))
	assert.Equal(t, 0, bw.Buffered())

	require.NoError(t, bw.Write(context.Background(), walBatch(2, 7)))
	require.NoError(t, bw.Flush(context.Background()))

	rows := scanAll(t, store, ScanRequest{
		Template: "Interval",
		Systems:  []types.SystemID{{Database: "ABCD-EFGH", ID: 2}},
		Start:    testBase,
		End:      testBase.Add(time.Hour),
	})
	require.Len(t, rows, 1)

	// Neither batch is left to replay
	require.NoError(t, bw.Close())
	require.NoError(t, wal.Close())
	require.NoError(t, ReplayWAL(tmpDir, func(b *types.RowBatch) error {
		t.Fatalf("unexpected replay of %s", b.SystemID)
		return nil
	}))
}

func TestBatchWriterDropsRejectedGroups(t *testing.T) {
	store := &recordingStorage{reject: func(b *types.RowBatch) error {
		if b.System.ID == 1 {
			return fmt.Errorf("%w: unusable rows", types.ErrBadRequest)
		}
		return nil
	}}
	m := metrics.New(nil)
	var flushes atomic.Int32
	bw := NewBatchWriter(store, nil, 10,
		WithFlushInterval(time.Hour),
		WithBatchMetrics(m),
		WithOnFlush(func() { flushes.Add(1) }),
	)
	defer bw.Close()

	ctx := context.Background()
	require.NoError(t, bw.Write(ctx, walBatch(1, 1)))
	require.NoError(t, bw.Write(ctx, walBatch(2, 2)))
	require.NoError(t, bw.Flush(ctx))

	assert.Equal(t, 0, bw.Buffered())
	assert.Equal(t, int32(1), flushes.Load())
	written := store.written()
	require.Len(t, written, 1)
	assert.Equal(t, "ABCD-EFGH.2", written[0].SystemID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestDropped))

	// Later flushes are not blocked by the dropped group
	require.NoError(t, bw.Write(ctx, walBatch(3, 3)))
	require.NoError(t, bw.Flush(ctx))
	assert.Len(t, store.written(), 2)
}

func TestReplayIntoSkipsRejectedEntries(t *testing.T) {
	tmpDir := t.TempDir()
	wal, err := NewWAL(tmpDir)
	require.NoError(t, err)

	// Entries written before validation existed may lack a timestamp
	require.NoError(t, wal.Append(&types.RowBatch{
		Template: "Interval",
		SystemID: "ABCD-EFGH.1",
		Rows:     []types.MapRow{{"TotalHits": 1}},
	}))
	require.NoError(t, wal.Append(walBatch(2, 2)))
	require.NoError(t, wal.Close())

	store := newMemStore(t)
	stored, err := ReplayInto(context.Background(), tmpDir, store, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stored)

	rows := scanAll(t, store, ScanRequest{
		Template: "Interval",
		Systems:  []types.SystemID{{Database: "ABCD-EFGH", ID: 2}},
		Start:    testBase,
		End:      testBase.Add(time.Hour),
	})
	assert.Len(t, rows, 1)

	files, err := os.ReadDir(filepath.Join(tmpDir, "wal"))
	require.NoError(t, err)
	assert.Empty(t, files)
}
