package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vjranagit/perfmon/internal/metrics"
	"github.com/vjranagit/perfmon/pkg/types"
)

const walFlushInterval = time.Second

// WAL implements a Write-Ahead Log for durability
type WAL struct {
	path       string
	file       *os.File
	writer     *bufio.Writer
	mu         sync.Mutex
	flushTimer *time.Timer
	closed     bool
}

// WALEntry represents a single WAL entry
type WALEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Batch     *types.RowBatch `json:"batch"`
}

// NewWAL creates a new Write-Ahead Log under dataPath/wal
func NewWAL(dataPath string) (*WAL, error) {
	walPath := filepath.Join(dataPath, "wal")
	if err := os.MkdirAll(walPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	file, err := openWALFile(walPath)
	if err != nil {
		return nil, err
	}

	wal := &WAL{
		path:   walPath,
		file:   file,
		writer: bufio.NewWriter(file),
	}
	wal.flushTimer = time.AfterFunc(walFlushInterval, wal.autoFlush)

	return wal, nil
}

func openWALFile(walPath string) (*os.File, error) {
	filename := filepath.Join(walPath, fmt.Sprintf("wal-%020d.log", time.Now().UnixNano()))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}
	return file, nil
}

// Append appends a row batch to the WAL
func (w *WAL) Append(batch *types.RowBatch) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(WALEntry{Timestamp: time.Now(), Batch: batch})
	if err != nil {
		return fmt.Errorf("failed to marshal WAL entry: %w", err)
	}

	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write to WAL: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

// Flush flushes the WAL to disk
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *WAL) flushLocked() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	return nil
}

// Truncate discards everything logged so far by switching to a new file.
// Callers invoke it once the logged batches are durable in storage.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("WAL closed")
	}

	old := w.file.Name()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close WAL file: %w", err)
	}
	if err := os.Remove(old); err != nil {
		return fmt.Errorf("failed to remove WAL file: %w", err)
	}

	file, err := openWALFile(w.path)
	if err != nil {
		return err
	}
	w.file = file
	w.writer.Reset(file)
	return nil
}

// autoFlush periodically flushes the WAL
func (w *WAL) autoFlush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.flushLocked()
	w.flushTimer.Reset(walFlushInterval)
}

// Close closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.flushTimer != nil {
		w.flushTimer.Stop()
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	return w.file.Close()
}

// ReplayWAL replays WAL entries for recovery, oldest file first, and
// removes each file once replayed.
func ReplayWAL(dataPath string, handler func(*types.RowBatch) error) error {
	walPath := filepath.Join(dataPath, "wal")

	entries, err := os.ReadDir(walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read WAL directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := filepath.Join(walPath, entry.Name())
		if err := replayWALFile(filename, handler); err != nil {
			return fmt.Errorf("failed to replay %s: %w", filename, err)
		}

		os.Remove(filename)
	}

	return nil
}

// ReplayInto replays the WAL under dataPath into s and returns how many
// batches were stored. Batches s rejects as client errors are logged and
// skipped so that one malformed entry cannot block startup.
func ReplayInto(ctx context.Context, dataPath string, s Storage, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	stored := 0
	err := ReplayWAL(dataPath, func(b *types.RowBatch) error {
		err := s.Write(ctx, b)
		switch {
		case err == nil:
			stored++
			return nil
		case types.IsClientError(err):
			logger.Warn("skipping rejected WAL entry",
				"template", b.Template,
				"system", b.SystemID,
				"rows", len(b.Rows),
				"error", err,
			)
			return nil
		default:
			return err
		}
	})
	return stored, err
}

// replayWALFile replays a single WAL file
func replayWALFile(filename string, handler func(*types.RowBatch) error) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(scanner.Bytes()))
		dec.UseNumber()

		var entry WALEntry
		if err := dec.Decode(&entry); err != nil {
			return fmt.Errorf("failed to unmarshal WAL entry: %w", err)
		}
		if entry.Batch == nil {
			continue
		}

		if err := handler(entry.Batch); err != nil {
			return fmt.Errorf("failed to replay entry: %w", err)
		}
	}

	return scanner.Err()
}

// DefaultFlushInterval is how long a buffered batch waits for company
const DefaultFlushInterval = 100 * time.Millisecond

// BatchWriter buffers row batches, logs them to the WAL and writes them to
// storage when the buffer fills or the flush interval passes.
type BatchWriter struct {
	storage       Storage
	wal           *WAL
	buffer        []*types.RowBatch
	bufferSize    int
	flushInterval time.Duration
	onFlush       func()
	logger        *slog.Logger
	metrics       *metrics.Metrics
	mu            sync.Mutex
	flushTimer    *time.Timer
	closed        bool
}

// BatchOption configures a BatchWriter
type BatchOption func(*BatchWriter)

// WithFlushInterval sets the timer flush period
func WithFlushInterval(d time.Duration) BatchOption {
	return func(bw *BatchWriter) { bw.flushInterval = d }
}

// WithOnFlush registers fn to run after every successful flush
func WithOnFlush(fn func()) BatchOption {
	return func(bw *BatchWriter) { bw.onFlush = fn }
}

// WithBatchLogger sets the writer logger
func WithBatchLogger(l *slog.Logger) BatchOption {
	return func(bw *BatchWriter) { bw.logger = l }
}

// WithBatchMetrics sets the collectors the writer updates
func WithBatchMetrics(m *metrics.Metrics) BatchOption {
	return func(bw *BatchWriter) { bw.metrics = m }
}

// NewBatchWriter creates a new batch writer. wal may be nil.
func NewBatchWriter(storage Storage, wal *WAL, bufferSize int, opts ...BatchOption) *BatchWriter {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	bw := &BatchWriter{
		storage:       storage,
		wal:           wal,
		buffer:        make([]*types.RowBatch, 0, bufferSize),
		bufferSize:    bufferSize,
		flushInterval: DefaultFlushInterval,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(bw)
	}
	if bw.metrics == nil {
		bw.metrics = metrics.New(nil)
	}

	bw.flushTimer = time.AfterFunc(bw.flushInterval, bw.autoFlush)

	return bw
}

// Write buffers a batch
func (bw *BatchWriter) Write(ctx context.Context, batch *types.RowBatch) error {
	if err := ValidateBatch(batch); err != nil {
		return err
	}

	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return fmt.Errorf("batch writer closed")
	}

	if bw.wal != nil {
		if err := bw.wal.Append(batch); err != nil {
			return fmt.Errorf("WAL append failed: %w", err)
		}
	}

	bw.buffer = append(bw.buffer, batch)
	bw.metrics.IngestBatches.WithLabelValues(batch.Template).Inc()
	bw.metrics.IngestRows.Add(float64(len(batch.Rows)))

	if len(bw.buffer) >= bw.bufferSize {
		return bw.flushLocked(ctx)
	}

	return nil
}

// Flush flushes the buffer
func (bw *BatchWriter) Flush(ctx context.Context) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.flushLocked(ctx)
}

// Buffered returns the number of batches waiting for a flush
func (bw *BatchWriter) Buffered() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// flushLocked flushes the buffer (must hold lock)
func (bw *BatchWriter) flushLocked(ctx context.Context) error {
	if len(bw.buffer) == 0 {
		return nil
	}
	started := time.Now()

	merged := mergeBatches(bw.buffer)
	for i, batch := range merged {
		err := bw.storage.Write(ctx, batch)
		if err == nil {
			continue
		}
		if types.IsClientError(err) {
			// Malformed groups are dropped, not retried.
			bw.dropLocked(batch, err)
			continue
		}
		// Written and dropped groups are not retried.
		bw.buffer = append(bw.buffer[:0], merged[i:]...)
		bw.metrics.Flushes.WithLabelValues(metrics.FlushFailed).Inc()
		return fmt.Errorf("batch write failed: %w", err)
	}

	bw.buffer = bw.buffer[:0]
	bw.metrics.Flushes.WithLabelValues(metrics.FlushOK).Inc()
	bw.metrics.FlushDuration.Observe(time.Since(started).Seconds())

	if bw.wal != nil {
		if err := bw.wal.Truncate(); err != nil {
			bw.logger.Warn("WAL truncate failed", "error", err)
		}
	}
	if bw.onFlush != nil {
		bw.onFlush()
	}

	return nil
}

func (bw *BatchWriter) dropLocked(batch *types.RowBatch, err error) {
	bw.metrics.IngestDropped.Add(float64(len(batch.Rows)))
	bw.logger.Warn("dropping rejected rows",
		"template", batch.Template,
		"system", batch.SystemID,
		"rows", len(batch.Rows),
		"error", err,
	)
}

// mergeBatches combines batches for the same system and template keeping
// arrival order of first appearance
func mergeBatches(buffer []*types.RowBatch) []*types.RowBatch {
	type groupKey struct {
		template, system, tsColumn string
	}

	groups := make(map[groupKey]*types.RowBatch)
	var order []*types.RowBatch
	for _, b := range buffer {
		k := groupKey{b.Template, b.SystemID, b.TimestampColumn}
		g, ok := groups[k]
		if !ok {
			g = &types.RowBatch{
				Template:        b.Template,
				System:          b.System,
				SystemID:        b.SystemID,
				TimestampColumn: b.TimestampColumn,
			}
			groups[k] = g
			order = append(order, g)
		}
		g.Rows = append(g.Rows, b.Rows...)
	}
	return order
}

// autoFlush periodically flushes the buffer
func (bw *BatchWriter) autoFlush() {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.closed {
		return
	}
	if err := bw.flushLocked(context.Background()); err != nil {
		bw.logger.Error("periodic flush failed", "error", err, "buffered", len(bw.buffer))
	}
	bw.flushTimer.Reset(bw.flushInterval)
}

// Close stops the timer and flushes what is left. The WAL is owned by the
// caller and stays open.
func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.closed {
		return nil
	}
	bw.closed = true

	if bw.flushTimer != nil {
		bw.flushTimer.Stop()
	}

	return bw.flushLocked(context.Background())
}
