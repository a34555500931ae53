package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/vjranagit/perfmon/pkg/types"
)

const (
	// BlockDuration is the time span of one stored block
	BlockDuration = time.Hour

	// DefaultTimestampColumn is used when a batch does not name its own
	DefaultTimestampColumn = "EndTime"
)

// Storage is the contract the ingest path writes through
type Storage interface {
	// Write stores the rows of one batch
	Write(ctx context.Context, batch *types.RowBatch) error

	// Close closes the storage
	Close() error
}

// Config holds storage configuration
type Config struct {
	Path             string
	RetentionDays    int
	CompressionLevel int
	EnableWAL        bool
	// InMemory runs badger without touching Path. Used by tests.
	InMemory bool
}

// DefaultConfig returns default storage configuration
func DefaultConfig() *Config {
	return &Config{
		Path:             "./data",
		RetentionDays:    30,
		CompressionLevel: 3,
		EnableWAL:        true,
	}
}

// ScanRequest selects raw rows of one template
type ScanRequest struct {
	Template        string
	Systems         []types.SystemID
	Columns         []string
	TimestampColumn string
	SystemColumn    string
	Start           time.Time
	End             time.Time
}

// RowStore keeps raw rows in badger, one compressed block per system,
// template and hour.
type RowStore struct {
	cfg        *Config
	db         *badger.DB
	index      *Index
	compressor *Compressor
	logger     *slog.Logger
	mu         sync.RWMutex
}

var _ Storage = (*RowStore)(nil)

// NewStorage opens the row store and rebuilds its index from the keys
// already on disk.
func NewStorage(cfg *Config, logger *slog.Logger) (*RowStore, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(filepath.Join(cfg.Path, "badger"))
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	compressor, err := NewCompressor(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	s := &RowStore{
		cfg:        cfg,
		db:         db,
		index:      NewIndex(),
		compressor: compressor,
		logger:     logger,
	}

	if err := s.rebuildIndex(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to rebuild index: %w", err)
	}
	logger.Info("row store opened", "path", cfg.Path, "in_memory", cfg.InMemory, "entries", s.index.Count())

	return s, nil
}

// Write implements Storage.Write
func (s *RowStore) Write(ctx context.Context, batch *types.RowBatch) error {
	if err := ValidateBatch(batch); err != nil {
		return err
	}
	if len(batch.Rows) == 0 {
		return nil
	}

	blocks, err := groupRowsByBlock(batch.Rows, timestampColumn(batch))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		for blockTime, rows := range blocks {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.mergeBlock(txn, batch, blockTime, rows); err != nil {
				return fmt.Errorf("block %d: %w", blockTime, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write batch: %w", err)
	}

	for _, rows := range blocks {
		s.index.Observe(batch.System, batch.Template, time.UnixMilli(rows.minTime()), time.UnixMilli(rows.maxTime()))
	}
	return nil
}

// ValidateBatch normalizes batch and checks what Write requires of it: a
// valid system, a template and a timestamp on every row. Failures are
// client errors.
func ValidateBatch(batch *types.RowBatch) error {
	if err := batch.Normalize(); err != nil {
		return err
	}
	if !batch.System.Database.Valid() {
		return fmt.Errorf("%w: invalid system %q", types.ErrBadRequest, batch.SystemID)
	}
	if batch.Template == "" {
		return fmt.Errorf("%w: batch has no template", types.ErrBadRequest)
	}

	tsColumn := timestampColumn(batch)
	for i, row := range batch.Rows {
		if _, ok := row.Time(tsColumn); !ok {
			return fmt.Errorf("%w: row %d has no %s", types.ErrBadRequest, i, tsColumn)
		}
	}
	return nil
}

func timestampColumn(batch *types.RowBatch) string {
	if batch.TimestampColumn != "" {
		return batch.TimestampColumn
	}
	return DefaultTimestampColumn
}

// blockRows is the decoded content of one block
type blockRows struct {
	timestamps []int64
	bodies     []types.MapRow
}

func (b *blockRows) add(ts int64, body types.MapRow) {
	b.timestamps = append(b.timestamps, ts)
	b.bodies = append(b.bodies, body)
}

func (b *blockRows) minTime() int64 {
	m := b.timestamps[0]
	for _, ts := range b.timestamps[1:] {
		if ts < m {
			m = ts
		}
	}
	return m
}

func (b *blockRows) maxTime() int64 {
	m := b.timestamps[0]
	for _, ts := range b.timestamps[1:] {
		if ts > m {
			m = ts
		}
	}
	return m
}

// groupRowsByBlock groups rows into 1-hour blocks keyed by block start in
// unix seconds. The timestamp column is split off each row body.
func groupRowsByBlock(rows []types.MapRow, tsColumn string) (map[int64]*blockRows, error) {
	blocks := make(map[int64]*blockRows)

	for i, row := range rows {
		ts, ok := row.Time(tsColumn)
		if !ok {
			return nil, fmt.Errorf("%w: row %d has no %s", types.ErrBadRequest, i, tsColumn)
		}

		body := make(types.MapRow, len(row))
		for k, v := range row {
			if k == tsColumn {
				continue
			}
			body[k] = storableValue(v)
		}

		blockTime := ts.Truncate(BlockDuration).Unix()
		b, ok := blocks[blockTime]
		if !ok {
			b = &blockRows{}
			blocks[blockTime] = b
		}
		b.add(ts.UnixMilli(), body)
	}

	return blocks, nil
}

// storableValue maps values JSON cannot carry onto null
func storableValue(v any) any {
	switch f := v.(type) {
	case float64:
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return nil
		}
	}
	return v
}

// mergeBlock appends rows to the block at blockTime inside txn
func (s *RowStore) mergeBlock(txn *badger.Txn, batch *types.RowBatch, blockTime int64, rows *blockRows) error {
	key := generateKey(batch.System, batch.Template, blockTime)

	merged := &blockRows{}
	item, err := txn.Get(key)
	switch {
	case err == nil:
		err = item.Value(func(val []byte) error {
			existing, err := s.decodeBlock(val)
			if err != nil {
				return err
			}
			merged = existing
			return nil
		})
		if err != nil {
			return err
		}
	case errors.Is(err, badger.ErrKeyNotFound):
	default:
		return err
	}

	merged.timestamps = append(merged.timestamps, rows.timestamps...)
	merged.bodies = append(merged.bodies, rows.bodies...)

	payloadBytes, err := s.encodeBlock(merged)
	if err != nil {
		return err
	}

	entry := badger.NewEntry(key, payloadBytes)
	if s.cfg.RetentionDays > 0 {
		entry = entry.WithTTL(time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	}
	return txn.SetEntry(entry)
}

type blockPayload struct {
	Count          int
	CompressedTS   []byte
	CompressedRows []byte
}

func (s *RowStore) encodeBlock(b *blockRows) ([]byte, error) {
	compressedTS, err := s.compressor.CompressTimestamps(b.timestamps)
	if err != nil {
		return nil, fmt.Errorf("failed to compress timestamps: %w", err)
	}

	compressedRows, err := s.compressor.CompressRows(b.bodies)
	if err != nil {
		return nil, fmt.Errorf("failed to compress rows: %w", err)
	}

	payload := &blockPayload{
		Count:          len(b.timestamps),
		CompressedTS:   compressedTS,
		CompressedRows: compressedRows,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return payloadBytes, nil
}

func (s *RowStore) decodeBlock(val []byte) (*blockRows, error) {
	var payload blockPayload
	if err := json.Unmarshal(val, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	timestamps, err := s.compressor.DecompressTimestamps(payload.CompressedTS, payload.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress timestamps: %w", err)
	}

	bodies, err := s.compressor.DecompressRows(payload.CompressedRows)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress rows: %w", err)
	}
	if len(bodies) != payload.Count {
		return nil, fmt.Errorf("corrupt block: %d timestamps, %d rows", payload.Count, len(bodies))
	}

	return &blockRows{timestamps: timestamps, bodies: bodies}, nil
}

// Scan streams every row of req.Template for req.Systems whose timestamp
// falls in [Start, End), projected to req.Columns. Rows of one system are
// delivered in block order; rows inside a block keep arrival order.
func (s *RowStore) Scan(ctx context.Context, req ScanRequest, fn func(types.MapRow) error) error {
	if req.TimestampColumn == "" {
		req.TimestampColumn = DefaultTimestampColumn
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	startMs, endMs := req.Start.UnixMilli(), req.End.UnixMilli()
	startBlock := req.Start.Truncate(BlockDuration).Unix()

	return s.db.View(func(txn *badger.Txn) error {
		for _, sys := range req.Systems {
			if !s.index.Has(sys, req.Template) {
				continue
			}

			prefix := keyPrefix(sys, req.Template)
			it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 16})

			err := func() error {
				defer it.Close()
				for it.Seek(generateKey(sys, req.Template, startBlock)); it.ValidForPrefix(prefix); it.Next() {
					if err := ctx.Err(); err != nil {
						return err
					}

					item := it.Item()
					_, _, blockTime, err := parseKey(item.Key())
					if err != nil {
						return err
					}
					if blockTime*1000 >= endMs {
						break
					}

					var block *blockRows
					err = item.Value(func(val []byte) error {
						block, err = s.decodeBlock(val)
						return err
					})
					if err != nil {
						return fmt.Errorf("block %s/%s/%d: %w", sys, req.Template, blockTime, err)
					}

					for i, ts := range block.timestamps {
						if ts < startMs || ts >= endMs {
							continue
						}
						row := block.bodies[i].Project(req.Columns)
						row[req.TimestampColumn] = time.UnixMilli(ts).UTC()
						if req.SystemColumn != "" {
							row[req.SystemColumn] = sys.String()
						}
						if err := fn(row); err != nil {
							return err
						}
					}
				}
				return nil
			}()
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Systems lists what the index knows about database
func (s *RowStore) Systems(database types.DatabaseID) []SystemInfo {
	return s.index.Systems(database)
}

// rebuildIndex walks every key once without fetching values
func (s *RowStore) rebuildIndex() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			sys, template, blockTime, err := parseKey(it.Item().Key())
			if err != nil {
				s.logger.Warn("skipping unrecognised key", "error", err)
				continue
			}
			start := time.Unix(blockTime, 0)
			s.index.Observe(sys, template, start, start.Add(BlockDuration-time.Millisecond))
		}
		return nil
	})
}

// Close implements Storage.Close
func (s *RowStore) Close() error {
	s.compressor.Close()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// keyPrefix is database/system/template/
func keyPrefix(sys types.SystemID, template string) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString(string(sys.Database))
	buf.WriteByte('/')

	binary.Write(buf, binary.BigEndian, uint64(sys.ID))
	buf.WriteByte('/')

	buf.WriteString(template)
	buf.WriteByte('/')

	return buf.Bytes()
}

// generateKey generates a storage key for a time block
func generateKey(sys types.SystemID, template string, blockTime int64) []byte {
	key := keyPrefix(sys, template)
	return binary.BigEndian.AppendUint64(key, uint64(blockTime))
}

// databaseIDLen is the fixed width of the "XXXX-XXXX" form
const databaseIDLen = 9

// parseKey is the inverse of generateKey. The system id is binary and may
// contain '/', so fields are read by position.
func parseKey(key []byte) (types.SystemID, string, int64, error) {
	const fixed = databaseIDLen + 1 + 8 + 1 + 1 + 8
	if len(key) <= fixed {
		return types.SystemID{}, "", 0, fmt.Errorf("key too short: %d bytes", len(key))
	}

	db := types.DatabaseID(key[:databaseIDLen])
	if !db.Valid() || key[databaseIDLen] != '/' || key[databaseIDLen+9] != '/' || key[len(key)-9] != '/' {
		return types.SystemID{}, "", 0, fmt.Errorf("malformed key %q", key)
	}

	id := binary.BigEndian.Uint64(key[databaseIDLen+1 : databaseIDLen+9])
	template := string(key[databaseIDLen+10 : len(key)-9])
	blockTime := int64(binary.BigEndian.Uint64(key[len(key)-8:]))

	return types.SystemID{Database: db, ID: int64(id)}, template, blockTime, nil
}
