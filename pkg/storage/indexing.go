package storage

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/vjranagit/perfmon/pkg/types"
)

// SystemInfo describes one (system, template) pair that has stored rows
type SystemInfo struct {
	System   types.SystemID `json:"-"`
	SystemID string         `json:"systemID"`
	Template string         `json:"template"`
	MinTime  time.Time      `json:"minTime"`
	MaxTime  time.Time      `json:"maxTime"`
}

// Index tracks which systems have rows for which templates
type Index struct {
	mu sync.RWMutex
	// Maps (system, template) fingerprint to its entry
	entries map[uint64]*SystemInfo
	// database -> fingerprints
	byDatabase map[types.DatabaseID][]uint64
}

// NewIndex creates a new index
func NewIndex() *Index {
	return &Index{
		entries:    make(map[uint64]*SystemInfo),
		byDatabase: make(map[types.DatabaseID][]uint64),
	}
}

// Observe records rows for sys and template spanning [minTime, maxTime]
func (idx *Index) Observe(sys types.SystemID, template string, minTime, maxTime time.Time) {
	fp := calculateFingerprint(sys, template)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	info, ok := idx.entries[fp]
	if !ok {
		idx.entries[fp] = &SystemInfo{
			System:   sys,
			SystemID: sys.String(),
			Template: template,
			MinTime:  minTime.UTC(),
			MaxTime:  maxTime.UTC(),
		}
		idx.byDatabase[sys.Database] = append(idx.byDatabase[sys.Database], fp)
		return
	}

	if minTime.Before(info.MinTime) {
		info.MinTime = minTime.UTC()
	}
	if maxTime.After(info.MaxTime) {
		info.MaxTime = maxTime.UTC()
	}
}

// Has reports whether any rows were observed for sys and template
func (idx *Index) Has(sys types.SystemID, template string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.entries[calculateFingerprint(sys, template)]
	return ok
}

// Systems returns copies of the entries of database ordered by system
// then template
func (idx *Index) Systems(database types.DatabaseID) []SystemInfo {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	fps := idx.byDatabase[database]
	result := make([]SystemInfo, 0, len(fps))
	for _, fp := range fps {
		result = append(result, *idx.entries[fp])
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].System.ID != result[j].System.ID {
			return result[i].System.ID < result[j].System.ID
		}
		return result[i].Template < result[j].Template
	})
	return result
}

// Count returns the number of indexed (system, template) pairs
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Clear clears the index
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = make(map[uint64]*SystemInfo)
	idx.byDatabase = make(map[types.DatabaseID][]uint64)
}

// calculateFingerprint hashes the (system, template) pair
func calculateFingerprint(sys types.SystemID, template string) uint64 {
	d := xxhash.New()
	d.WriteString(string(sys.Database))
	d.Write([]byte{0})
	d.WriteString(strconv.FormatInt(sys.ID, 10))
	d.Write([]byte{0})
	d.WriteString(template)
	return d.Sum64()
}
