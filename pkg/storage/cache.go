package storage

import (
	"container/list"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/vjranagit/perfmon/pkg/types"
)

// QueryCache implements an LRU cache for query results
type QueryCache struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time
	mu       sync.Mutex
	cache    map[uint64]*cacheEntry
	lru      *list.List
	hits     uint64
	misses   uint64
}

// cacheEntry represents a cached query result
type cacheEntry struct {
	key       uint64
	query     string
	result    *types.QueryResult
	timestamp time.Time
	element   *list.Element
}

// NewQueryCache creates a new query cache
func NewQueryCache(capacity int, ttl time.Duration) *QueryCache {
	return &QueryCache{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[uint64]*cacheEntry),
		lru:      list.New(),
	}
}

// Get retrieves a cached query result
func (qc *QueryCache) Get(key string) (*types.QueryResult, bool) {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	h := xxhash.Sum64String(key)
	entry, exists := qc.cache[h]
	if !exists || entry.query != key {
		qc.misses++
		return nil, false
	}

	if qc.now().Sub(entry.timestamp) > qc.ttl {
		qc.removeLocked(h)
		qc.misses++
		return nil, false
	}

	qc.lru.MoveToFront(entry.element)
	qc.hits++

	return entry.result, true
}

// Put stores a query result in the cache
func (qc *QueryCache) Put(key string, result *types.QueryResult) {
	if qc.capacity <= 0 {
		return
	}

	qc.mu.Lock()
	defer qc.mu.Unlock()

	h := xxhash.Sum64String(key)

	if entry, exists := qc.cache[h]; exists {
		entry.query = key
		entry.result = result
		entry.timestamp = qc.now()
		qc.lru.MoveToFront(entry.element)
		return
	}

	entry := &cacheEntry{
		key:       h,
		query:     key,
		result:    result,
		timestamp: qc.now(),
	}
	entry.element = qc.lru.PushFront(entry)
	qc.cache[h] = entry

	if qc.lru.Len() > qc.capacity {
		if oldest := qc.lru.Back(); oldest != nil {
			qc.removeLocked(oldest.Value.(*cacheEntry).key)
		}
	}
}

// removeLocked removes an entry from the cache (must hold lock)
func (qc *QueryCache) removeLocked(key uint64) {
	if entry, exists := qc.cache[key]; exists {
		qc.lru.Remove(entry.element)
		delete(qc.cache, key)
	}
}

// Clear clears all cache entries. Counters are kept.
func (qc *QueryCache) Clear() {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	qc.cache = make(map[uint64]*cacheEntry)
	qc.lru = list.New()
}

// Size returns the current cache size
func (qc *QueryCache) Size() int {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return len(qc.cache)
}

// Stats returns cache statistics
func (qc *QueryCache) Stats() CacheStats {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	expired := 0
	now := qc.now()
	for _, entry := range qc.cache {
		if now.Sub(entry.timestamp) > qc.ttl {
			expired++
		}
	}

	return CacheStats{
		Size:     len(qc.cache),
		Capacity: qc.capacity,
		Expired:  expired,
		Hits:     qc.hits,
		Misses:   qc.misses,
	}
}

// CacheStats contains cache statistics
type CacheStats struct {
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
	Expired  int    `json:"expired"`
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
}

// HitRate returns the hit rate as a percentage
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0.0
	}
	return float64(s.Hits) / float64(total) * 100.0
}
