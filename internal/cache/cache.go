// Package cache implements the process-wide unified cache: a single
// bounded store shared by the vector, graph, and relationship layers,
// evicted by a cost-aware priority rather than plain recency, with
// single-flight coalescing of concurrent misses on the same key.
package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Category tags which subsystem an entry belongs to, for the fairness
// accounting in Stats.
type Category string

const (
	CategoryVector       Category = "vector"
	CategoryGraph        Category = "graph"
	CategoryRelationship Category = "relationship"
)

type entry struct {
	key           string
	value         any
	category      Category
	sizeBytes     int64
	rebuildCostMs int64
	lastAccess    time.Time
	accessCount   int64
}

// Config controls the unified cache's size bound.
type Config struct {
	MaxSizeBytes int64
}

func (c *Config) applyDefaults() {
	if c.MaxSizeBytes <= 0 {
		c.MaxSizeBytes = 256 << 20 // 256MiB
	}
}

// recencyCap bounds the underlying LRU's item count. It is set high
// enough that the LRU structure itself almost never evicts on its own;
// actual eviction is driven by Cache's cost-aware pass below, which
// ranks entries from their own access, size, and cost fields and does
// not read order back from the LRU.
const recencyCap = 1 << 20

// Cache is the unified, cost-aware, single-flight-coalesced cache.
type Cache struct {
	config Config

	mu          sync.Mutex
	entries     map[string]*entry
	recency     *lru.Cache[string, struct{}]
	currentSize int64

	sf singleflight.Group

	hits   int64
	misses int64
}

// New creates a unified cache bounded at config.MaxSizeBytes.
func New(config Config) *Cache {
	config.applyDefaults()
	recency, _ := lru.New[string, struct{}](recencyCap)
	return &Cache{
		config:  config,
		entries: make(map[string]*entry),
		recency: recency,
	}
}

// GetSync returns the cached value for key without going through the
// loader/single-flight path, for distance fast paths that would rather
// skip an async round-trip on a miss.
func (c *Cache) GetSync(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&c.hits, 1)
	e.lastAccess = time.Now()
	e.accessCount++
	c.recency.Get(key)
	return e.value, true
}

// Loaded is the tuple a loader returns to Get: the value plus the
// metadata needed to store it (category, size, rebuild cost).
type Loaded struct {
	Value         any
	Category      Category
	SizeBytes     int64
	RebuildCostMs int64
}

// Get returns the cached value for key, or calls loader on a miss.
// Concurrent misses on the same key share a single loader invocation
// (golang.org/x/sync/singleflight), so a cache stampede on a hot key
// costs one rebuild instead of N.
func (c *Cache) Get(key string, loader func() (Loaded, error)) (any, error) {
	if v, ok := c.GetSync(key); ok {
		return v, nil
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		if v, ok := c.GetSync(key); ok {
			return v, nil
		}
		loaded, err := loader()
		if err != nil {
			return nil, err
		}
		c.Set(key, loaded.Value, loaded.Category, loaded.SizeBytes, loaded.RebuildCostMs)
		return loaded.Value, nil
	})
	return v, err
}

// Set stores value under key, evicting lower-priority entries if the
// cache is over its size bound afterward.
func (c *Cache) Set(key string, value any, category Category, sizeBytes, rebuildCostMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.currentSize -= old.sizeBytes
	}
	e := &entry{
		key:           key,
		value:         value,
		category:      category,
		sizeBytes:     sizeBytes,
		rebuildCostMs: rebuildCostMs,
		lastAccess:    time.Now(),
		accessCount:   1,
	}
	c.entries[key] = e
	c.recency.Add(key, struct{}{})
	c.currentSize += sizeBytes

	c.evictLocked()
}

// evictLocked evicts lowest cost-priority entries until the cache is
// back under its size bound. Eviction priority combines recency, size,
// and rebuild cost so that frequently accessed, expensive-to-rebuild
// entries survive longer than large, cold, cheap ones. mu must be held.
func (c *Cache) evictLocked() {
	if c.currentSize <= c.config.MaxSizeBytes || len(c.entries) == 0 {
		return
	}

	now := time.Now()
	candidates := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return evictionScore(candidates[i], now) > evictionScore(candidates[j], now)
	})

	for _, e := range candidates {
		if c.currentSize <= c.config.MaxSizeBytes {
			break
		}
		delete(c.entries, e.key)
		c.recency.Remove(e.key)
		c.currentSize -= e.sizeBytes
	}
}

// evictionScore ranks e for eviction; higher scores are evicted first.
// Stale (large age), large (high sizeBytes), cheap-to-rebuild entries
// score highest; recently accessed or expensive-to-rebuild entries are
// protected.
func evictionScore(e *entry, now time.Time) float64 {
	ageSeconds := now.Sub(e.lastAccess).Seconds()
	if ageSeconds < 0 {
		ageSeconds = 0
	}
	sizeMB := float64(e.sizeBytes) / (1 << 20)
	costProtection := 1.0 + float64(e.rebuildCostMs)/10.0
	accessProtection := 1.0 + float64(e.accessCount)
	return (ageSeconds * (1 + sizeMB)) / (costProtection * accessProtection)
}

// Invalidate removes key from the cache, if present.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.recency.Remove(key)
		c.currentSize -= e.sizeBytes
	}
}

// CategoryStats summarizes one category's footprint in the cache.
type CategoryStats struct {
	Count       int
	SizeBytes   int64
	AccessCount int64
}

// Stats is the cache's point-in-time observability snapshot (§4.3).
type Stats struct {
	TotalSizeBytes int64
	MaxSizeBytes   int64
	Utilization    float64
	HitCount       int64
	MissCount      int64
	HitRate        float64
	ByCategory     map[Category]CategoryStats
}

// Stats returns a snapshot of cache utilization and per-category
// accounting, used by the fairness monitor.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	byCategory := make(map[Category]CategoryStats)
	for _, e := range c.entries {
		cs := byCategory[e.category]
		cs.Count++
		cs.SizeBytes += e.sizeBytes
		cs.AccessCount += e.accessCount
		byCategory[e.category] = cs
	}

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		TotalSizeBytes: c.currentSize,
		MaxSizeBytes:   c.config.MaxSizeBytes,
		Utilization:    float64(c.currentSize) / float64(c.config.MaxSizeBytes),
		HitCount:       hits,
		MissCount:      misses,
		HitRate:        hitRate,
		ByCategory:     byCategory,
	}
}
