// Package stats implements in-memory entity/relationship counts and
// the richer statistics snapshot persisted to system/counts.json and
// system/statistics.json. Counts are authoritative in memory and kept
// exact with atomic updates; persistence is periodic (every N writes)
// and on shutdown rather than synchronous, an amortized-flush shape.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/nvgraph/nvgraph/internal/storage"
	"github.com/nvgraph/nvgraph/internal/types"
)

// persistEvery is how many count-changing writes accumulate before a
// background snapshot is taken, per spec's "e.g., every 10 writes".
const persistEvery = 10

// Counts is the authoritative in-memory tally of nouns and verbs.
type Counts struct {
	mu sync.RWMutex

	totalNouns  int64
	totalVerbs  int64
	nounsByType map[types.NounType]int64
	verbsByType map[types.VerbType]int64

	writesSinceFlush int

	adapter storage.Adapter
}

// New creates a Counts tracker backed by adapter for periodic
// persistence. adapter may be nil for a pure in-memory tracker (tests,
// or an index not yet wired to storage).
func New(adapter storage.Adapter) *Counts {
	return &Counts{
		nounsByType: make(map[types.NounType]int64),
		verbsByType: make(map[types.VerbType]int64),
		adapter:     adapter,
	}
}

// Load restores counts from a prior persisted snapshot, if one exists.
func (c *Counts) Load(ctx context.Context) error {
	if c.adapter == nil {
		return nil
	}
	rec, ok, err := c.adapter.GetCounts(ctx)
	if err != nil {
		return types.Wrap(types.KindInternal, "stats.load", err)
	}
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalNouns = rec.TotalNouns
	c.totalVerbs = rec.TotalVerbs
	c.nounsByType = cloneNounMap(rec.NounsByType)
	c.verbsByType = cloneVerbMap(rec.VerbsByType)
	return nil
}

func cloneNounMap(m map[types.NounType]int64) map[types.NounType]int64 {
	out := make(map[types.NounType]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneVerbMap(m map[types.VerbType]int64) map[types.VerbType]int64 {
	out := make(map[types.VerbType]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// IncrementNoun records a new noun of type t, triggering a periodic
// flush every persistEvery writes.
func (c *Counts) IncrementNoun(ctx context.Context, t types.NounType) {
	c.mu.Lock()
	c.totalNouns++
	c.nounsByType[t]++
	c.mu.Unlock()
	c.maybeFlush(ctx)
}

// DecrementNoun records a noun deletion.
func (c *Counts) DecrementNoun(ctx context.Context, t types.NounType) {
	c.mu.Lock()
	if c.totalNouns > 0 {
		c.totalNouns--
	}
	if c.nounsByType[t] > 0 {
		c.nounsByType[t]--
	}
	c.mu.Unlock()
	c.maybeFlush(ctx)
}

// IncrementVerb records a new verb of type t.
func (c *Counts) IncrementVerb(ctx context.Context, t types.VerbType) {
	c.mu.Lock()
	c.totalVerbs++
	c.verbsByType[t]++
	c.mu.Unlock()
	c.maybeFlush(ctx)
}

// DecrementVerb records a verb deletion.
func (c *Counts) DecrementVerb(ctx context.Context, t types.VerbType) {
	c.mu.Lock()
	if c.totalVerbs > 0 {
		c.totalVerbs--
	}
	if c.verbsByType[t] > 0 {
		c.verbsByType[t]--
	}
	c.mu.Unlock()
	c.maybeFlush(ctx)
}

func (c *Counts) maybeFlush(ctx context.Context) {
	c.mu.Lock()
	c.writesSinceFlush++
	due := c.writesSinceFlush >= persistEvery
	if due {
		c.writesSinceFlush = 0
	}
	c.mu.Unlock()

	if due {
		_ = c.Flush(ctx)
	}
}

// Snapshot is a read-only copy of the current counts.
type Snapshot struct {
	TotalNouns  int64
	TotalVerbs  int64
	NounsByType map[types.NounType]int64
	VerbsByType map[types.VerbType]int64
}

// Snapshot returns the current counts without touching storage.
func (c *Counts) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		TotalNouns:  c.totalNouns,
		TotalVerbs:  c.totalVerbs,
		NounsByType: cloneNounMap(c.nounsByType),
		VerbsByType: cloneVerbMap(c.verbsByType),
	}
}

// Flush persists the current counts immediately, independent of the
// periodic-write trigger. Called on shutdown (spec: "snapshotted ...
// periodically ... and on shutdown").
func (c *Counts) Flush(ctx context.Context) error {
	if c.adapter == nil {
		return nil
	}
	snap := c.Snapshot()
	return c.adapter.SaveCounts(ctx, storage.CountsRecord{
		TotalNouns:  snap.TotalNouns,
		TotalVerbs:  snap.TotalVerbs,
		NounsByType: snap.NounsByType,
		VerbsByType: snap.VerbsByType,
	})
}

// Statistics is the richer, human-facing snapshot returned by
// getStatistics(): counts plus size hints and a freshness timestamp.
type Statistics struct {
	TotalNouns     int64
	TotalVerbs     int64
	NounsByType    map[types.NounType]int64
	VerbsByType    map[types.VerbType]int64
	TotalBytes     int64
	HNSWIndexSize  int
	HNSWMaxLevel   int
	LastUpdated    time.Time
}

// IndexSizeSource is satisfied by hnsw.Index: the index size hints
// statistics needs without stats importing hnsw directly.
type IndexSizeSource interface {
	Count() int
}

// Collector produces Statistics snapshots and persists them to
// system/statistics.json.
type Collector struct {
	counts  *Counts
	index   IndexSizeSource
	adapter storage.Adapter

	mu         sync.Mutex
	totalBytes int64
	nowFunc    func() time.Time
}

// NewCollector creates a Collector over counts, an optional index size
// source, and an optional adapter for persistence.
func NewCollector(counts *Counts, index IndexSizeSource, adapter storage.Adapter) *Collector {
	return &Collector{counts: counts, index: index, adapter: adapter, nowFunc: time.Now}
}

// AddBytes accounts additional persisted bytes (e.g. a vector or
// metadata record write), accumulated into TotalBytes.
func (c *Collector) AddBytes(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalBytes += n
}

// Snapshot returns the current Statistics.
func (c *Collector) Snapshot() Statistics {
	snap := c.counts.Snapshot()
	c.mu.Lock()
	bytes := c.totalBytes
	c.mu.Unlock()

	stat := Statistics{
		TotalNouns:  snap.TotalNouns,
		TotalVerbs:  snap.TotalVerbs,
		NounsByType: snap.NounsByType,
		VerbsByType: snap.VerbsByType,
		TotalBytes:  bytes,
		LastUpdated: c.nowFunc(),
	}
	if c.index != nil {
		stat.HNSWIndexSize = c.index.Count()
	}
	return stat
}

// Persist writes the current statistics snapshot through the adapter.
func (c *Collector) Persist(ctx context.Context) error {
	if c.adapter == nil {
		return nil
	}
	snap := c.Snapshot()
	return c.adapter.SaveStatistics(ctx, storage.StatisticsRecord{
		Snapshot: map[string]any{
			"totalNounCount": snap.TotalNouns,
			"totalVerbCount": snap.TotalVerbs,
			"entityCounts":   snap.NounsByType,
			"verbCounts":     snap.VerbsByType,
			"totalBytes":     snap.TotalBytes,
			"hnswIndexSize":  snap.HNSWIndexSize,
			"lastUpdated":    snap.LastUpdated.Format(time.RFC3339),
		},
	})
}

// MergeByMax merges counts discovered at two persisted locations
// during a migration, per spec: "Merging of statistics from multiple
// persisted locations ... takes the max of each counter and the
// latest timestamp."
func MergeByMax(a, b storage.CountsRecord) storage.CountsRecord {
	out := storage.CountsRecord{
		TotalNouns:  maxInt64(a.TotalNouns, b.TotalNouns),
		TotalVerbs:  maxInt64(a.TotalVerbs, b.TotalVerbs),
		NounsByType: mergeNounCounts(a.NounsByType, b.NounsByType),
		VerbsByType: mergeVerbCounts(a.VerbsByType, b.VerbsByType),
	}
	return out
}

func mergeNounCounts(a, b map[types.NounType]int64) map[types.NounType]int64 {
	out := make(map[types.NounType]int64, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

func mergeVerbCounts(a, b map[types.VerbType]int64) map[types.VerbType]int64 {
	out := make(map[types.VerbType]int64, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// MergeStatisticsByMax applies the same max-of-counters rule to two
// Statistics snapshots, keeping the later LastUpdated timestamp.
func MergeStatisticsByMax(a, b Statistics) Statistics {
	latest := a.LastUpdated
	if b.LastUpdated.After(latest) {
		latest = b.LastUpdated
	}
	return Statistics{
		TotalNouns:    maxInt64(a.TotalNouns, b.TotalNouns),
		TotalVerbs:    maxInt64(a.TotalVerbs, b.TotalVerbs),
		NounsByType:   mergeNounCounts(a.NounsByType, b.NounsByType),
		VerbsByType:   mergeVerbCounts(a.VerbsByType, b.VerbsByType),
		TotalBytes:    maxInt64(a.TotalBytes, b.TotalBytes),
		HNSWIndexSize: int(maxInt64(int64(a.HNSWIndexSize), int64(b.HNSWIndexSize))),
		LastUpdated:   latest,
	}
}
