package hnsw

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/nvgraph/nvgraph/internal/types"
	"github.com/nvgraph/nvgraph/internal/vpool"
)

// SearchResult is one ranked hit returned by Search.
type SearchResult struct {
	ID       string
	Distance float32
}

// Hooks wires the index to an external persistence/cache layer without
// hnsw depending on either package directly. Every field is optional;
// a nil hook is a no-op, which keeps the index usable standalone (unit
// tests, forks that haven't been attached to storage yet).
type Hooks struct {
	// PersistNode writes a single node's record through immediately.
	PersistNode func(rec NodeRecord) error
	// MarkDirty records that a node's in-memory state has diverged from
	// its persisted form, for a later coordinated flush.
	MarkDirty func(id string)
	// DeleteNode removes a node's persisted record. Called synchronously
	// regardless of persist mode since a stale persisted record for a
	// deleted entity would violate the noun-count invariant.
	DeleteNode func(id string) error
	// PersistSystem writes the entry-point/max-level record through.
	PersistSystem func(sys SystemRecord) error
	// MarkSystemDirty records that the system record needs a later flush.
	MarkSystemDirty func()
	// LoadVector loads an entity's exact vector on demand, used for
	// lazy vector storage and for rerank after quantized traversal.
	LoadVector func(id string) ([]float32, bool)
}

// Index is a single HNSW graph. All structural mutation is serialized
// behind mu ("single-writer / multi-reader on the full
// graph" option); adapter I/O triggered by a mutation is issued
// concurrently but awaited before the mutating call returns.
type Index struct {
	mu sync.RWMutex

	config    Config
	hooks     Hooks
	logger    logger

	dimension int
	dimSet    bool

	nodes        map[string]*node
	entryPointID string
	maxLevel     int

	// highLevel[level] is the set of node IDs at that level, tracked for
	// levels in [2, maxTrackedLevels] to give O(1) entry-point recovery.
	highLevel map[int]map[string]struct{}

	insertSeq map[string]int
	nextSeq   int

	// copy-on-write
	parent      *Index
	cowModified map[string]struct{}

	failedPersists int64

	vpool *vpool.Pool
}

// logger is the minimal surface hnsw needs; satisfied by
// internal/logging.Logger (through its Warnf method) without hnsw
// importing that package.
type logger interface {
	Warnf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warnf(string, ...any) {}

// New creates an empty HNSW index.
func New(config Config, hooks Hooks) *Index {
	config.applyDefaults()
	return &Index{
		config:      config,
		hooks:       hooks,
		logger:      noopLogger{},
		nodes:       make(map[string]*node),
		highLevel:   make(map[int]map[string]struct{}),
		insertSeq:   make(map[string]int),
		cowModified: make(map[string]struct{}),
		vpool:       vpool.New(),
	}
}

// SetLogger attaches a logger used for warnings on degraded paths
// (missing neighbors during traversal, failed persist hooks).
func (idx *Index) SetLogger(l logger) {
	if l != nil {
		idx.logger = l
	}
}

// Dimension returns the vector dimension fixed by the first insert, or
// 0 if the index is still empty.
func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dimension
}

// Count returns the number of indexed nodes.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}

// EntryPoint returns the current entry point ID and whether one exists.
func (idx *Index) EntryPoint() (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.entryPointID, idx.entryPointID != ""
}

// FailedPersistCount returns the number of per-neighbor persistence
// failures logged since construction (§4.1 failure semantics: these do
// not roll back the in-memory insert).
func (idx *Index) FailedPersistCount() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.failedPersists
}

func (idx *Index) randomLevel() int {
	u := rand.Float64()
	for u == 0 {
		u = rand.Float64()
	}
	level := int(math.Floor(-math.Log(u) / math.Log(float64(idx.config.M))))
	if level > idx.config.MLMax {
		level = idx.config.MLMax
	}
	if level < 0 {
		level = 0
	}
	return level
}

// AddItem inserts a new vector under id. Dimension is fixed by the
// first call and enforced thereafter.
func (idx *Index) AddItem(id string, vector []float32) error {
	if len(vector) == 0 {
		return types.Newf(types.KindInvalidArgument, "hnsw.addItem", "empty vector")
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.dimSet && len(vector) != idx.dimension {
		return types.Newf(types.KindInvalidArgument, "hnsw.addItem",
			"dimension mismatch: expected %d, got %d", idx.dimension, len(vector))
	}
	if _, exists := idx.nodes[id]; exists {
		return types.Newf(types.KindConflict, "hnsw.addItem", "id %s already indexed", id)
	}

	if !idx.dimSet {
		idx.dimension = len(vector)
		idx.dimSet = true
	}

	level := idx.randomLevel()
	vecCopy := append([]float32(nil), vector...)
	n := newNode(id, vecCopy, level)
	if idx.config.Quantization.Enabled {
		n.quant = quantize(vecCopy)
	}

	touched := map[string]struct{}{id: {}}
	systemChanged := false

	if len(idx.nodes) == 0 {
		idx.nodes[id] = n
		idx.entryPointID = id
		idx.maxLevel = level
		systemChanged = true
	} else {
		currID := idx.entryPointID
		for l := idx.maxLevel; l > level; l-- {
			currID = idx.searchLayerClosest(vecCopy, n.quant, currID, l)
		}

		top := level
		if idx.maxLevel < top {
			top = idx.maxLevel
		}
		for l := top; l >= 0; l-- {
			candidates := idx.searchLayer(vecCopy, n.quant, currID, idx.config.EfConstruction, l, nil)
			selected := idx.selectNeighbors(vecCopy, candidates, idx.config.M)
			n.setNeighbors(l, selected)

			for _, nbID := range selected {
				nb := idx.mutableNode(nbID)
				if nb == nil || l > nb.level {
					continue
				}
				nb.addNeighbor(l, id)
				touched[nbID] = struct{}{}
				if nb.degree(l) > idx.config.M {
					idx.pruneNeighbor(nb, l)
				}
			}
			if len(selected) > 0 {
				currID = selected[0]
			}
		}

		idx.nodes[id] = n
		if level > idx.maxLevel {
			idx.maxLevel = level
			idx.entryPointID = id
			systemChanged = true
		}
	}

	if level >= 2 && level <= maxTrackedLevels {
		idx.trackHighLevel(level, id)
	}

	idx.nextSeq++
	idx.insertSeq[id] = idx.nextSeq

	if idx.config.VectorStorage == string(types.VectorStorageLazy) {
		n.vector = nil
	}

	idx.persistTouched(touched, systemChanged)
	return nil
}

func (idx *Index) trackHighLevel(level int, id string) {
	set, ok := idx.highLevel[level]
	if !ok {
		set = make(map[string]struct{})
		idx.highLevel[level] = set
	}
	set[id] = struct{}{}
}

func (idx *Index) untrackHighLevel(level int, id string) {
	if set, ok := idx.highLevel[level]; ok {
		delete(set, id)
	}
}

// persistTouched writes through or marks dirty every node touched by a
// mutation, bounded by MaxConcurrentNeighborWrites, and waits for all
// of them to settle before returning (spec §5 ordering guarantee).
func (idx *Index) persistTouched(touched map[string]struct{}, systemChanged bool) {
	if idx.config.PersistMode == string(types.PersistDeferred) {
		if idx.hooks.MarkDirty != nil {
			for id := range touched {
				idx.hooks.MarkDirty(id)
			}
		}
		if systemChanged && idx.hooks.MarkSystemDirty != nil {
			idx.hooks.MarkSystemDirty()
		}
		return
	}

	if idx.hooks.PersistNode != nil {
		sem := make(chan struct{}, idx.config.MaxConcurrentNeighborWrites)
		var wg sync.WaitGroup
		var mu sync.Mutex
		for id := range touched {
			n, ok := idx.nodes[id]
			if !ok {
				continue
			}
			rec := n.record()
			wg.Add(1)
			sem <- struct{}{}
			go func(rec NodeRecord) {
				defer wg.Done()
				defer func() { <-sem }()
				if err := idx.hooks.PersistNode(rec); err != nil {
					mu.Lock()
					idx.failedPersists++
					mu.Unlock()
					idx.logger.Warnf("hnsw: persist node %s failed: %v", rec.ID, err)
				}
			}(rec)
		}
		wg.Wait()
	}

	if systemChanged && idx.hooks.PersistSystem != nil {
		if err := idx.hooks.PersistSystem(SystemRecord{EntryPointID: idx.entryPointID, MaxLevel: idx.maxLevel}); err != nil {
			idx.failedPersists++
			idx.logger.Warnf("hnsw: persist system record failed: %v", err)
		}
	}
}

// mutableNode returns n ready for in-place mutation, deep-copying it
// first if this index is a COW fork and n has not yet been copied.
func (idx *Index) mutableNode(id string) *node {
	n, ok := idx.nodes[id]
	if !ok {
		return nil
	}
	if idx.parent == nil {
		return n
	}
	if _, copied := idx.cowModified[id]; copied {
		return n
	}
	cp := n.clone()
	idx.nodes[id] = cp
	idx.cowModified[id] = struct{}{}
	return cp
}

// pruneNeighbor restores the M-neighbor bound at level by keeping the M
// closest to the neighbor's own vector.
func (idx *Index) pruneNeighbor(n *node, level int) {
	vec := idx.vectorOf(n)
	if vec == nil {
		return
	}
	current := n.neighbors(level)
	kept := idx.selectNeighbors(vec, current, idx.config.M)
	n.setNeighbors(level, kept)
}

// Vector returns id's current vector, reloading it through hooks if it
// was evicted under lazy vector storage. Used by components outside
// hnsw (e.g. the graph relationship overlay) that need an entity's
// vector without going through Search.
func (idx *Index) Vector(id string) ([]float32, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n, ok := idx.nodes[id]
	if !ok {
		return nil, false
	}
	vec := idx.vectorOf(n)
	if vec == nil {
		return nil, false
	}
	return vec, true
}

// vectorOf resolves a node's vector, reloading it via hooks for lazily
// stored nodes when necessary.
func (idx *Index) vectorOf(n *node) []float32 {
	if n.vector != nil {
		return n.vector
	}
	if n.quant != nil {
		return n.quant.dequantize()
	}
	if idx.hooks.LoadVector != nil {
		if v, ok := idx.hooks.LoadVector(n.id); ok {
			return v
		}
	}
	return nil
}

// selectNeighbors returns the M candidates closest to query.
func (idx *Index) selectNeighbors(query []float32, candidates []string, m int) []string {
	if len(candidates) <= m {
		out := append([]string(nil), candidates...)
		sort.Strings(out)
		return dedupe(out)
	}
	type scored struct {
		id   string
		dist float32
	}
	scoredList := make([]scored, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, id := range candidates {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		n, ok := idx.nodes[id]
		if !ok {
			continue
		}
		vec := idx.vectorOf(n)
		if vec == nil {
			continue
		}
		scoredList = append(scoredList, scored{id: id, dist: idx.config.Distance(query, vec)})
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].dist < scoredList[j].dist })
	if len(scoredList) > m {
		scoredList = scoredList[:m]
	}
	out := make([]string, len(scoredList))
	for i, s := range scoredList {
		out[i] = s.id
	}
	return out
}

func dedupe(sorted []string) []string {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, v := range sorted[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
