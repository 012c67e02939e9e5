package hnsw

import (
	"container/heap"
	"sort"

	"github.com/nvgraph/nvgraph/internal/types"
)

// distanceTo computes the distance from a query vector to n, using the
// quantized approximation when both sides have a codebook and falling
// back to the exact distance function otherwise.
func (idx *Index) distanceTo(query []float32, queryQuant *quantVector, n *node) float32 {
	if queryQuant != nil && n.quant != nil {
		return approxDistance(idx.config.Distance, queryQuant, n.quant, idx.vpool)
	}
	vec := idx.vectorOf(n)
	if vec == nil {
		return float32(1e38)
	}
	return idx.config.Distance(query, vec)
}

// searchLayerClosest performs a single-best greedy descent at level,
// used to walk down from the entry point through levels above the
// newly inserted or queried vector's own level.
func (idx *Index) searchLayerClosest(query []float32, queryQuant *quantVector, entry string, level int) string {
	best := entry
	bestNode, ok := idx.nodes[best]
	if !ok {
		return entry
	}
	bestDist := idx.distanceTo(query, queryQuant, bestNode)

	improved := true
	for improved {
		improved = false
		cur, ok := idx.nodes[best]
		if !ok {
			break
		}
		for _, nbID := range cur.neighbors(level) {
			nb, ok := idx.nodes[nbID]
			if !ok {
				continue
			}
			d := idx.distanceTo(query, queryQuant, nb)
			if d < bestDist {
				bestDist = d
				best = nbID
				improved = true
			}
		}
	}
	return best
}

// searchLayer is the classic HNSW best-first traversal: a min-heap
// frontier of candidates to explore, and a max-heap of the ef best
// results found so far. filter, when non-nil, excludes ids from the
// result set (but not from traversal, so a filtered vector's neighbors
// remain reachable).
func (idx *Index) searchLayer(query []float32, queryQuant *quantVector, entry string, ef int, level int, filter types.Filter) []string {
	entryNode, ok := idx.nodes[entry]
	if !ok {
		return nil
	}

	seq := 0
	visited := map[string]struct{}{entry: {}}

	entryDist := idx.distanceTo(query, queryQuant, entryNode)
	candidates := &minHeap{{id: entry, dist: entryDist, seq: seq}}
	heap.Init(candidates)

	results := &maxHeap{}
	if filter == nil || filter(entry, idx.metadataOf(entry)) {
		heap.Push(results, candidateItem{id: entry, dist: entryDist, seq: seq})
	}

	for candidates.Len() > 0 {
		cur := heap.Pop(candidates).(candidateItem)

		if results.Len() >= ef {
			worst, _ := results.peekWorst()
			if cur.dist > worst.dist {
				break
			}
		}

		curNode, ok := idx.nodes[cur.id]
		if !ok {
			continue
		}
		for _, nbID := range curNode.neighbors(level) {
			if _, seen := visited[nbID]; seen {
				continue
			}
			visited[nbID] = struct{}{}
			nbNode, ok := idx.nodes[nbID]
			if !ok {
				continue
			}
			d := idx.distanceTo(query, queryQuant, nbNode)

			worst, hasWorst := results.peekWorst()
			if !hasWorst || d < worst.dist || results.Len() < ef {
				seq++
				heap.Push(candidates, candidateItem{id: nbID, dist: d, seq: seq})
				if filter == nil || filter(nbID, idx.metadataOf(nbID)) {
					heap.Push(results, candidateItem{id: nbID, dist: d, seq: seq})
					if results.Len() > ef {
						heap.Pop(results)
					}
				}
			}
		}
	}

	out := make([]string, results.Len())
	items := make([]candidateItem, results.Len())
	copy(items, *results)
	sort.Slice(items, func(i, j int) bool {
		if items[i].dist != items[j].dist {
			return items[i].dist < items[j].dist
		}
		return idx.insertSeq[items[i].id] < idx.insertSeq[items[j].id]
	})
	for i, it := range items {
		out[i] = it.id
	}
	return out
}

// metadataOf is a hook point for filter predicates; the base index has
// no metadata of its own; wired in by the caller via Search's filter
// closures (a filter built with the current metadata store already
// captures everything it needs, so this just satisfies the signature).
func (idx *Index) metadataOf(id string) types.Metadata { return nil }

// Search returns the k nearest neighbors of query.
func (idx *Index) Search(query []float32, k int, filter types.Filter) ([]SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.nodes) == 0 {
		return nil, nil
	}
	if idx.dimSet && len(query) != idx.dimension {
		return nil, types.Newf(types.KindInvalidArgument, "hnsw.search",
			"dimension mismatch: expected %d, got %d", idx.dimension, len(query))
	}

	entry := idx.entryPointID
	if entry == "" {
		entry = idx.recoverEntryPoint()
		if entry == "" {
			return nil, nil
		}
	}

	var queryQuant *quantVector
	if idx.config.Quantization.Enabled {
		queryQuant = quantize(query)
	}

	for l := idx.maxLevel; l > 0; l-- {
		entry = idx.searchLayerClosest(query, queryQuant, entry, l)
	}

	ef := idx.config.EfSearch
	if rerankK := k * idx.config.Quantization.RerankMultiplier; idx.config.Quantization.Enabled && rerankK > ef {
		ef = rerankK
	}
	if ef < k {
		ef = k
	}
	if filter != nil {
		ef *= 3
	}

	candidates := idx.searchLayer(query, queryQuant, entry, ef, 0, filter)

	type scored struct {
		id   string
		dist float32
	}
	scoredList := make([]scored, 0, len(candidates))
	for _, id := range candidates {
		n, ok := idx.nodes[id]
		if !ok {
			continue
		}
		var d float32
		if idx.config.Quantization.Enabled {
			vec := idx.vectorOf(n)
			if idx.hooks.LoadVector != nil {
				if exact, ok := idx.hooks.LoadVector(id); ok {
					vec = exact
				}
			}
			if vec == nil {
				continue
			}
			d = idx.config.Distance(query, vec)
		} else {
			vec := idx.vectorOf(n)
			if vec == nil {
				continue
			}
			d = idx.config.Distance(query, vec)
		}
		scoredList = append(scoredList, scored{id: id, dist: d})
	}
	sort.Slice(scoredList, func(i, j int) bool {
		if scoredList[i].dist != scoredList[j].dist {
			return scoredList[i].dist < scoredList[j].dist
		}
		return idx.insertSeq[scoredList[i].id] < idx.insertSeq[scoredList[j].id]
	})
	if len(scoredList) > k {
		scoredList = scoredList[:k]
	}

	out := make([]SearchResult, len(scoredList))
	for i, s := range scoredList {
		out[i] = SearchResult{ID: s.id, Distance: s.dist}
	}
	return out, nil
}

// recoverEntryPoint is used when the entry point is unset (e.g. after a
// rebuild or a racing delete) but nodes still exist: prefer the highest
// tracked level, else fall back to an arbitrary node.
func (idx *Index) recoverEntryPoint() string {
	for l := maxTrackedLevels; l >= 2; l-- {
		for id := range idx.highLevel[l] {
			return id
		}
	}
	for id := range idx.nodes {
		return id
	}
	return ""
}
