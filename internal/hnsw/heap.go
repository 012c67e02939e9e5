package hnsw

import "container/heap"

// candidateItem pairs a node ID with its distance to the current query,
// plus a monotonic sequence number so ties break by insertion order
// (spec: "ties broken by insertion order (stable)").
type candidateItem struct {
	id   string
	dist float32
	seq  int
}

// minHeap pops the closest candidate first; used as the frontier during
// searchLayer's best-first traversal.
type minHeap []candidateItem

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool {
	if h[i].dist != h[j].dist {
		return h[i].dist < h[j].dist
	}
	return h[i].seq < h[j].seq
}
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(candidateItem)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// maxHeap pops the farthest candidate first; used to bound the result
// set to ef by evicting the worst entry once it overflows.
type maxHeap []candidateItem

func (h maxHeap) Len() int { return len(h) }
func (h maxHeap) Less(i, j int) bool {
	if h[i].dist != h[j].dist {
		return h[i].dist > h[j].dist
	}
	return h[i].seq > h[j].seq
}
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(candidateItem)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (h maxHeap) peekWorst() (candidateItem, bool) {
	if len(h) == 0 {
		return candidateItem{}, false
	}
	return h[0], true
}

var _ = heap.Interface(&minHeap{})
var _ = heap.Interface(&maxHeap{})
