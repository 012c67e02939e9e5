package hnsw

import "github.com/nvgraph/nvgraph/internal/types"

// RemoveItem deletes id from the graph, severing every incident edge.
// Bidirectionality is assumed maintained by prior inserts, so only the
// node's own recorded neighbors are visited to remove back-edges;
// correctness relies on that invariant rather than a defensive full
// graph scan.
func (idx *Index) RemoveItem(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n, ok := idx.nodes[id]
	if !ok {
		return types.Newf(types.KindNotFound, "hnsw.removeItem", "id %s not indexed", id)
	}

	touched := map[string]struct{}{}
	for level, set := range n.connections {
		for nbID := range set {
			nb := idx.mutableNode(nbID)
			if nb == nil {
				continue
			}
			nb.removeNeighbor(level, id)
			touched[nbID] = struct{}{}
		}
	}

	delete(idx.nodes, id)
	delete(idx.insertSeq, id)
	delete(idx.cowModified, id)
	if n.level >= 2 && n.level <= maxTrackedLevels {
		idx.untrackHighLevel(n.level, id)
	}

	systemChanged := false
	if idx.entryPointID == id {
		if len(idx.nodes) == 0 {
			idx.entryPointID = ""
			idx.maxLevel = 0
		} else {
			idx.entryPointID = idx.recoverEntryPoint()
			if repl, ok := idx.nodes[idx.entryPointID]; ok {
				idx.maxLevel = idx.highestLevelPresent(repl)
			}
		}
		systemChanged = true
	}

	if idx.hooks.DeleteNode != nil {
		if err := idx.hooks.DeleteNode(id); err != nil {
			idx.failedPersists++
			idx.logger.Warnf("hnsw: delete node %s failed: %v", id, err)
		}
	}

	idx.persistTouched(touched, systemChanged)
	return nil
}

// highestLevelPresent recomputes maxLevel conservatively after an
// entry-point replacement: the true graph max level may now be lower
// than before, but it is always at least the replacement node's own
// level, which is what greedy descent needs to stay correct.
func (idx *Index) highestLevelPresent(entry *node) int {
	max := entry.level
	for l := range idx.highLevel {
		if l > max && len(idx.highLevel[l]) > 0 {
			max = l
		}
	}
	return max
}
