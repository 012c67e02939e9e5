package hnsw

// LoadNode installs a node exactly as persisted, trusting that its
// connections already satisfy the bidirectionality invariant (true of
// anything written by PersistNode). Used when rebuilding an index from
// storage; callers should load every node before calling LoadSystem.
func (idx *Index) LoadNode(rec NodeRecord) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := &node{
		id:          rec.ID,
		vector:      rec.Vector,
		level:       rec.Level,
		connections: make(map[int]map[string]struct{}, len(rec.Connections)),
		cowOwned:    true,
	}
	for lvl, ids := range rec.Connections {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		n.connections[lvl] = set
	}
	if rec.Quant != nil {
		n.quant = &quantVector{Min: rec.Quant.Min, Max: rec.Quant.Max, Codes: append([]byte(nil), rec.Quant.Codes...)}
	}

	idx.nodes[rec.ID] = n
	idx.nextSeq++
	idx.insertSeq[rec.ID] = idx.nextSeq

	if !idx.dimSet && len(rec.Vector) > 0 {
		idx.dimension = len(rec.Vector)
		idx.dimSet = true
	}
	if rec.Level >= 2 && rec.Level <= maxTrackedLevels {
		idx.trackHighLevel(rec.Level, rec.ID)
	}
}

// LoadSystem installs the persisted entry-point/max-level record,
// completing a rebuild started with LoadNode calls.
func (idx *Index) LoadSystem(sys SystemRecord) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entryPointID = sys.EntryPointID
	idx.maxLevel = sys.MaxLevel
}

// NodeRecordFor returns the current persisted-shape record for id, for
// a persistence coordinator flushing a dirty-id set.
func (idx *Index) NodeRecordFor(id string) (NodeRecord, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n, ok := idx.nodes[id]
	if !ok {
		return NodeRecord{}, false
	}
	return n.record(), true
}

// SystemSnapshot returns the current entry-point/max-level record, for
// a persistence coordinator flushing a dirty system flag.
func (idx *Index) SystemSnapshot() SystemRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return SystemRecord{EntryPointID: idx.entryPointID, MaxLevel: idx.maxLevel}
}

// AllIDs returns every indexed ID, for a full rebuild-time revalidation
// pass or stats recomputation.
func (idx *Index) AllIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, 0, len(idx.nodes))
	for id := range idx.nodes {
		out = append(out, id)
	}
	return out
}
