package hnsw

// Fork returns a copy-on-write snapshot of idx: an O(1) shallow copy of
// the node table that only deep-copies a given node the first time the
// fork mutates it. Reads against the fork never block writes against
// idx or vice versa, but both share unmodified nodes until one of them
// diverges.
func (idx *Index) Fork() *Index {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	nodes := make(map[string]*node, len(idx.nodes))
	for id, n := range idx.nodes {
		nodes[id] = n
	}
	insertSeq := make(map[string]int, len(idx.insertSeq))
	for id, s := range idx.insertSeq {
		insertSeq[id] = s
	}
	highLevel := make(map[int]map[string]struct{}, len(idx.highLevel))
	for lvl, set := range idx.highLevel {
		ns := make(map[string]struct{}, len(set))
		for id := range set {
			ns[id] = struct{}{}
		}
		highLevel[lvl] = ns
	}

	return &Index{
		config:       idx.config,
		hooks:        Hooks{}, // a fork is a read-side snapshot; it does not persist on its own
		logger:       idx.logger,
		dimension:    idx.dimension,
		dimSet:       idx.dimSet,
		nodes:        nodes,
		entryPointID: idx.entryPointID,
		maxLevel:     idx.maxLevel,
		highLevel:    highLevel,
		insertSeq:    insertSeq,
		nextSeq:      idx.nextSeq,
		parent:       idx,
		cowModified:  make(map[string]struct{}),
		vpool:        idx.vpool,
	}
}

// IsFork reports whether idx was produced by Fork and has not yet been
// detached.
func (idx *Index) IsFork() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.parent != nil
}

// Detach severs the copy-on-write relationship to the parent, deep
// copying any node still shared with it. After Detach, idx can outlive
// its parent safely and persistence hooks may be attached to it.
func (idx *Index) Detach(hooks Hooks) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.parent != nil {
		for id, n := range idx.nodes {
			if _, owned := idx.cowModified[id]; !owned {
				idx.nodes[id] = n.clone()
			}
		}
	}
	idx.parent = nil
	idx.cowModified = make(map[string]struct{})
	idx.hooks = hooks
}
