// Package persistence implements the persistence coordinator (spec
// §4.4): the immediate/deferred switch sitting between hnsw.Index's
// Hooks and the storage adapter. Immediate mode writes through on
// every mutation; deferred mode accumulates dirty IDs and a
// dirty-system flag, writing them out in bounded concurrent batches
// only when flush() is called.
package persistence

import (
	"context"
	"sync"

	"github.com/nvgraph/nvgraph/internal/hnsw"
	"github.com/nvgraph/nvgraph/internal/storage"
	"github.com/nvgraph/nvgraph/internal/types"
)

// flushBatchSize bounds how many dirty records are written concurrently
// per flush, per spec: "writes all dirty records concurrently in
// batches (default 50)".
const flushBatchSize = 50

// NodeSource resolves a dirty node ID back to its current persistable
// record, satisfied by hnsw.Index.
type NodeSource interface {
	NodeRecordFor(id string) (hnsw.NodeRecord, bool)
	SystemSnapshot() hnsw.SystemRecord
}

// Coordinator bridges hnsw.Index's Hooks to a storage.Adapter, in
// either immediate or deferred persist mode.
type Coordinator struct {
	adapter storage.Adapter
	mode    types.PersistMode
	source  NodeSource

	mu           sync.Mutex
	dirtyIDs     map[string]struct{}
	dirtySystem  bool
}

// New creates a Coordinator over adapter in the given mode. source is
// consulted only at flush time (deferred mode) to read back current
// node state; in immediate mode the Hooks receive each record directly.
func New(adapter storage.Adapter, mode types.PersistMode, source NodeSource) *Coordinator {
	return &Coordinator{
		adapter:  adapter,
		mode:     mode,
		source:   source,
		dirtyIDs: make(map[string]struct{}),
	}
}

// Hooks returns the hnsw.Hooks wiring for this coordinator. In
// immediate mode PersistNode/PersistSystem write straight through;
// MarkDirty/MarkSystemDirty are unused by the index when PersistMode
// is immediate (the index only calls the Mark* hooks in deferred mode,
// see hnsw.Index.persistTouched), but are wired regardless so a
// runtime mode flip only requires reconstructing the Coordinator.
func (c *Coordinator) Hooks() hnsw.Hooks {
	return hnsw.Hooks{
		PersistNode:     c.persistNode,
		MarkDirty:       c.markDirty,
		DeleteNode:      c.deleteNode,
		PersistSystem:   c.persistSystem,
		MarkSystemDirty: c.markSystemDirty,
	}
}

func (c *Coordinator) persistNode(rec hnsw.NodeRecord) error {
	return c.adapter.SaveNounVector(context.Background(), nodeToRecord(rec))
}

func (c *Coordinator) deleteNode(id string) error {
	return c.adapter.DeleteNoun(context.Background(), id)
}

func (c *Coordinator) persistSystem(sys hnsw.SystemRecord) error {
	return c.adapter.SaveHNSWSystem(context.Background(), storage.HNSWSystemRecord{
		EntryPointID: sys.EntryPointID,
		MaxLevel:     sys.MaxLevel,
	})
}

func (c *Coordinator) markDirty(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirtyIDs[id] = struct{}{}
}

func (c *Coordinator) markSystemDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirtySystem = true
}

// DirtyCount returns the number of node IDs currently pending a flush,
// exposed for monitoring per spec: "Dirty-node count is exposed for
// monitoring."
func (c *Coordinator) DirtyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dirtyIDs)
}

func nodeToRecord(rec hnsw.NodeRecord) storage.NounVectorRecord {
	out := storage.NounVectorRecord{
		ID:          rec.ID,
		Vector:      rec.Vector,
		Level:       rec.Level,
		Connections: rec.Connections,
	}
	if rec.Quant != nil {
		out.Quant = &storage.QuantRecord{Min: rec.Quant.Min, Max: rec.Quant.Max, Codes: rec.Quant.Codes}
	}
	return out
}

// Flush writes every dirty node record and, if the system record is
// dirty, the system record, concurrently in batches of flushBatchSize,
// then clears the dirty set. It returns the number of node records
// flushed. Safe to call in immediate mode, where it is always a no-op
// (nothing accumulates there).
func (c *Coordinator) Flush(ctx context.Context) (int, error) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.dirtyIDs))
	for id := range c.dirtyIDs {
		ids = append(ids, id)
	}
	c.dirtyIDs = make(map[string]struct{})
	systemDirty := c.dirtySystem
	c.dirtySystem = false
	c.mu.Unlock()

	var firstErr error
	var mu sync.Mutex
	flushed := 0

	for start := 0; start < len(ids); start += flushBatchSize {
		end := start + flushBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		var wg sync.WaitGroup
		for _, id := range batch {
			id := id
			rec, ok := c.source.NodeRecordFor(id)
			if !ok {
				continue
			}
			wg.Add(1)
			go func(rec hnsw.NodeRecord) {
				defer wg.Done()
				if err := c.adapter.SaveNounVector(ctx, nodeToRecord(rec)); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = types.Wrap(types.KindInternal, "persistence.flush", err)
					}
					mu.Unlock()
					return
				}
				mu.Lock()
				flushed++
				mu.Unlock()
			}(rec)
		}
		wg.Wait()
	}

	if systemDirty {
		sys := c.source.SystemSnapshot()
		if err := c.persistSystem(sys); err != nil && firstErr == nil {
			firstErr = types.Wrap(types.KindInternal, "persistence.flush", err)
		}
	}

	return flushed, firstErr
}
