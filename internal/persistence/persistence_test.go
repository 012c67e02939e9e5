package persistence

import (
	"context"
	"testing"

	"github.com/nvgraph/nvgraph/internal/hnsw"
	"github.com/nvgraph/nvgraph/internal/storage"
	"github.com/nvgraph/nvgraph/internal/types"
)

func newDeferredIndex(adapter storage.Adapter) (*hnsw.Index, *Coordinator) {
	cfg := hnsw.DefaultConfig()
	cfg.PersistMode = string(types.PersistDeferred)

	var idx *hnsw.Index
	coord := New(adapter, types.PersistDeferred, coordinatorSourceFunc{
		nodeRecordFor: func(id string) (hnsw.NodeRecord, bool) { return idx.NodeRecordFor(id) },
		systemSnapshot: func() hnsw.SystemRecord { return idx.SystemSnapshot() },
	})
	idx = hnsw.New(cfg, coord.Hooks())
	return idx, coord
}

// coordinatorSourceFunc adapts closures to the NodeSource interface,
// needed here because the Index and Coordinator are mutually
// referential (the coordinator's hooks are passed into hnsw.New, but
// the coordinator also needs to read back from the constructed index).
type coordinatorSourceFunc struct {
	nodeRecordFor  func(id string) (hnsw.NodeRecord, bool)
	systemSnapshot func() hnsw.SystemRecord
}

func (f coordinatorSourceFunc) NodeRecordFor(id string) (hnsw.NodeRecord, bool) { return f.nodeRecordFor(id) }
func (f coordinatorSourceFunc) SystemSnapshot() hnsw.SystemRecord               { return f.systemSnapshot() }

func TestDeferredModeAccumulatesDirtyIDsUntilFlush(t *testing.T) {
	adapter := storage.NewMemory()
	idx, coord := newDeferredIndex(adapter)

	if err := idx.AddItem("a", []float32{1, 2}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if coord.DirtyCount() == 0 {
		t.Fatal("expected at least one dirty id after insert in deferred mode")
	}
	if _, ok, _ := adapter.GetNounVector(context.Background(), "a"); ok {
		t.Fatal("deferred mode should not write through before flush")
	}

	n, err := coord.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n == 0 {
		t.Fatal("expected at least one record flushed")
	}
	if coord.DirtyCount() != 0 {
		t.Fatal("expected dirty set to be cleared after flush")
	}
	if _, ok, _ := adapter.GetNounVector(context.Background(), "a"); !ok {
		t.Fatal("expected node record to be persisted after flush")
	}
}

func TestFlushPersistsSystemRecordWhenDirty(t *testing.T) {
	adapter := storage.NewMemory()
	idx, coord := newDeferredIndex(adapter)

	if err := idx.AddItem("a", []float32{1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := coord.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	sys, ok, err := adapter.GetHNSWSystem(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected persisted system record: ok=%v err=%v", ok, err)
	}
	if sys.EntryPointID != "a" {
		t.Fatalf("expected entry point a, got %q", sys.EntryPointID)
	}
}

func TestImmediateModeWritesThroughWithoutFlush(t *testing.T) {
	adapter := storage.NewMemory()
	cfg := hnsw.DefaultConfig()
	cfg.PersistMode = string(types.PersistImmediate)

	var idx *hnsw.Index
	coord := New(adapter, types.PersistImmediate, coordinatorSourceFunc{
		nodeRecordFor:  func(id string) (hnsw.NodeRecord, bool) { return idx.NodeRecordFor(id) },
		systemSnapshot: func() hnsw.SystemRecord { return idx.SystemSnapshot() },
	})
	idx = hnsw.New(cfg, coord.Hooks())

	if err := idx.AddItem("a", []float32{1, 2}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, ok, _ := adapter.GetNounVector(context.Background(), "a"); !ok {
		t.Fatal("expected immediate mode to persist without an explicit flush")
	}
}
