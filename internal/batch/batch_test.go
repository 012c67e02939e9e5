package batch

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingExecutor struct {
	mu        sync.Mutex
	immediate []Operation
	batches   [][]Operation
}

func (r *recordingExecutor) ExecuteImmediate(_ context.Context, op Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.immediate = append(r.immediate, op)
	return nil
}

func (r *recordingExecutor) ExecuteBatch(_ context.Context, ops []Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, ops)
	return nil
}

func (r *recordingExecutor) snapshot() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.immediate), len(r.batches)
}

func TestSubmitRefusesBatchingForRegistryLookupMetadata(t *testing.T) {
	exec := &recordingExecutor{}
	b := New(Config{}, exec)

	err := b.Submit(context.Background(), Operation{
		Type: OpAdd, ID: "e1", Metadata: map[string]any{"did": "did:example:123"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	immediate, batches := exec.snapshot()
	if immediate != 1 || batches != 0 {
		t.Fatalf("expected 1 immediate execution, got immediate=%d batches=%d", immediate, batches)
	}
}

func TestSubmitRefusesBatchingForDependentOperation(t *testing.T) {
	exec := &recordingExecutor{}
	b := New(Config{}, exec)

	err := b.Submit(context.Background(), Operation{
		Type: OpAdd, ID: "e1", Metadata: map[string]any{"hasDependentOperation": true},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	immediate, _ := exec.snapshot()
	if immediate != 1 {
		t.Fatalf("expected immediate execution for dependent operation, got %d", immediate)
	}
}

func TestSubmitCoalescesAtBatchThreshold(t *testing.T) {
	exec := &recordingExecutor{}
	b := New(Config{BatchThreshold: 5, MaxWaitTime: time.Hour}, exec)

	for i := 0; i < 5; i++ {
		if err := b.Submit(context.Background(), Operation{Type: OpSave, ID: "e"}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	_, batches := exec.snapshot()
	if batches != 1 {
		t.Fatalf("expected exactly one coalesced batch, got %d", batches)
	}
}

func TestSingleQueuedOperationFlushesOnTimerAsImmediate(t *testing.T) {
	exec := &recordingExecutor{}
	b := New(Config{BatchThreshold: 5, MaxWaitTime: 10 * time.Millisecond}, exec)

	if err := b.Submit(context.Background(), Operation{Type: OpUpdate, ID: "e"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if immediate, _ := exec.snapshot(); immediate == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the lone queued operation to flush on the immediate path")
}

func TestFlushDrainsAllLanesInPriorityOrder(t *testing.T) {
	exec := &recordingExecutor{}
	b := New(Config{BatchThreshold: 100, MaxWaitTime: time.Hour}, exec)

	for _, opType := range []OperationType{OpAdd, OpSave, OpUpdate, OpDelete} {
		if err := b.Submit(context.Background(), Operation{Type: opType, ID: "e"}); err != nil {
			t.Fatalf("Submit %s: %v", opType, err)
		}
	}

	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	immediate, _ := exec.snapshot()
	if immediate != 4 {
		t.Fatalf("expected all 4 single-op lanes to flush on the immediate path, got %d", immediate)
	}
	exec.mu.Lock()
	order := make([]OperationType, 0, len(exec.immediate))
	for _, op := range exec.immediate {
		order = append(order, op.Type)
	}
	exec.mu.Unlock()
	for i, want := range []OperationType{OpDelete, OpUpdate, OpSave, OpAdd} {
		if order[i] != want {
			t.Fatalf("expected flush order delete, update, save, add; got %v", order)
		}
	}
	if pending := b.PendingCounts(); pending[OpAdd] != 0 || pending[OpDelete] != 0 {
		t.Fatalf("expected empty queues after flush, got %+v", pending)
	}
}

func TestMemoryCeilingTriggersOldestLaneFlush(t *testing.T) {
	exec := &recordingExecutor{}
	b := New(Config{BatchThreshold: 100, MaxWaitTime: time.Hour, MemoryCeiling: 100}, exec)

	if err := b.Submit(context.Background(), Operation{Type: OpAdd, ID: "old", SizeBytes: 60}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := b.Submit(context.Background(), Operation{Type: OpSave, ID: "new", SizeBytes: 60}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	pending := b.PendingCounts()
	if pending[OpAdd] != 0 {
		t.Fatalf("expected the oldest (add) lane to have been flushed under memory pressure, got %+v", pending)
	}
}

type recordingFlusher struct {
	mu      sync.Mutex
	flushes []map[string]any
}

func (f *recordingFlusher) FlushEntries(_ context.Context, entries map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes = append(f.flushes, entries)
	return nil
}

func TestWriteBufferCoalescesRepeatedWritesToSameID(t *testing.T) {
	flusher := &recordingFlusher{}
	wb := NewWriteBuffer(flusher, time.Hour)

	wb.Put("id-1", "first")
	wb.Put("id-1", "second")
	wb.Put("id-2", "third")

	if err := wb.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	flusher.mu.Lock()
	defer flusher.mu.Unlock()
	if len(flusher.flushes) != 1 {
		t.Fatalf("expected a single flush call, got %d", len(flusher.flushes))
	}
	entries := flusher.flushes[0]
	if entries["id-1"] != "second" {
		t.Fatalf("expected coalesced value 'second' for id-1, got %v", entries["id-1"])
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 distinct ids, got %d", len(entries))
	}
}

func TestWriteBufferFlushIsNoOpWhenEmpty(t *testing.T) {
	flusher := &recordingFlusher{}
	wb := NewWriteBuffer(flusher, time.Hour)
	if err := wb.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	flusher.mu.Lock()
	defer flusher.mu.Unlock()
	if len(flusher.flushes) != 0 {
		t.Fatal("expected no flush call for an empty buffer")
	}
}
