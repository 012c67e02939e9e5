package stats

import (
	"context"
	"testing"
	"time"

	"github.com/nvgraph/nvgraph/internal/storage"
	"github.com/nvgraph/nvgraph/internal/types"
)

func TestIncrementAndSnapshot(t *testing.T) {
	c := New(nil)
	ctx := context.Background()
	c.IncrementNoun(ctx, types.NounPerson)
	c.IncrementNoun(ctx, types.NounPerson)
	c.IncrementNoun(ctx, types.NounDocument)
	c.IncrementVerb(ctx, types.VerbContains)

	snap := c.Snapshot()
	if snap.TotalNouns != 3 {
		t.Fatalf("expected 3 nouns, got %d", snap.TotalNouns)
	}
	if snap.NounsByType[types.NounPerson] != 2 {
		t.Fatalf("expected 2 Person nouns, got %d", snap.NounsByType[types.NounPerson])
	}
	if snap.TotalVerbs != 1 {
		t.Fatalf("expected 1 verb, got %d", snap.TotalVerbs)
	}
}

func TestDecrementNeverGoesNegative(t *testing.T) {
	c := New(nil)
	ctx := context.Background()
	c.DecrementNoun(ctx, types.NounPerson)
	snap := c.Snapshot()
	if snap.TotalNouns != 0 || snap.NounsByType[types.NounPerson] != 0 {
		t.Fatalf("expected counts to stay at zero, got %+v", snap)
	}
}

func TestPeriodicFlushEveryTenWrites(t *testing.T) {
	adapter := storage.NewMemory()
	c := New(adapter)
	ctx := context.Background()

	for i := 0; i < persistEvery-1; i++ {
		c.IncrementNoun(ctx, types.NounThing)
	}
	if _, ok, _ := adapter.GetCounts(ctx); ok {
		t.Fatal("did not expect a persisted snapshot before the threshold")
	}

	c.IncrementNoun(ctx, types.NounThing)
	rec, ok, err := adapter.GetCounts(ctx)
	if err != nil || !ok {
		t.Fatalf("expected a persisted snapshot at the threshold: ok=%v err=%v", ok, err)
	}
	if rec.TotalNouns != persistEvery {
		t.Fatalf("expected %d nouns persisted, got %d", persistEvery, rec.TotalNouns)
	}
}

func TestFlushIsImmediate(t *testing.T) {
	adapter := storage.NewMemory()
	c := New(adapter)
	ctx := context.Background()
	c.IncrementNoun(ctx, types.NounEvent)

	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	rec, ok, err := adapter.GetCounts(ctx)
	if err != nil || !ok {
		t.Fatalf("expected flushed snapshot: ok=%v err=%v", ok, err)
	}
	if rec.TotalNouns != 1 {
		t.Fatalf("expected 1 noun, got %d", rec.TotalNouns)
	}
}

func TestLoadRestoresPersistedCounts(t *testing.T) {
	adapter := storage.NewMemory()
	ctx := context.Background()
	if err := adapter.SaveCounts(ctx, storage.CountsRecord{
		TotalNouns:  7,
		NounsByType: map[types.NounType]int64{types.NounTask: 7},
	}); err != nil {
		t.Fatalf("SaveCounts: %v", err)
	}

	c := New(adapter)
	if err := c.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := c.Snapshot()
	if snap.TotalNouns != 7 || snap.NounsByType[types.NounTask] != 7 {
		t.Fatalf("expected restored counts, got %+v", snap)
	}
}

type fixedIndexSize struct{ n int }

func (f fixedIndexSize) Count() int { return f.n }

func TestCollectorSnapshotIncludesIndexSize(t *testing.T) {
	c := New(nil)
	c.IncrementNoun(context.Background(), types.NounPerson)
	collector := NewCollector(c, fixedIndexSize{n: 42}, nil)
	snap := collector.Snapshot()
	if snap.HNSWIndexSize != 42 {
		t.Fatalf("expected index size 42, got %d", snap.HNSWIndexSize)
	}
	if snap.TotalNouns != 1 {
		t.Fatalf("expected 1 noun in statistics snapshot, got %d", snap.TotalNouns)
	}
}

func TestCollectorPersistWritesStatisticsRecord(t *testing.T) {
	adapter := storage.NewMemory()
	c := New(nil)
	collector := NewCollector(c, nil, adapter)
	if err := collector.Persist(context.Background()); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	rec, ok, err := adapter.GetStatistics(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected persisted statistics: ok=%v err=%v", ok, err)
	}
	if _, ok := rec.Snapshot["lastUpdated"]; !ok {
		t.Fatal("expected lastUpdated field in persisted snapshot")
	}
}

func TestMergeByMaxTakesHigherCounters(t *testing.T) {
	a := storage.CountsRecord{
		TotalNouns:  5,
		NounsByType: map[types.NounType]int64{types.NounPerson: 5},
	}
	b := storage.CountsRecord{
		TotalNouns:  8,
		NounsByType: map[types.NounType]int64{types.NounPerson: 3, types.NounEvent: 1},
	}
	merged := MergeByMax(a, b)
	if merged.TotalNouns != 8 {
		t.Fatalf("expected max total 8, got %d", merged.TotalNouns)
	}
	if merged.NounsByType[types.NounPerson] != 5 {
		t.Fatalf("expected max Person count 5, got %d", merged.NounsByType[types.NounPerson])
	}
	if merged.NounsByType[types.NounEvent] != 1 {
		t.Fatalf("expected Event count carried over, got %d", merged.NounsByType[types.NounEvent])
	}
}

func TestMergeStatisticsByMaxKeepsLatestTimestamp(t *testing.T) {
	older := Statistics{TotalNouns: 10, LastUpdated: time.Unix(100, 0)}
	newer := Statistics{TotalNouns: 3, LastUpdated: time.Unix(200, 0)}
	merged := MergeStatisticsByMax(older, newer)
	if merged.TotalNouns != 10 {
		t.Fatalf("expected max total 10, got %d", merged.TotalNouns)
	}
	if !merged.LastUpdated.Equal(newer.LastUpdated) {
		t.Fatalf("expected latest timestamp to win, got %v", merged.LastUpdated)
	}
}
