package storage

import (
	"context"
	"testing"
)

func TestMemorySaveAndGetNounVector(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	rec := NounVectorRecord{ID: "a", Vector: []float32{1, 2, 3}, Level: 2}
	if err := m.SaveNounVector(ctx, rec); err != nil {
		t.Fatalf("SaveNounVector: %v", err)
	}
	got, ok, err := m.GetNounVector(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("GetNounVector: ok=%v err=%v", ok, err)
	}
	if got.Level != 2 || len(got.Vector) != 3 {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestMemoryDeleteNounRemovesVectorAndMetadata(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.SaveNounVector(ctx, NounVectorRecord{ID: "a"})
	_ = m.SaveNounMetadata(ctx, NounMetadataRecord{ID: "a"})
	if err := m.DeleteNoun(ctx, "a"); err != nil {
		t.Fatalf("DeleteNoun: %v", err)
	}
	if _, ok, _ := m.GetNounVector(ctx, "a"); ok {
		t.Fatal("expected vector gone after delete")
	}
	if _, ok, _ := m.GetNounMetadata(ctx, "a"); ok {
		t.Fatal("expected metadata gone after delete")
	}
}

func TestMemoryPaginationHasMoreAndCursor(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for i := 0; i < 25; i++ {
		id := string(rune('a' + i))
		_ = m.SaveNounMetadata(ctx, NounMetadataRecord{ID: id})
	}
	page1, err := m.GetNounsWithPagination(ctx, PaginationParams{Limit: 10})
	if err != nil {
		t.Fatalf("GetNounsWithPagination: %v", err)
	}
	if len(page1.Items) != 10 || !page1.HasMore {
		t.Fatalf("expected 10 items with more, got %d hasMore=%v", len(page1.Items), page1.HasMore)
	}
	page2, err := m.GetNounsWithPagination(ctx, PaginationParams{Limit: 10, Cursor: page1.NextCursor})
	if err != nil {
		t.Fatalf("GetNounsWithPagination page2: %v", err)
	}
	if len(page2.Items) != 10 {
		t.Fatalf("expected 10 items on page2, got %d", len(page2.Items))
	}
	page3, err := m.GetNounsWithPagination(ctx, PaginationParams{Limit: 10, Cursor: page2.NextCursor})
	if err != nil {
		t.Fatalf("GetNounsWithPagination page3: %v", err)
	}
	if len(page3.Items) != 5 || page3.HasMore {
		t.Fatalf("expected final 5 items with no more, got %d hasMore=%v", len(page3.Items), page3.HasMore)
	}
}

func TestMemoryGetMetadataBatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.SaveNounMetadata(ctx, NounMetadataRecord{ID: "a"})
	_ = m.SaveNounMetadata(ctx, NounMetadataRecord{ID: "b"})
	out, err := m.GetMetadataBatch(ctx, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("GetMetadataBatch: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 found records, got %d", len(out))
	}
}

func TestMemoryWALAppendAndRead(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.AppendWAL(ctx, "session1", []byte("line1\n")); err != nil {
		t.Fatalf("AppendWAL: %v", err)
	}
	if err := m.AppendWAL(ctx, "session1", []byte("line2\n")); err != nil {
		t.Fatalf("AppendWAL: %v", err)
	}
	data, err := m.ReadWAL(ctx, "session1")
	if err != nil {
		t.Fatalf("ReadWAL: %v", err)
	}
	if string(data) != "line1\nline2\n" {
		t.Fatalf("unexpected WAL content: %q", data)
	}
}
