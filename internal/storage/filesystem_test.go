package storage

import (
	"context"
	"testing"
)

func TestFilesystemSaveGetDeleteNounVector(t *testing.T) {
	ctx := context.Background()
	f, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	rec := NounVectorRecord{ID: "abc123", Vector: []float32{1, 2, 3}, Level: 1}
	if err := f.SaveNounVector(ctx, rec); err != nil {
		t.Fatalf("SaveNounVector: %v", err)
	}
	got, ok, err := f.GetNounVector(ctx, "abc123")
	if err != nil || !ok {
		t.Fatalf("GetNounVector: ok=%v err=%v", ok, err)
	}
	if len(got.Vector) != 3 {
		t.Fatalf("unexpected vector: %+v", got.Vector)
	}
	if err := f.DeleteNoun(ctx, "abc123"); err != nil {
		t.Fatalf("DeleteNoun: %v", err)
	}
	if _, ok, _ := f.GetNounVector(ctx, "abc123"); ok {
		t.Fatal("expected vector gone after delete")
	}
}

func TestFilesystemMissingRecordReturnsNotOK(t *testing.T) {
	ctx := context.Background()
	f, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	_, ok, err := f.GetNounVector(ctx, "nope")
	if err != nil {
		t.Fatalf("expected no error for missing record, got %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing record")
	}
}

func TestFilesystemStatsLockSerializesCounts(t *testing.T) {
	ctx := context.Background()
	f, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	if err := f.SaveCounts(ctx, CountsRecord{TotalNouns: 5}); err != nil {
		t.Fatalf("SaveCounts: %v", err)
	}
	got, ok, err := f.GetCounts(ctx)
	if err != nil || !ok {
		t.Fatalf("GetCounts: ok=%v err=%v", ok, err)
	}
	if got.TotalNouns != 5 {
		t.Fatalf("expected TotalNouns=5, got %d", got.TotalNouns)
	}
}

func TestFilesystemPaginationAcrossShards(t *testing.T) {
	ctx := context.Background()
	f, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	ids := []string{"00aaaa", "00bbbb", "ffcccc", "11dddd"}
	for _, id := range ids {
		if err := f.SaveNounMetadata(ctx, NounMetadataRecord{ID: id}); err != nil {
			t.Fatalf("SaveNounMetadata: %v", err)
		}
	}
	page, err := f.GetNounsWithPagination(ctx, PaginationParams{Limit: 2})
	if err != nil {
		t.Fatalf("GetNounsWithPagination: %v", err)
	}
	if len(page.Items) != 2 || !page.HasMore {
		t.Fatalf("expected first page of 2 with more, got %d hasMore=%v", len(page.Items), page.HasMore)
	}
}

func TestFilesystemGetMetadataBatchChunked(t *testing.T) {
	ctx := context.Background()
	f, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	var ids []string
	for i := 0; i < 23; i++ {
		id := string(rune('a' + i))
		ids = append(ids, id)
		if err := f.SaveNounMetadata(ctx, NounMetadataRecord{ID: id}); err != nil {
			t.Fatalf("SaveNounMetadata: %v", err)
		}
	}
	out, err := f.GetMetadataBatch(ctx, ids)
	if err != nil {
		t.Fatalf("GetMetadataBatch: %v", err)
	}
	if len(out) != len(ids) {
		t.Fatalf("expected %d records, got %d", len(ids), len(out))
	}
}
