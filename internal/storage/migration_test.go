package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// writeLegacyNounVector writes a noun vector record directly under the
// old depth-2 shard layout (nouns/<shard>/<shard2>/<id>.json),
// bypassing the adapter so NewFilesystem observes it as pre-existing
// on-disk state.
func writeLegacyNounVector(t *testing.T, root, id string) {
	t.Helper()
	rec := NounVectorRecord{ID: id, Vector: []float32{1, 2, 3}, Level: 0}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	shard1, shard2 := id[:2], id[2:4]
	dir := filepath.Join(root, "entities", "nouns", "vectors", shard1, shard2)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".json"), data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestFilesystemMigratesLegacyDepth2Layout(t *testing.T) {
	root := t.TempDir()
	writeLegacyNounVector(t, root, "ab12cd000001")
	writeLegacyNounVector(t, root, "ab34cd000002")

	f, err := NewFilesystem(root)
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}

	flatPath := filepath.Join(root, "entities", "nouns", "vectors", "ab", "ab12cd000001.json")
	if _, err := os.Stat(flatPath); err != nil {
		t.Fatalf("expected flattened file at %s: %v", flatPath, err)
	}

	nestedDir := filepath.Join(root, "entities", "nouns", "vectors", "ab", "12")
	if _, err := os.Stat(nestedDir); !os.IsNotExist(err) {
		t.Fatalf("expected nested shard dir removed, stat err=%v", err)
	}

	got, ok, err := f.GetNounVector(context.Background(), "ab12cd000001")
	if err != nil || !ok {
		t.Fatalf("GetNounVector after migration: ok=%v err=%v", ok, err)
	}
	if len(got.Vector) != 3 {
		t.Fatalf("unexpected vector after migration: %+v", got.Vector)
	}
}

func TestFilesystemMigrationIsNoOpOnFlatLayout(t *testing.T) {
	root := t.TempDir()
	f, err := NewFilesystem(root)
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	if err := f.SaveNounVector(context.Background(), NounVectorRecord{ID: "xyz123", Vector: []float32{1}}); err != nil {
		t.Fatalf("SaveNounVector: %v", err)
	}

	f2, err := NewFilesystem(root)
	if err != nil {
		t.Fatalf("second NewFilesystem: %v", err)
	}
	got, ok, err := f2.GetNounVector(context.Background(), "xyz123")
	if err != nil || !ok {
		t.Fatalf("GetNounVector: ok=%v err=%v", ok, err)
	}
	if len(got.Vector) != 1 {
		t.Fatalf("unexpected vector: %+v", got.Vector)
	}
}
