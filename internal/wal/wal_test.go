package wal

import (
	"fmt"
	"os"
	"testing"
	"time"
)

func TestAppendAssignsIncreasingLSNs(t *testing.T) {
	w, err := Open(Config{Dir: t.TempDir(), CheckpointInterval: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	lsn1, err := w.Append(EntryInsert, map[string]string{"id": "a"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	lsn2, err := w.Append(EntryUpdate, map[string]string{"id": "a"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if lsn2 <= lsn1 {
		t.Fatalf("expected increasing LSNs, got %d then %d", lsn1, lsn2)
	}
}

func TestRecoveringSuppressesAppend(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir, CheckpointInterval: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	w.SetRecovering(true)
	lsn, err := w.Append(EntryInsert, map[string]string{"id": "a"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if lsn != 0 {
		t.Fatalf("expected no-op append to return 0, got %d", lsn)
	}
	w.SetRecovering(false)
}

func TestReplayAppliesEveryOperationKindInOrder(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir, CheckpointInterval: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	kinds := []EntryType{EntryInsert, EntryUpdate, EntryRelate, EntryUnrelate, EntryDelete}
	for _, k := range kinds {
		if _, err := w.Append(k, map[string]string{"kind": string(k)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var replayed []EntryType
	err = Replay(dir, func(e Entry) error {
		replayed = append(replayed, e.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(replayed) != len(kinds) {
		t.Fatalf("expected %d replayed entries (checkpoint excluded), got %d", len(kinds), len(replayed))
	}
	for i, k := range kinds {
		if replayed[i] != k {
			t.Fatalf("expected entry %d to be %s, got %s", i, k, replayed[i])
		}
	}
}

func TestRotationCreatesNewSegmentPastMaxSize(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir, MaxSegmentSize: 200, CheckpointInterval: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	for i := 0; i < 50; i++ {
		if _, err := w.Append(EntryInsert, map[string]string{"id": "some-reasonably-long-identifier"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	entries, err := ReadAll(dir)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 50 {
		t.Fatalf("expected 50 entries across rotated segments, got %d", len(entries))
	}
	w.mu.Lock()
	segment := w.segmentNum
	w.mu.Unlock()
	if segment == 0 {
		t.Fatal("expected writes past MaxSegmentSize to open a new segment")
	}
}

func TestBeginThenCompleteResolvesPendingEntry(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir, CheckpointInterval: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	entry, err := w.Begin(EntryInsert, map[string]string{"id": "a"})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if entry.Status != StatusPending {
		t.Fatalf("expected pending status, got %q", entry.Status)
	}

	all, err := ReadAll(dir)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	pending := PendingAt(all)
	if len(pending) != 1 || pending[0].LSN != entry.LSN {
		t.Fatalf("expected lsn %d pending, got %+v", entry.LSN, pending)
	}

	if err := w.Complete(entry); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	all, err = ReadAll(dir)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if pending := PendingAt(all); len(pending) != 0 {
		t.Fatalf("expected no pending entries after Complete, got %+v", pending)
	}
}

func TestFailRecordsErrorAndLeavesEntryResolved(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir, CheckpointInterval: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	entry, err := w.Begin(EntryDelete, map[string]string{"id": "a"})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := w.Fail(entry, fmt.Errorf("boom")); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	all, err := ReadAll(dir)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if pending := PendingAt(all); len(pending) != 0 {
		t.Fatalf("expected a failed entry to not be pending, got %+v", pending)
	}
	var found bool
	for _, e := range all {
		if e.LSN == entry.LSN && e.Status == StatusFailed {
			found = true
			if e.Error != "boom" {
				t.Fatalf("expected error %q, got %q", "boom", e.Error)
			}
		}
	}
	if !found {
		t.Fatalf("expected a failed record for lsn %d", entry.LSN)
	}
}

func TestPendingAtIgnoresCrashBeforeCompleteOnlyForUnresolvedLSNs(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir, CheckpointInterval: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	resolved, err := w.Begin(EntryInsert, map[string]string{"id": "resolved"})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := w.Complete(resolved); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	unresolved, err := w.Begin(EntryInsert, map[string]string{"id": "unresolved"})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	all, err := ReadAll(dir)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	pending := PendingAt(all)
	if len(pending) != 1 || pending[0].LSN != unresolved.LSN {
		t.Fatalf("expected only lsn %d pending, got %+v", unresolved.LSN, pending)
	}
}

func TestCorruptedLineIsSkippedNotFatal(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir, CheckpointInterval: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := w.Append(EntryInsert, map[string]string{"id": "a"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	path := w.segmentPath(0)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	f.WriteString(`{"lsn":99,"type":"insert","checksum":"deadbeef"}` + "\n")
	f.Close()

	entries, err := ReadAll(dir)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected the corrupted line to be skipped, got %d entries", len(entries))
	}
}
