// Package wal implements the write-ahead log described in §4.6:
// newline-delimited JSON entries, segment rotation, periodic
// checkpoints, and crash-replay covering every operation kind the
// graph supports.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// EntryType identifies the operation an Entry records.
type EntryType string

const (
	EntryInsert     EntryType = "insert"
	EntryUpdate     EntryType = "update"
	EntryDelete     EntryType = "delete"
	EntryRelate     EntryType = "relate"
	EntryUnrelate   EntryType = "unrelate"
	EntryCheckpoint EntryType = "checkpoint"
)

// Status marks an operation entry's durability state: "pending" once
// logged and before the operation runs, "completed" once it succeeds,
// "failed" if it returns an error. Replay uses this to tell a finished
// operation from one a crash interrupted mid-flight.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Entry is one newline-delimited JSON line in the log. A single
// logical operation may appear as two lines sharing an LSN: a
// "pending" line written before the operation runs, and a
// "completed"/"failed" line written after — see WAL.Begin/Complete/Fail.
type Entry struct {
	LSN          uint64          `json:"lsn"`
	Timestamp    int64           `json:"ts"`
	Type         EntryType       `json:"type"`
	Params       json.RawMessage `json:"params,omitempty"`
	Status       Status          `json:"status"`
	Error        string          `json:"error,omitempty"`
	CheckpointID uint64          `json:"checkpointId"`
	Checksum     string          `json:"checksum"`
}

func checksum(e Entry) string {
	h := xxhash.New()
	fmt.Fprintf(h, "%d|%d|%s|%s|%s|%d|", e.LSN, e.Timestamp, e.Type, e.Status, e.Error, e.CheckpointID)
	h.Write(e.Params)
	return fmt.Sprintf("%x", h.Sum64())
}

const (
	defaultMaxSize            = 10 << 20 // 10MiB
	defaultCheckpointInterval = 60 * time.Second
)

// Config controls rotation size and checkpoint cadence.
type Config struct {
	Dir                string
	MaxSegmentSize     int64
	CheckpointInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxSegmentSize <= 0 {
		c.MaxSegmentSize = defaultMaxSize
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = defaultCheckpointInterval
	}
}

// WAL is a single session's write-ahead log.
type WAL struct {
	config Config

	mu           sync.Mutex
	file         *os.File
	segmentNum   int
	currentLSN   uint64
	checkpointID uint64

	isRecovering atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Open creates or resumes a WAL in config.Dir.
func Open(config Config) (*WAL, error) {
	config.applyDefaults()
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create directory: %w", err)
	}
	w := &WAL{config: config, stopCh: make(chan struct{})}
	if err := w.openSegment(w.latestSegmentNum()); err != nil {
		return nil, err
	}
	w.wg.Add(1)
	go w.checkpointLoop()
	return w, nil
}

func (w *WAL) segmentPath(num int) string {
	return filepath.Join(w.config.Dir, fmt.Sprintf("wal_%08d.log", num))
}

func (w *WAL) latestSegmentNum() int {
	matches, _ := filepath.Glob(filepath.Join(w.config.Dir, "wal_*.log"))
	max := 0
	for _, m := range matches {
		var n int
		if _, err := fmt.Sscanf(filepath.Base(m), "wal_%08d.log", &n); err == nil && n > max {
			max = n
		}
	}
	return max
}

func (w *WAL) openSegment(num int) error {
	f, err := os.OpenFile(w.segmentPath(num), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if w.file != nil {
		w.file.Close()
	}
	w.file = f
	w.segmentNum = num
	return nil
}

// SetRecovering toggles replay mode: while true, Append/Begin/Complete
// /Fail are no-ops so that replaying the log does not re-append the
// entries it reads.
func (w *WAL) SetRecovering(recovering bool) {
	w.isRecovering.Store(recovering)
}

// writeLocked serializes entry and appends it to the current segment,
// rotating if that pushes the segment past MaxSegmentSize. Caller must
// hold w.mu.
func (w *WAL) writeLocked(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := w.file.Write(line); err != nil {
		return err
	}
	if info, err := w.file.Stat(); err == nil && info.Size() > w.config.MaxSegmentSize {
		if err := w.openSegment(w.segmentNum + 1); err != nil {
			return err
		}
	}
	return nil
}

// Append writes one operation entry with Status=completed in a single
// line and returns its LSN: the immediate-write mode (spec's default),
// where the caller has already performed the operation and is logging
// it as a fait accompli. params is marshaled to JSON; callers are
// responsible for redacting any field that should not be durably
// logged (e.g. raw credentials embedded in metadata) before passing it
// in.
func (w *WAL) Append(entryType EntryType, params any) (uint64, error) {
	if w.isRecovering.Load() {
		return 0, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("wal: marshal params: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.currentLSN++
	entry := Entry{
		LSN:          w.currentLSN,
		Timestamp:    time.Now().UnixNano(),
		Type:         entryType,
		Params:       raw,
		Status:       StatusCompleted,
		CheckpointID: w.checkpointID,
	}
	entry.Checksum = checksum(entry)
	if err := w.writeLocked(entry); err != nil {
		return entry.LSN, err
	}
	return entry.LSN, nil
}

// Begin writes a pending entry for an operation about to run and
// returns it (callers pass the same Entry back to Complete or Fail):
// the durability-first mode, where a crash between Begin and
// Complete/Fail leaves the entry at "pending" for AutoRecover to find
// and replay. A zero Entry with a nil error means the WAL is
// currently replaying and the caller should proceed without logging.
func (w *WAL) Begin(entryType EntryType, params any) (Entry, error) {
	if w.isRecovering.Load() {
		return Entry{}, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return Entry{}, fmt.Errorf("wal: marshal params: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.currentLSN++
	entry := Entry{
		LSN:          w.currentLSN,
		Timestamp:    time.Now().UnixNano(),
		Type:         entryType,
		Params:       raw,
		Status:       StatusPending,
		CheckpointID: w.checkpointID,
	}
	entry.Checksum = checksum(entry)
	if err := w.writeLocked(entry); err != nil {
		return entry, err
	}
	return entry, nil
}

// Complete resolves a pending entry returned by Begin to "completed".
func (w *WAL) Complete(e Entry) error {
	return w.resolve(e, StatusCompleted, "")
}

// Fail resolves a pending entry returned by Begin to "failed", with
// opErr's message recorded on the entry.
func (w *WAL) Fail(e Entry, opErr error) error {
	msg := ""
	if opErr != nil {
		msg = opErr.Error()
	}
	return w.resolve(e, StatusFailed, msg)
}

func (w *WAL) resolve(e Entry, status Status, errMsg string) error {
	if e.LSN == 0 || w.isRecovering.Load() {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	out := Entry{
		LSN:          e.LSN,
		Timestamp:    time.Now().UnixNano(),
		Type:         e.Type,
		Params:       e.Params,
		Status:       status,
		Error:        errMsg,
		CheckpointID: w.checkpointID,
	}
	out.Checksum = checksum(out)
	return w.writeLocked(out)
}

// writeCheckpoint appends a CHECKPOINT marker, used both by the
// periodic ticker and by an explicit Checkpoint call before a
// coordinated flush.
func (w *WAL) writeCheckpoint() error {
	w.mu.Lock()
	w.checkpointID++
	id := w.checkpointID
	w.mu.Unlock()
	_, err := w.Append(EntryCheckpoint, map[string]any{"at": time.Now().UTC(), "checkpointId": id})
	return err
}

// Checkpoint forces an immediate checkpoint entry.
func (w *WAL) Checkpoint() error {
	return w.writeCheckpoint()
}

func (w *WAL) checkpointLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.config.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			_ = w.writeCheckpoint()
		}
	}
}

// Sync flushes the current segment to stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close stops the checkpoint loop and closes the current segment.
func (w *WAL) Close() error {
	close(w.stopCh)
	w.wg.Wait()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// CurrentLSN returns the most recently assigned LSN.
func (w *WAL) CurrentLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentLSN
}

// TotalSize returns the combined size in bytes of every segment file.
func (w *WAL) TotalSize() int64 {
	matches, _ := filepath.Glob(filepath.Join(w.config.Dir, "wal_*.log"))
	var total int64
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil {
			total += info.Size()
		}
	}
	return total
}

// TruncateBefore deletes fully-checkpointed segments whose entries are
// all below targetLSN, keeping the current segment untouched.
func (w *WAL) TruncateBefore(targetLSN uint64) error {
	w.mu.Lock()
	currentPath := w.segmentPath(w.segmentNum)
	w.mu.Unlock()

	matches, _ := filepath.Glob(filepath.Join(w.config.Dir, "wal_*.log"))
	for _, path := range matches {
		if path == currentPath {
			continue
		}
		entries, err := ReadSegment(path)
		if err != nil || len(entries) == 0 {
			continue
		}
		allBelow := true
		for _, e := range entries {
			if e.LSN >= targetLSN {
				allBelow = false
				break
			}
		}
		if allBelow {
			os.Remove(path)
		}
	}
	return nil
}

// ReadSegment reads every entry from a single segment file in order.
func ReadSegment(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // a torn final write on crash is expected; skip it
		}
		if checksum(e) != e.Checksum {
			continue // corrupted line, skip rather than fail the whole replay
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// ReadAll reads every entry across every segment in dir, ordered by
// segment number then file position (which is LSN order by
// construction, since a single WAL has one writer).
func ReadAll(dir string) ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "wal_*.log"))
	if err != nil {
		return nil, err
	}
	segmentsInOrder := make([]string, len(matches))
	copy(segmentsInOrder, matches)
	sortSegments(segmentsInOrder)

	var all []Entry
	for _, path := range segmentsInOrder {
		entries, err := ReadSegment(path)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

func sortSegments(paths []string) {
	for i := 1; i < len(paths); i++ {
		for j := i; j > 0 && paths[j] < paths[j-1]; j-- {
			paths[j], paths[j-1] = paths[j-1], paths[j]
		}
	}
}

// Replay reads every entry in dir in order and invokes apply for every
// operation entry (insert/update/delete/relate/unrelate), skipping
// checkpoint markers. Callers should call SetRecovering(true) on the
// live WAL before replay and false after, so replayed operations are
// not re-appended to the log they were read from.
func Replay(dir string, apply func(Entry) error) error {
	entries, err := ReadAll(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Type == EntryCheckpoint {
			continue
		}
		if err := apply(e); err != nil {
			return fmt.Errorf("wal: replay lsn %d (%s): %w", e.LSN, e.Type, err)
		}
	}
	return nil
}

// PendingAt reduces entries to the ones a crash left unresolved: for
// each LSN, only its last record matters (a "pending" line followed by
// that LSN's "completed"/"failed" line means the operation finished),
// and only LSNs whose last record is still "pending" (or predates this
// field and carries no status at all) are returned, in LSN order.
// AutoRecover replays exactly this set into the index and overlay;
// everything else was already reflected, one way or another, before
// the crash.
func PendingAt(entries []Entry) []Entry {
	last := make(map[uint64]Entry)
	for _, e := range entries {
		if e.Type == EntryCheckpoint {
			continue
		}
		last[e.LSN] = e
	}

	out := make([]Entry, 0, len(last))
	for _, e := range last {
		if e.Status == StatusPending || e.Status == "" {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LSN < out[j].LSN })
	return out
}
