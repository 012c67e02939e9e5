package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nvgraph/nvgraph/internal/types"
)

// Filesystem implements Adapter over a local directory tree, using the
// bit-exact key layout from §4.5 with single-level hex sharding.
type Filesystem struct {
	root string

	mu    sync.Mutex // serializes directory-listing pagination
}

// NewFilesystem creates a Filesystem adapter rooted at dir, creating it
// if necessary.
func NewFilesystem(dir string) (*Filesystem, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	f := &Filesystem{root: abs}
	if err := f.migrateLegacyLayout(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Filesystem) path(parts ...string) string {
	clean := make([]string, 0, len(parts)+1)
	clean = append(clean, f.root)
	clean = append(clean, parts...)
	return filepath.Join(clean...)
}

func nounVectorPath(f *Filesystem, id string) string {
	return f.path("entities", "nouns", "vectors", types.ShardOf(id), id+".json")
}
func nounMetaPath(f *Filesystem, id string) string {
	return f.path("entities", "nouns", "metadata", types.ShardOf(id), id+".json")
}
func verbVectorPath(f *Filesystem, id string) string {
	return f.path("entities", "verbs", "vectors", types.ShardOf(id), id+".json")
}
func verbMetaPath(f *Filesystem, id string) string {
	return f.path("entities", "verbs", "metadata", types.ShardOf(id), id+".json")
}

// writeJSONAtomic writes v to path by writing a temp file in the same
// directory and renaming it into place, so a concurrent reader never
// observes a partially written file.
func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (f *Filesystem) SaveNounVector(_ context.Context, rec NounVectorRecord) error {
	return writeJSONAtomic(nounVectorPath(f, rec.ID), rec)
}

func (f *Filesystem) GetNounVector(_ context.Context, id string) (NounVectorRecord, bool, error) {
	var rec NounVectorRecord
	ok, err := readJSON(nounVectorPath(f, id), &rec)
	return rec, ok, err
}

func (f *Filesystem) DeleteNoun(_ context.Context, id string) error {
	if err := removeIfExists(nounVectorPath(f, id)); err != nil {
		return err
	}
	return removeIfExists(nounMetaPath(f, id))
}

func (f *Filesystem) SaveNounMetadata(_ context.Context, rec NounMetadataRecord) error {
	return writeJSONAtomic(nounMetaPath(f, rec.ID), rec)
}

func (f *Filesystem) GetNounMetadata(_ context.Context, id string) (NounMetadataRecord, bool, error) {
	var rec NounMetadataRecord
	ok, err := readJSON(nounMetaPath(f, id), &rec)
	return rec, ok, err
}

// GetMetadataBatch reads ids in chunks of 10 with controlled
// concurrency, per §4.5's filesystem batch-read contract.
func (f *Filesystem) GetMetadataBatch(ctx context.Context, ids []string) (map[string]NounMetadataRecord, error) {
	const chunkSize = 10
	out := make(map[string]NounMetadataRecord, len(ids))
	var mu sync.Mutex

	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		var wg sync.WaitGroup
		for _, id := range chunk {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				rec, ok, err := f.GetNounMetadata(ctx, id)
				if err != nil || !ok {
					return
				}
				mu.Lock()
				out[id] = rec
				mu.Unlock()
			}(id)
		}
		wg.Wait()
	}
	return out, nil
}

func (f *Filesystem) SaveVerbVector(_ context.Context, rec VerbVectorRecord) error {
	return writeJSONAtomic(verbVectorPath(f, rec.ID), rec)
}

func (f *Filesystem) GetVerbVector(_ context.Context, id string) (VerbVectorRecord, bool, error) {
	var rec VerbVectorRecord
	ok, err := readJSON(verbVectorPath(f, id), &rec)
	return rec, ok, err
}

func (f *Filesystem) SaveVerbMetadata(_ context.Context, rec VerbMetadataRecord) error {
	return writeJSONAtomic(verbMetaPath(f, rec.ID), rec)
}

func (f *Filesystem) GetVerbMetadata(_ context.Context, id string) (VerbMetadataRecord, bool, error) {
	var rec VerbMetadataRecord
	ok, err := readJSON(verbMetaPath(f, id), &rec)
	return rec, ok, err
}

func (f *Filesystem) DeleteVerb(_ context.Context, id string) error {
	if err := removeIfExists(verbVectorPath(f, id)); err != nil {
		return err
	}
	return removeIfExists(verbMetaPath(f, id))
}

func (f *Filesystem) SaveHNSWSystem(_ context.Context, rec HNSWSystemRecord) error {
	return writeJSONAtomic(f.path("system", "hnsw-system.json"), rec)
}

func (f *Filesystem) GetHNSWSystem(_ context.Context) (HNSWSystemRecord, bool, error) {
	var rec HNSWSystemRecord
	ok, err := readJSON(f.path("system", "hnsw-system.json"), &rec)
	return rec, ok, err
}

func (f *Filesystem) SaveStatistics(_ context.Context, rec StatisticsRecord) error {
	return writeJSONAtomic(f.path("system", "statistics.json"), rec)
}

func (f *Filesystem) GetStatistics(_ context.Context) (StatisticsRecord, bool, error) {
	var rec StatisticsRecord
	ok, err := readJSON(f.path("system", "statistics.json"), &rec)
	return rec, ok, err
}

func (f *Filesystem) SaveCounts(_ context.Context, rec CountsRecord) error {
	return f.withStatsLock(func() error {
		return writeJSONAtomic(f.path("system", "counts.json"), rec)
	})
}

func (f *Filesystem) GetCounts(_ context.Context) (CountsRecord, bool, error) {
	var rec CountsRecord
	ok, err := readJSON(f.path("system", "counts.json"), &rec)
	return rec, ok, err
}

// lockRecord is the persisted shape of a locks/<key>.lock file.
type lockRecord struct {
	LockValue string    `json:"lockValue"`
	PID       int       `json:"pid"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// withStatsLock takes the filesystem-backed exclusive lock used for
// statistics updates (§4.5 "Locking"), reclaiming it if stale.
func (f *Filesystem) withStatsLock(fn func() error) error {
	lockPath := f.path("locks", "statistics.lock")
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return err
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec := lockRecord{LockValue: strconv.FormatInt(time.Now().UnixNano(), 36), PID: os.Getpid(), ExpiresAt: time.Now().Add(10 * time.Second)}
		data, _ := json.Marshal(rec)
		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := file.Write(data)
			file.Close()
			if werr != nil {
				os.Remove(lockPath)
				return werr
			}
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return err
		}
		if f.reclaimIfStale(lockPath) {
			continue
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("storage: statistics lock held past deadline")
		}
		time.Sleep(20 * time.Millisecond)
	}
	defer os.Remove(lockPath)
	return fn()
}

func (f *Filesystem) reclaimIfStale(lockPath string) bool {
	var rec lockRecord
	ok, err := readJSON(lockPath, &rec)
	if err != nil || !ok {
		return false
	}
	if time.Now().After(rec.ExpiresAt) {
		os.Remove(lockPath)
		return true
	}
	return false
}

func (f *Filesystem) GetNounsWithPagination(ctx context.Context, p PaginationParams) (PaginationResult[NounMetadataRecord], error) {
	return paginateDir(f, f.path("entities", "nouns", "metadata"), p, func(data []byte) (NounMetadataRecord, error) {
		var rec NounMetadataRecord
		err := json.Unmarshal(data, &rec)
		return rec, err
	}, func(r NounMetadataRecord) types.Metadata { return r.Metadata })
}

func (f *Filesystem) GetVerbsWithPagination(ctx context.Context, p PaginationParams) (PaginationResult[VerbMetadataRecord], error) {
	return paginateDir(f, f.path("entities", "verbs", "metadata"), p, func(data []byte) (VerbMetadataRecord, error) {
		var rec VerbMetadataRecord
		err := json.Unmarshal(data, &rec)
		return rec, err
	}, func(r VerbMetadataRecord) types.Metadata { return r.Metadata })
}

// paginateDir walks every shard directory in order, applying a numeric
// offset cursor across the concatenated, sorted file list. A free
// function rather than a method since Go methods cannot take their own
// type parameters.
func paginateDir[T any](f *Filesystem, baseDir string, p PaginationParams, decode func([]byte) (T, error), metaOf func(T) types.Metadata) (PaginationResult[T], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var allPaths []string
	shards, _ := os.ReadDir(baseDir)
	shardNames := make([]string, 0, len(shards))
	for _, s := range shards {
		if s.IsDir() {
			shardNames = append(shardNames, s.Name())
		}
	}
	sort.Strings(shardNames)
	for _, shard := range shardNames {
		files, _ := os.ReadDir(filepath.Join(baseDir, shard))
		names := make([]string, 0, len(files))
		for _, file := range files {
			if !file.IsDir() {
				names = append(names, file.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			allPaths = append(allPaths, filepath.Join(baseDir, shard, name))
		}
	}

	offset := 0
	if p.Cursor != "" {
		if v, err := strconv.Atoi(p.Cursor); err == nil {
			offset = v
		}
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}

	items := make([]T, 0, limit)
	i := offset
	loaded := 0
	for ; i < len(allPaths) && len(items) < limit; i++ {
		data, err := os.ReadFile(allPaths[i])
		if err != nil {
			continue // skip corrupted/unreadable record rather than fail the whole page
		}
		rec, err := decode(data)
		if err != nil {
			continue
		}
		if p.Filter != nil {
			if !p.Filter("", metaOf(rec)) {
				continue
			}
		}
		items = append(items, rec)
		loaded++
	}

	hasMore := loaded > 0 && i < len(allPaths)
	result := PaginationResult[T]{Items: items, TotalCount: len(allPaths), HasMore: hasMore}
	if hasMore {
		result.NextCursor = strconv.Itoa(i)
	}
	return result, nil
}

func (f *Filesystem) AppendWAL(_ context.Context, sessionID string, line []byte) error {
	path := f.path("wal", sessionID+".wal")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.Write(line)
	return err
}

func (f *Filesystem) ReadWAL(_ context.Context, sessionID string) ([]byte, error) {
	data, err := os.ReadFile(f.path("wal", sessionID+".wal"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

var _ Adapter = (*Filesystem)(nil)
