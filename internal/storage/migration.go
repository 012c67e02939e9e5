package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// legacyShardedDirs are the four record trees that used to be sharded
// two levels deep (nouns/ab/cd/uuid.json) before the layout settled on
// single-level sharding (nouns/ab/uuid.json, spec §4.5).
var legacyShardedDirs = []string{
	filepath.Join("entities", "nouns", "vectors"),
	filepath.Join("entities", "nouns", "metadata"),
	filepath.Join("entities", "verbs", "vectors"),
	filepath.Join("entities", "verbs", "metadata"),
}

// migrateLegacyLayout detects a pre-existing depth-2 shard layout under
// each of legacyShardedDirs and flattens it to depth 1 in place: every
// file nested two directories deep is renamed up to its depth-1 shard
// directory (which already carries the correct name, since depth-1 and
// depth-2 shards both key off the ID's first two hex characters), and
// the emptied depth-2 directories are removed. Runs under the same
// exclusive lock file scheme as statistics updates so two adapters
// opening the same root concurrently don't race the migration.
func (f *Filesystem) migrateLegacyLayout() error {
	needsWork, err := f.hasLegacyLayout()
	if err != nil {
		return err
	}
	if !needsWork {
		return nil
	}

	lockPath := f.path("locks", "migration.lock")
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return err
	}
	lock, err := acquireFileLock(lockPath)
	if err != nil {
		return fmt.Errorf("storage: acquire migration lock: %w", err)
	}
	defer lock.release()

	for _, rel := range legacyShardedDirs {
		if err := f.flattenShardTree(f.path(rel)); err != nil {
			return fmt.Errorf("storage: migrate %s: %w", rel, err)
		}
	}
	return nil
}

// hasLegacyLayout reports whether any of legacyShardedDirs contains a
// directory nested under a shard directory, the signature of the old
// two-level layout.
func (f *Filesystem) hasLegacyLayout() (bool, error) {
	for _, rel := range legacyShardedDirs {
		base := f.path(rel)
		shards, err := os.ReadDir(base)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return false, err
		}
		for _, shard := range shards {
			if !shard.IsDir() {
				continue
			}
			entries, err := os.ReadDir(filepath.Join(base, shard.Name()))
			if err != nil {
				return false, err
			}
			for _, e := range entries {
				if e.IsDir() {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

// flattenShardTree moves every file found two levels under base up to
// its parent shard directory, then removes the emptied nested
// directory. A verification pass at the end confirms no nested
// directories remain.
func (f *Filesystem) flattenShardTree(base string) error {
	shards, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var moved int
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardDir := filepath.Join(base, shard.Name())
		entries, err := os.ReadDir(shardDir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			nestedDir := filepath.Join(shardDir, e.Name())
			files, err := os.ReadDir(nestedDir)
			if err != nil {
				return err
			}
			for _, file := range files {
				if file.IsDir() {
					continue
				}
				src := filepath.Join(nestedDir, file.Name())
				dst := filepath.Join(shardDir, file.Name())
				if err := os.Rename(src, dst); err != nil {
					return fmt.Errorf("rename %s -> %s: %w", src, dst, err)
				}
				moved++
			}
			if err := os.Remove(nestedDir); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove emptied dir %s: %w", nestedDir, err)
			}
		}
	}

	// Verification pass: no directory should remain nested under a
	// shard directory once migration completes.
	shards, err = os.ReadDir(base)
	if err != nil {
		return err
	}
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(base, shard.Name()))
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir() {
				return fmt.Errorf("verification failed: %s still nested under shard %s", e.Name(), shard.Name())
			}
		}
	}
	return nil
}

// fileLock is a minimal exclusive lock built on O_EXCL file creation,
// mirroring withStatsLock's scheme but held for the duration of a
// single migration pass rather than one write.
type fileLock struct {
	path string
}

func acquireFileLock(path string) (*fileLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	file.Close()
	return &fileLock{path: path}, nil
}

func (l *fileLock) release() {
	os.Remove(l.path)
}
