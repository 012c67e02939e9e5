// Package config defines the graph database's configuration surface:
// the hnsw, storage, cache, wal, and batching option groups, loadable
// from YAML, with path-traversal guards protecting the filesystem
// storage adapter's data directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// HNSWConfig mirrors internal/hnsw.Config's tunables for YAML loading.
type HNSWConfig struct {
	M                           int              `yaml:"m"`
	EfConstruction              int              `yaml:"ef_construction"`
	EfSearch                    int              `yaml:"ef_search"`
	MLMax                       int              `yaml:"ml_max"`
	Quantization                QuantConfig      `yaml:"quantization"`
	VectorStorage               string           `yaml:"vector_storage"`
	PersistMode                 string           `yaml:"persist_mode"`
	MaxConcurrentNeighborWrites int              `yaml:"max_concurrent_neighbor_writes"`
}

// QuantConfig mirrors internal/hnsw.QuantConfig.
type QuantConfig struct {
	Enabled          bool `yaml:"enabled"`
	RerankMultiplier int  `yaml:"rerank_multiplier"`
}

// StorageConfig selects and configures the storage adapter backend.
type StorageConfig struct {
	Type       string `yaml:"type"` // "memory" | "filesystem" | "gcs"
	DataDir    string `yaml:"data_dir"`
	Bucket     string `yaml:"bucket"`
	Prefix     string `yaml:"prefix"`
	OpTimeout  time.Duration `yaml:"op_timeout"`
	ScanTimeout time.Duration `yaml:"scan_timeout"`
}

// CacheConfig controls the process-wide unified cache.
type CacheConfig struct {
	MaxSizeBytes   int64         `yaml:"max_size_bytes"`
	HotCacheMaxSize int64        `yaml:"hot_cache_max_size"`
	WarmCacheTTL   time.Duration `yaml:"warm_cache_ttl"`
}

// WALConfig controls the write-ahead log.
type WALConfig struct {
	Enabled            bool          `yaml:"enabled"`
	ImmediateWrites    bool          `yaml:"immediate_writes"`
	Dir                string        `yaml:"dir"`
	MaxSize            int64         `yaml:"max_size"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	AutoRecover        bool          `yaml:"auto_recover"`
	MaxRetries         int           `yaml:"max_retries"`
}

// BatchingConfig controls the adaptive batching layer.
type BatchingConfig struct {
	Enabled           bool          `yaml:"enabled"`
	AdaptiveMode      bool          `yaml:"adaptive_mode"`
	ImmediateThreshold int          `yaml:"immediate_threshold"`
	BatchThreshold    int           `yaml:"batch_threshold"`
	MaxBatchSize      int           `yaml:"max_batch_size"`
	MaxWaitTime       time.Duration `yaml:"max_wait_time"`
	PriorityLanes     int           `yaml:"priority_lanes"`
	MemoryLimit       int64         `yaml:"memory_limit"`
}

// Config is the top-level configuration for one graph database
// instance, covering every option group spec §6 names.
type Config struct {
	HNSW     HNSWConfig     `yaml:"hnsw"`
	Storage  StorageConfig  `yaml:"storage"`
	Cache    CacheConfig    `yaml:"cache"`
	WAL      WALConfig      `yaml:"wal"`
	Batching BatchingConfig `yaml:"batching"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig mirrors internal/logging.Config for YAML loading.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// DefaultConfig returns this package's default configuration.
func DefaultConfig() Config {
	return Config{
		HNSW: HNSWConfig{
			M:                           16,
			EfConstruction:              200,
			EfSearch:                    50,
			MLMax:                       16,
			Quantization:                QuantConfig{Enabled: false, RerankMultiplier: 3},
			VectorStorage:               "memory",
			PersistMode:                 "immediate",
			MaxConcurrentNeighborWrites: 8,
		},
		Storage: StorageConfig{
			Type:        "memory",
			DataDir:     "./data",
			OpTimeout:   30 * time.Second,
			ScanTimeout: 120 * time.Second,
		},
		Cache: CacheConfig{
			MaxSizeBytes: 256 << 20,
		},
		WAL: WALConfig{
			Enabled:            true,
			ImmediateWrites:    true,
			Dir:                "./data/wal",
			MaxSize:            10 << 20,
			CheckpointInterval: 60 * time.Second,
			AutoRecover:        true,
			MaxRetries:         3,
		},
		Batching: BatchingConfig{
			Enabled:            true,
			AdaptiveMode:       true,
			ImmediateThreshold: 1,
			BatchThreshold:     5,
			MaxBatchSize:       1000,
			MaxWaitTime:        100 * time.Millisecond,
			PriorityLanes:      3,
			MemoryLimit:        100 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// LoadConfig reads and parses a YAML configuration file, layering it
// over DefaultConfig so a partial file only overrides what it sets.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Storage.DataDir != "" {
		sanitized, err := SanitizeDataDir(cfg.Storage.DataDir)
		if err != nil {
			return Config{}, fmt.Errorf("config: data_dir: %w", err)
		}
		cfg.Storage.DataDir = sanitized
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML, creating parent directories
// as needed.
func SaveConfig(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// dangerousRoots are paths SanitizeDataDir refuses to accept as a data
// directory, since the filesystem storage adapter will create and
// delete files underneath it.
var dangerousRoots = []string{"/", "/etc", "/bin", "/usr", "/root", "/sys", "/proc", "/boot"}

// SanitizeDataDir cleans dir to an absolute path (resolving any ".."
// components) and rejects it if that path is one of dangerousRoots,
// applied here to the storage adapter's data directory.
func SanitizeDataDir(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("config: empty data directory")
	}
	clean := filepath.Clean(dir)
	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("config: resolve data directory: %w", err)
	}
	for _, root := range dangerousRoots {
		if abs == root {
			return "", fmt.Errorf("config: refusing to use system path %q as data directory", abs)
		}
	}
	return abs, nil
}

// ValidatePath resolves target relative to base and confirms it does
// not escape base via symlinks or ".." components, guarding storage
// adapter paths derived from caller-controlled entity IDs against
// path traversal.
func ValidatePath(base, target string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("config: resolve base path: %w", err)
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("config: resolve target path: %w", err)
	}

	resolvedBase, err := filepath.EvalSymlinks(absBase)
	if err != nil {
		resolvedBase = absBase
	}
	resolvedTarget, err := filepath.EvalSymlinks(absTarget)
	if err != nil {
		resolvedTarget = absTarget
	}

	if resolvedTarget != resolvedBase && !strings.HasPrefix(resolvedTarget, resolvedBase+string(filepath.Separator)) {
		return "", fmt.Errorf("config: path %q escapes base %q", target, base)
	}
	return resolvedTarget, nil
}
