package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePath(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	tests := []struct {
		name        string
		basePath    string
		targetPath  string
		shouldError bool
	}{
		{"valid path within base", tmpDir, subDir, false},
		{"same as base path", tmpDir, tmpDir, false},
		{"path traversal attempt", subDir, tmpDir, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidatePath(tt.basePath, tt.targetPath)
			if tt.shouldError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.shouldError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSanitizeDataDir(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name        string
		dataDir     string
		shouldError bool
	}{
		{"valid directory", filepath.Join(tmpDir, "data"), false},
		{"dangerous path root", "/", true},
		{"dangerous path etc", "/etc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SanitizeDataDir(tt.dataDir)
			if tt.shouldError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.shouldError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.HNSW.M != 16 {
		t.Errorf("expected M=16, got %d", cfg.HNSW.M)
	}
	if cfg.HNSW.EfConstruction != 200 {
		t.Errorf("expected efConstruction=200, got %d", cfg.HNSW.EfConstruction)
	}
	if cfg.HNSW.Quantization.RerankMultiplier != 3 {
		t.Errorf("expected rerankMultiplier=3, got %d", cfg.HNSW.Quantization.RerankMultiplier)
	}
	if cfg.WAL.MaxSize != 10<<20 {
		t.Errorf("expected wal maxSize=10MiB, got %d", cfg.WAL.MaxSize)
	}
	if cfg.Batching.BatchThreshold != 5 {
		t.Errorf("expected batchThreshold=5, got %d", cfg.Batching.BatchThreshold)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Logging.Level)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	dataDir := filepath.Join(tmpDir, "data")

	content := `
hnsw:
  m: 32
  ef_search: 100
storage:
  type: filesystem
  data_dir: "` + dataDir + `"
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HNSW.M != 32 {
		t.Errorf("expected M=32, got %d", cfg.HNSW.M)
	}
	if cfg.HNSW.EfSearch != 100 {
		t.Errorf("expected efSearch=100, got %d", cfg.HNSW.EfSearch)
	}
	if cfg.HNSW.EfConstruction != 200 {
		t.Errorf("expected untouched default efConstruction=200, got %d", cfg.HNSW.EfConstruction)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoadConfigNotFound(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for non-existent config file")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.HNSW.M = 24

	if err := SaveConfig(cfg, configPath); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	loaded, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.HNSW.M != 24 {
		t.Errorf("expected M=24 after round-trip, got %d", loaded.HNSW.M)
	}
}
