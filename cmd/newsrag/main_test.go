package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/newsrag/internal/config"
	"github.com/hyperjump/newsrag/internal/embedding"
	"github.com/hyperjump/newsrag/internal/models"
	"github.com/hyperjump/newsrag/internal/readiness"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"interest rates", "-output", "json"},
			expected: []string{"-output", "json", "interest rates"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-output", "json", "interest rates"},
			expected: []string{"-output", "json", "interest rates"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"interest rates"},
			expected: []string{"interest rates"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"launch", "window", "-server", "http://localhost:8080"},
			expected: []string{"-server", "http://localhost:8080", "launch", "window"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"rates"}, "rates"},
		{"multiple words", []string{"interest", "rates"}, "interest rates"},
		{"single quoted phrase", []string{"interest rates"}, "interest rates"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
}

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  port: 9000
storage:
  snapshot_path: "./data/vector_index.bin"
  ready_marker_path: "./data/.ready"
  database_path: "./data/runs.db"
embedding:
  backend: mock
  dimensions: 8
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)
	chdir(t, dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug || cfg.Server.Port != 9000 {
		t.Errorf("cwd config.yaml not used: %+v", cfg)
	}
}

func TestLoadConfig_defaultsWhenNoFile(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, _, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 || cfg.Search.TopK != 5 {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoadConfig_explicitMissingPath(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("an explicit config path that does not exist should fail")
	}
}

func TestNewEmbedder(t *testing.T) {
	logger := zap.NewNop()

	mock := &config.Config{Embedding: config.EmbeddingConfig{Backend: config.BackendMock, Dimensions: 8}}
	e, err := newEmbedder(mock, logger)
	if err != nil || e.Dimensions() != 8 {
		t.Fatalf("mock backend: %v, %v", e, err)
	}

	missingModel := &config.Config{Embedding: config.EmbeddingConfig{
		Backend: config.BackendONNX, ModelPath: filepath.Join(t.TempDir(), "none.onnx"), Dimensions: 8, MaxTokens: 16,
	}}
	e, err = newEmbedder(missingModel, logger)
	if err != nil {
		t.Fatalf("onnx fallback: %v", err)
	}
	if _, ok := e.(*embedding.MockEmbedder); !ok || e.Dimensions() != 8 {
		t.Errorf("missing ONNX model should fall back to the mock embedder, got %T", e)
	}

	unknown := &config.Config{Embedding: config.EmbeddingConfig{Backend: "word2vec", Dimensions: 8}}
	if _, err := newEmbedder(unknown, logger); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestStatusDirectAndReset(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	components, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	vec, _ := components.Embedder.Embed(context.Background(), "rates")
	rec := &models.Record{ID: "1", Group: "econ", Title: "Rates", URL: "https://econ.example/1", Text: "Title: Rates", Embedding: vec}
	if err := components.Index.Add("econ", []*models.Record{rec}); err != nil {
		t.Fatal(err)
	}
	if err := components.Index.Save(cfg.Storage.SnapshotPath); err != nil {
		t.Fatal(err)
	}
	if err := readiness.Publish(cfg.Storage.ReadyMarkerPath); err != nil {
		t.Fatal(err)
	}
	components.Close()
	components.Close()

	status, err := statusDirect(context.Background(), configPath)
	if err != nil {
		t.Fatal(err)
	}
	if !status.Ready || status.Records != 1 || status.Groups["econ"] != 1 {
		t.Errorf("status: %+v", status)
	}
	if status.LastRun != nil {
		t.Errorf("no runs recorded yet, got %+v", status.LastRun)
	}
	if status.DiskUsageBytes <= 0 {
		t.Errorf("disk usage: %d", status.DiskUsageBytes)
	}

	if err := resetData(cfg); err != nil {
		t.Fatal(err)
	}
	if readiness.IsReady(cfg.Storage.ReadyMarkerPath) {
		t.Error("marker should be removed")
	}
	if _, err := os.Stat(cfg.Storage.SnapshotPath); !os.IsNotExist(err) {
		t.Errorf("snapshot should be removed, stat err = %v", err)
	}
	// resetting again is a no-op
	if err := resetData(cfg); err != nil {
		t.Errorf("second reset: %v", err)
	}
}
