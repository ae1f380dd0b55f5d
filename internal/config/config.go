// Package config provides configuration loading and structs for newsrag.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/newsrag/internal/extract"
	"github.com/hyperjump/newsrag/internal/feed"
	"github.com/hyperjump/newsrag/internal/ingest"
	"github.com/hyperjump/newsrag/internal/llm"
	"github.com/hyperjump/newsrag/internal/vector"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Feeds     FeedsConfig     `yaml:"feeds"`
	Search    SearchConfig    `yaml:"search"`
	LLM       LLMConfig       `yaml:"llm"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds paths for the snapshot, readiness marker and run ledger.
type StorageConfig struct {
	SnapshotPath    string `yaml:"snapshot_path"`
	ReadyMarkerPath string `yaml:"ready_marker_path"`
	DatabasePath    string `yaml:"database_path"`
}

// Embedding backends.
const (
	BackendONNX   = "onnx"
	BackendOpenAI = "openai"
	BackendMock   = "mock"
)

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	Backend    string `yaml:"backend"`
	ModelPath  string `yaml:"model_path"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
	BatchSize  int    `yaml:"batch_size"`
	Workers    int    `yaml:"workers"`
	Mode       string `yaml:"mode"`
}

// FeedsConfig holds the source list and extraction limits.
type FeedsConfig struct {
	SourcesPath      string            `yaml:"sources_path"`
	Sources          map[string]string `yaml:"sources"`
	AbstractPatterns []string          `yaml:"abstract_patterns"`
	FeedTimeout      time.Duration     `yaml:"feed_timeout"`
	ArticleTimeout   time.Duration     `yaml:"article_timeout"`
	MinContentLength int               `yaml:"min_content_length"`
	MaxContentLength int               `yaml:"max_content_length"`
	AbstractCapacity int               `yaml:"abstract_capacity"`
	GeneralCapacity  int               `yaml:"general_capacity"`
	RateLimit        float64           `yaml:"rate_limit"`
	RateBurst        int               `yaml:"rate_burst"`
	UserAgent        string            `yaml:"user_agent"`
}

// SearchConfig holds retrieval settings.
type SearchConfig struct {
	TopK int `yaml:"top_k"`
	// MinSimilarity is a pointer so an explicit 0 disables the threshold instead of
	// selecting the default.
	MinSimilarity *float64 `yaml:"min_similarity"`
}

// Threshold returns the configured similarity threshold, or the index default when unset.
func (s SearchConfig) Threshold() float64 {
	if s.MinSimilarity == nil {
		return vector.DefaultMinSimilarity
	}
	return *s.MinSimilarity
}

// LLMConfig holds the generative model endpoint.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Load reads and parses the config file at path, applies the environment overlay, expands paths,
// and applies defaults. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	cfg.expandPaths(filepath.Dir(path))

	return &cfg, nil
}

// LoadOrDefault loads path when it exists; otherwise it returns the defaults with the
// environment overlay applied and paths resolved against the working directory.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg Config
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	cfg.expandPaths(wd)
	return &cfg, nil
}

func (c *Config) expandPaths(configDir string) {
	c.Storage.SnapshotPath = expandPath(c.Storage.SnapshotPath, configDir)
	c.Storage.ReadyMarkerPath = expandPath(c.Storage.ReadyMarkerPath, configDir)
	c.Storage.DatabasePath = expandPath(c.Storage.DatabasePath, configDir)
	if c.Embedding.ModelPath != "" {
		c.Embedding.ModelPath = expandPath(c.Embedding.ModelPath, configDir)
	}
	if c.Feeds.SourcesPath != "" {
		c.Feeds.SourcesPath = expandPath(c.Feeds.SourcesPath, configDir)
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

// ExtractConfig returns the content extractor settings.
func (c *Config) ExtractConfig() extract.Config {
	return extract.Config{
		AbstractPatterns: c.Feeds.AbstractPatterns,
		MinLength:        c.Feeds.MinContentLength,
		MaxLength:        c.Feeds.MaxContentLength,
		ArticleTimeout:   c.Feeds.ArticleTimeout,
		UserAgent:        c.Feeds.UserAgent,
	}
}

// FeedConfig returns the feed fetcher settings.
func (c *Config) FeedConfig() feed.Config {
	return feed.Config{
		FeedTimeout:      c.Feeds.FeedTimeout,
		AbstractCapacity: c.Feeds.AbstractCapacity,
		GeneralCapacity:  c.Feeds.GeneralCapacity,
		AbstractPatterns: c.Feeds.AbstractPatterns,
		UserAgent:        c.Feeds.UserAgent,
	}
}

// IngestConfig returns the orchestrator settings.
func (c *Config) IngestConfig() ingest.Config {
	return ingest.Config{
		SourcesPath:   c.Feeds.SourcesPath,
		InlineSources: c.Feeds.Sources,
		SnapshotPath:  c.Storage.SnapshotPath,
		MarkerPath:    c.Storage.ReadyMarkerPath,
		Extract:       c.ExtractConfig(),
		Feed:          c.FeedConfig(),
		Mode:          c.Embedding.Mode,
		BatchSize:     c.Embedding.BatchSize,
		Workers:       c.Embedding.Workers,
	}
}

// LLMClientConfig returns the generative model settings.
func (c *Config) LLMClientConfig() llm.Config {
	return llm.Config{
		BaseURL:     c.LLM.BaseURL,
		APIKey:      c.LLM.APIKey,
		Model:       c.LLM.Model,
		Temperature: c.LLM.Temperature,
		Timeout:     c.LLM.Timeout,
	}
}
