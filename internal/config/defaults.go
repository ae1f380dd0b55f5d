package config

import (
	"runtime"

	"github.com/hyperjump/newsrag/internal/embedding"
	"github.com/hyperjump/newsrag/internal/extract"
	"github.com/hyperjump/newsrag/internal/feed"
	"github.com/hyperjump/newsrag/internal/ingest"
	"github.com/hyperjump/newsrag/internal/llm"
	"github.com/hyperjump/newsrag/internal/vector"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.SnapshotPath == "" {
		cfg.Storage.SnapshotPath = "./data/vector_index.bin"
	}
	if cfg.Storage.ReadyMarkerPath == "" {
		cfg.Storage.ReadyMarkerPath = "./data/.ready"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/runs.db"
	}

	if cfg.Embedding.Backend == "" {
		cfg.Embedding.Backend = BackendONNX
	}
	if cfg.Embedding.ModelPath == "" && cfg.Embedding.Backend == BackendONNX {
		cfg.Embedding.ModelPath = "./data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Model == "" && cfg.Embedding.Backend == BackendOpenAI {
		cfg.Embedding.Model = embedding.DefaultOpenAIModel
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = ingest.DefaultBatchSize
	}
	if cfg.Embedding.Workers == 0 {
		cfg.Embedding.Workers = runtime.NumCPU()
	}
	if cfg.Embedding.Mode == "" {
		cfg.Embedding.Mode = ingest.ModeAuto
	}

	if cfg.Feeds.SourcesPath == "" && len(cfg.Feeds.Sources) == 0 {
		cfg.Feeds.SourcesPath = "./feeds.yaml"
	}
	if cfg.Feeds.AbstractPatterns == nil {
		cfg.Feeds.AbstractPatterns = append([]string(nil), extract.DefaultAbstractPatterns...)
	}
	if cfg.Feeds.FeedTimeout == 0 {
		cfg.Feeds.FeedTimeout = feed.DefaultFeedTimeout
	}
	if cfg.Feeds.ArticleTimeout == 0 {
		cfg.Feeds.ArticleTimeout = extract.DefaultArticleTimeout
	}
	if cfg.Feeds.MinContentLength == 0 {
		cfg.Feeds.MinContentLength = extract.DefaultMinContentLength
	}
	if cfg.Feeds.MaxContentLength == 0 {
		cfg.Feeds.MaxContentLength = extract.DefaultMaxContentLength
	}
	if cfg.Feeds.AbstractCapacity == 0 {
		cfg.Feeds.AbstractCapacity = feed.DefaultAbstractCapacity
	}
	if cfg.Feeds.GeneralCapacity == 0 {
		cfg.Feeds.GeneralCapacity = feed.DefaultGeneralCapacity
	}
	if cfg.Feeds.RateLimit == 0 {
		cfg.Feeds.RateLimit = 2
	}
	if cfg.Feeds.RateBurst == 0 {
		cfg.Feeds.RateBurst = 4
	}
	if cfg.Feeds.UserAgent == "" {
		cfg.Feeds.UserAgent = extract.DefaultUserAgent
	}

	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = vector.DefaultTopK
	}
	if cfg.Search.MinSimilarity == nil {
		threshold := vector.DefaultMinSimilarity
		cfg.Search.MinSimilarity = &threshold
	}

	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = llm.DefaultBaseURL
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = llm.DefaultModel
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = llm.DefaultTemperature
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = llm.DefaultTimeout
	}
}
