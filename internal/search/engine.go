// Package search answers queries against the current vector index and shapes the results for
// the generative model and for display.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/newsrag/internal/embedding"
	"github.com/hyperjump/newsrag/internal/llm"
	"github.com/hyperjump/newsrag/internal/models"
	"github.com/hyperjump/newsrag/internal/vector"
	"github.com/hyperjump/newsrag/pkg/utils"
	"go.uber.org/zap"
)

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("query is empty")

// Engine embeds queries and searches the index it currently holds. The index can be swapped
// while queries are in flight.
type Engine struct {
	embedder  embedding.Embedder
	generator llm.Generator
	logger    *zap.Logger

	mu       sync.RWMutex
	index    *vector.Index
	loadedAt time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithGenerator sets the model used by Chat.
func WithGenerator(g llm.Generator) EngineOption {
	return func(e *Engine) { e.generator = g }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = utils.OrNop(l) }
}

// NewEngine creates a search engine over index.
func NewEngine(embedder embedding.Embedder, index *vector.Index, opts ...EngineOption) *Engine {
	e := &Engine{
		embedder: embedder,
		index:    index,
		loadedAt: time.Now(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetIndex replaces the index used by subsequent queries.
func (e *Engine) SetIndex(index *vector.Index) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.index = index
	e.loadedAt = time.Now()
}

// Index returns the current index and when it was installed.
func (e *Engine) Index() (*vector.Index, time.Time) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index, e.loadedAt
}

// Reload reads the snapshot at path into a fresh index shaped like the current one and swaps it
// in. On error the current index stays in place.
func (e *Engine) Reload(path string) (*vector.Index, error) {
	current, _ := e.Index()
	if current == nil {
		return nil, fmt.Errorf("no index to reload into")
	}
	next, err := vector.NewIndex(current.Dimensions(),
		vector.WithTopK(current.TopK()),
		vector.WithMinSimilarity(current.MinSimilarity()),
		vector.WithLogger(e.logger),
	)
	if err != nil {
		return nil, err
	}
	if err := next.Load(path); err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	e.SetIndex(next)
	e.logger.Info("index reloaded", zap.String("path", path), zap.Int("records", next.Size()))
	return next, nil
}

// Search embeds query, retrieves the top matches and formats them. When nothing clears the
// similarity threshold the response says so explicitly.
func (e *Engine) Search(ctx context.Context, query string) (*models.SearchResponse, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	index, _ := e.Index()

	var records []*models.Record
	if index != nil && index.Size() > 0 {
		vec, err := e.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embedding failed: %w", err)
		}
		records, err = index.Query(ctx, vec)
		if err != nil {
			return nil, fmt.Errorf("vector search failed: %w", err)
		}
	}

	contexts, groups := Format(records)
	resp := &models.SearchResponse{
		Query:     query,
		Contexts:  contexts,
		Groups:    groups,
		Total:     len(contexts),
		QueryTime: time.Since(start).Milliseconds(),
	}
	if len(contexts) == 0 {
		resp.NoResults = true
		resp.Message = models.NoResultsMessage
	}
	e.logger.Debug("search", zap.String("query", query), zap.Int("results", resp.Total), zap.Int64("ms", resp.QueryTime))
	return resp, nil
}

// Chat runs Search and streams the model's answer over the retrieved contexts. With no matches
// the model gets the bare query.
func (e *Engine) Chat(ctx context.Context, query string) (<-chan string, *models.SearchResponse, error) {
	if e.generator == nil {
		return nil, nil, fmt.Errorf("no language model configured")
	}
	resp, err := e.Search(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	return e.generator.Stream(ctx, resp.Query, resp.Contexts), resp, nil
}
