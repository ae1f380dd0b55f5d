// Package vector provides the in-memory vector index with brute-force cosine search and snapshot persistence.
package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hyperjump/newsrag/internal/models"
	"go.uber.org/zap"
)

const (
	// DefaultTopK is the maximum number of records a query returns.
	DefaultTopK = 5
	// DefaultMinSimilarity is the score below which records are never returned.
	DefaultMinSimilarity = 0.3
)

var (
	// ErrDimensionMismatch is returned when a vector does not have the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrInvalidRecord is returned when a record lacks text or an embedding.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrNoSnapshotPath is returned by Save when no path is given.
	ErrNoSnapshotPath = errors.New("snapshot path is empty")
)

// Index stores embedded records keyed by group and answers top-k similarity queries.
// Stored records are never mutated; Query returns copies that carry the score.
type Index struct {
	dimensions    int
	topK          int
	minSimilarity float64
	logger        *zap.Logger

	mu     sync.RWMutex
	groups map[string][]*models.Record
}

// Option configures an Index.
type Option func(*Index)

// WithTopK sets the maximum number of results per query.
func WithTopK(k int) Option {
	return func(x *Index) {
		if k > 0 {
			x.topK = k
		}
	}
}

// WithMinSimilarity sets the similarity threshold.
func WithMinSimilarity(s float64) Option {
	return func(x *Index) { x.minSimilarity = s }
}

// WithLogger sets a logger for save/load diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(x *Index) {
		if l != nil {
			x.logger = l
		}
	}
}

// NewIndex creates an empty index for vectors of the given dimension.
func NewIndex(dimensions int, opts ...Option) (*Index, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	x := &Index{
		dimensions:    dimensions,
		topK:          DefaultTopK,
		minSimilarity: DefaultMinSimilarity,
		logger:        zap.NewNop(),
		groups:        make(map[string][]*models.Record),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

// Dimensions returns the vector dimension of the index.
func (x *Index) Dimensions() int {
	return x.dimensions
}

// TopK returns the configured result cap.
func (x *Index) TopK() int {
	return x.topK
}

// MinSimilarity returns the configured threshold.
func (x *Index) MinSimilarity() float64 {
	return x.minSimilarity
}

// Add appends records to group, creating the group on first insert. Records are validated
// up front so a bad record leaves the group untouched.
func (x *Index) Add(group string, records []*models.Record) error {
	for _, r := range records {
		if err := x.validate(r); err != nil {
			return err
		}
	}
	stored := make([]*models.Record, len(records))
	for i, r := range records {
		stored[i] = detach(r)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.groups[group] = append(x.groups[group], stored...)
	return nil
}

// detach copies r together with its embedding so later changes on either side stay separate.
func detach(r *models.Record) *models.Record {
	c := r.Clone()
	c.Embedding = append([]float32(nil), r.Embedding...)
	return c
}

func (x *Index) validate(r *models.Record) error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: record %s has empty text", ErrInvalidRecord, r.ID)
	}
	if len(r.Embedding) != x.dimensions {
		return fmt.Errorf("%w: record %s has %d, index expects %d", ErrDimensionMismatch, r.ID, len(r.Embedding), x.dimensions)
	}
	return nil
}

// Query scans every record across all groups and returns up to topK copies ordered by
// descending similarity. Collection stops at the first score below the threshold, so an
// irrelevant query gets an empty result rather than a short one. Ties keep scan order.
func (x *Index) Query(ctx context.Context, query []float32) ([]*models.Record, error) {
	if len(query) != x.dimensions {
		return nil, fmt.Errorf("%w: query has %d, index expects %d", ErrDimensionMismatch, len(query), x.dimensions)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	type scored struct {
		rec   *models.Record
		score float64
	}
	var scores []scored
	for _, name := range x.groupNamesLocked() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, rec := range x.groups[name] {
			scores = append(scores, scored{rec: rec, score: CosineSimilarity(query, rec.Embedding)})
		}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	results := make([]*models.Record, 0, min(x.topK, len(scores)))
	for _, s := range scores {
		if len(results) == x.topK || s.score < x.minSimilarity {
			break
		}
		c := s.rec.Clone()
		c.SimilarityScore = s.score
		results = append(results, c)
	}
	return results, nil
}

// Reset drops every group.
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.groups = make(map[string][]*models.Record)
}

// Size returns the total number of records.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.sizeLocked()
}

// GroupSize returns the number of records stored for group.
func (x *Index) GroupSize(group string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.groups[group])
}

// Groups returns the group names in sorted order.
func (x *Index) Groups() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.groupNamesLocked()
}

// Records returns copies of the records stored for group, in insertion order.
func (x *Index) Records(group string) []*models.Record {
	x.mu.RLock()
	defer x.mu.RUnlock()
	stored := x.groups[group]
	if len(stored) == 0 {
		return nil
	}
	out := make([]*models.Record, len(stored))
	for i, r := range stored {
		out[i] = detach(r)
	}
	return out
}

func (x *Index) groupNamesLocked() []string {
	names := make([]string, 0, len(x.groups))
	for name := range x.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
