// Package ingest runs one end-to-end ingestion: fetch every feed, extract articles, embed them,
// fill the vector index, save the snapshot, and publish the readiness marker.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/newsrag/internal/embedding"
	"github.com/hyperjump/newsrag/internal/extract"
	"github.com/hyperjump/newsrag/internal/feed"
	"github.com/hyperjump/newsrag/internal/models"
	"github.com/hyperjump/newsrag/internal/readiness"
	"github.com/hyperjump/newsrag/internal/vector"
	"github.com/hyperjump/newsrag/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Embedding modes.
const (
	ModeAuto       = "auto"
	ModeBatched    = "batched"
	ModeSequential = "sequential"

	DefaultBatchSize = 32
)

var (
	// ErrNoRecords is returned when a run ends with nothing to index. The previous snapshot and
	// marker are left untouched.
	ErrNoRecords = errors.New("no records produced")
	// ErrInterrupted is returned when the run's context ends before the index is complete.
	// Nothing is persisted and the marker is not published.
	ErrInterrupted = errors.New("ingestion interrupted")
)

// Config holds the run's inputs and outputs.
type Config struct {
	SourcesPath   string
	InlineSources map[string]string
	SnapshotPath  string
	MarkerPath    string

	Extract extract.Config
	Feed    feed.Config

	Mode      string
	BatchSize int
	Workers   int
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeAuto
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Feed.AbstractPatterns == nil {
		c.Feed.AbstractPatterns = c.Extract.AbstractPatterns
	}
	if c.Feed.UserAgent == "" {
		c.Feed.UserAgent = c.Extract.UserAgent
	}
}

// Ledger stores run summaries.
type Ledger interface {
	RecordRun(ctx context.Context, run *models.RunStats) error
}

// Orchestrator owns the index for the duration of a run; nothing else writes to it.
type Orchestrator struct {
	cfg      Config
	embedder embedding.Embedder
	index    *vector.Index
	client   *http.Client
	limiter  *extract.HostLimiter
	ledger   Ledger
	logger   *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = utils.OrNop(l) }
}

// WithLedger records every run in l.
func WithLedger(l Ledger) Option {
	return func(o *Orchestrator) { o.ledger = l }
}

// WithHTTPClient sets the client used for feeds and article pages.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.client = c
		}
	}
}

// WithHostLimiter throttles article fetches per host.
func WithHostLimiter(l *extract.HostLimiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

// NewOrchestrator creates an orchestrator that fills index using embedder.
func NewOrchestrator(cfg Config, embedder embedding.Embedder, index *vector.Index, opts ...Option) (*Orchestrator, error) {
	if embedder == nil || index == nil {
		return nil, fmt.Errorf("embedder and index are required")
	}
	if embedder.Dimensions() != index.Dimensions() {
		return nil, fmt.Errorf("%w: embedder produces %d, index expects %d",
			vector.ErrDimensionMismatch, embedder.Dimensions(), index.Dimensions())
	}
	cfg.applyDefaults()
	switch cfg.Mode {
	case ModeAuto, ModeBatched, ModeSequential:
	default:
		return nil, fmt.Errorf("unknown embedding mode %q", cfg.Mode)
	}
	o := &Orchestrator{
		cfg:      cfg,
		embedder: embedder,
		index:    index,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.client == nil {
		o.client = extract.NewHTTPClient(0)
	}
	return o, nil
}

// Index returns the index the orchestrator fills.
func (o *Orchestrator) Index() *vector.Index {
	return o.index
}

// Batched reports whether the run will embed in fixed-size batches.
func (o *Orchestrator) Batched() bool {
	switch o.cfg.Mode {
	case ModeBatched:
		return true
	case ModeSequential:
		return false
	default:
		return embedding.IsAccelerated(o.embedder)
	}
}

// Run performs a full ingestion. The index is reset first, so its final content depends only on
// what this run extracted. A run that yields no records, is interrupted by ctx, or whose
// snapshot or marker cannot be written, returns an error and the marker is not published.
func (o *Orchestrator) Run(ctx context.Context) (*vector.Index, *models.RunStats, error) {
	stats := &models.RunStats{ID: uuid.New().String(), StartedAt: time.Now()}
	err := o.run(ctx, stats)
	stats.FinishedAt = time.Now()
	if err != nil {
		stats.Status = models.RunFailed
		stats.Error = err.Error()
	} else {
		stats.Status = models.RunSucceeded
	}
	o.record(stats)
	return o.index, stats, err
}

func (o *Orchestrator) run(ctx context.Context, stats *models.RunStats) error {
	o.index.Reset()

	sources, err := o.sources()
	if err != nil {
		return err
	}
	stats.Feeds = len(sources)

	extractor := extract.NewExtractor(o.cfg.Extract,
		extract.WithHTTPClient(o.client),
		extract.WithHostLimiter(o.limiter),
		extract.WithLogger(o.logger),
	)
	fetcher := feed.NewFetcher(o.cfg.Feed, extractor,
		feed.WithHTTPClient(o.client),
		feed.WithTally(extractor.Tally()),
		feed.WithLogger(o.logger),
	)

	extractStart := time.Now()
	articles := o.fetchAll(ctx, sources, fetcher, stats)
	stats.ExtractDuration = time.Since(extractStart)
	stats.Articles = len(articles)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w during extraction: %w", ErrInterrupted, err)
	}
	o.logger.Info("extraction of feed content complete",
		zap.Int("articles", len(articles)),
		zap.Duration("elapsed", stats.ExtractDuration),
	)

	embedStart := time.Now()
	byGroup := o.embed(ctx, articles)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w during embedding: %w", ErrInterrupted, err)
	}
	for _, group := range sources.Names() {
		recs := byGroup[group]
		if len(recs) == 0 {
			continue
		}
		if err := o.index.Add(group, recs); err != nil {
			o.logger.Warn("failed to add records", zap.String("feed", group), zap.Error(err))
			continue
		}
		o.logger.Info("stored records", zap.String("feed", group), zap.Int("records", len(recs)))
	}
	stats.EmbedDuration = time.Since(embedStart)
	stats.Records = o.index.Size()

	tally := extractor.Tally().Snapshot()
	stats.Duplicates = tally.Duplicates
	stats.TooLong = tally.TooLong
	stats.Rejected = tally.Rejected
	stats.Failed = tally.Failed

	o.logger.Info("embedding complete",
		zap.Int("records", stats.Records),
		zap.Duration("elapsed", stats.EmbedDuration),
	)
	o.logger.Info("ingestion finished",
		zap.Duration("total", stats.ExtractDuration+stats.EmbedDuration),
		zap.Int64("skipped_too_long", tally.TooLong),
		zap.Int64("skipped_duplicates", tally.Duplicates),
		zap.Int("unique_titles", extractor.Dedup().Len()),
	)

	if stats.Records == 0 {
		return ErrNoRecords
	}
	if err := o.index.Save(o.cfg.SnapshotPath); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := readiness.Publish(o.cfg.MarkerPath); err != nil {
		return fmt.Errorf("publish ready marker: %w", err)
	}
	return nil
}

func (o *Orchestrator) sources() (feed.Sources, error) {
	src := feed.Sources{}
	if o.cfg.SourcesPath != "" {
		loaded, err := feed.LoadSources(o.cfg.SourcesPath)
		if err != nil {
			if len(o.cfg.InlineSources) == 0 {
				return nil, fmt.Errorf("load sources: %w", err)
			}
			o.logger.Warn("source list unreadable, using inline sources only", zap.Error(err))
		} else {
			src = loaded
		}
	}
	src = src.Merge(o.cfg.InlineSources)
	if len(src) == 0 {
		return nil, fmt.Errorf("load sources: no feeds configured")
	}
	return src, nil
}

// fetchAll runs every feed concurrently and returns their articles ordered by group name, then
// feed order.
func (o *Orchestrator) fetchAll(ctx context.Context, sources feed.Sources, fetcher *feed.Fetcher, stats *models.RunStats) []*models.Article {
	names := sources.Names()
	perFeed := make([][]*models.Article, len(names))

	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("feed extraction panicked", zap.String("feed", name), zap.Any("panic", r))
				}
			}()
			perFeed[i] = fetcher.Fetch(ctx, name, sources[name])
			return nil
		})
	}
	_ = g.Wait()

	var all []*models.Article
	for i, arts := range perFeed {
		if len(arts) == 0 {
			stats.FeedsEmpty++
			o.logger.Warn("no articles extracted", zap.String("feed", names[i]))
			continue
		}
		all = append(all, arts...)
	}
	return all
}

// embed returns records grouped by feed, each group in article order. Articles whose embedding
// fails are dropped.
func (o *Orchestrator) embed(ctx context.Context, articles []*models.Article) map[string][]*models.Record {
	recs := make([]*models.Record, len(articles))
	if len(articles) > 0 {
		if o.Batched() {
			o.logger.Info("embedding in batches", zap.Int("articles", len(articles)), zap.Int("batch_size", o.cfg.BatchSize))
			o.embedBatched(ctx, articles, recs)
		} else {
			o.logger.Info("embedding one article at a time", zap.Int("articles", len(articles)), zap.Int("workers", o.cfg.Workers))
			o.embedSequential(ctx, articles, recs)
		}
	}
	byGroup := make(map[string][]*models.Record)
	for _, r := range recs {
		if r != nil {
			byGroup[r.Group] = append(byGroup[r.Group], r)
		}
	}
	return byGroup
}

func (o *Orchestrator) embedBatched(ctx context.Context, articles []*models.Article, recs []*models.Record) {
	texts := make([]string, len(articles))
	for i, a := range articles {
		texts[i] = a.CombinedText()
	}
	for start := 0; start < len(texts); start += o.cfg.BatchSize {
		end := min(start+o.cfg.BatchSize, len(texts))
		vecs, err := o.embedder.EmbedBatch(ctx, texts[start:end])
		if err == nil && len(vecs) != end-start {
			err = fmt.Errorf("got %d vectors for %d texts", len(vecs), end-start)
		}
		if err != nil {
			o.logger.Error("embedding batch failed", zap.Int("offset", start), zap.Int("size", end-start), zap.Error(err))
			continue
		}
		for j, vec := range vecs {
			recs[start+j] = o.newRecord(articles[start+j], texts[start+j], vec)
		}
	}
}

func (o *Orchestrator) embedSequential(ctx context.Context, articles []*models.Article, recs []*models.Record) {
	var (
		g     errgroup.Group
		mu    sync.Mutex
		fails int
	)
	g.SetLimit(o.cfg.Workers)
	for i, a := range articles {
		i, a := i, a
		g.Go(func() error {
			text := a.CombinedText()
			vec, err := o.embedder.Embed(ctx, text)
			if err != nil {
				o.logger.Debug("failed to embed article", zap.String("url", a.URL), zap.Error(err))
				mu.Lock()
				fails++
				mu.Unlock()
				return nil
			}
			recs[i] = o.newRecord(a, text, vec)
			return nil
		})
	}
	_ = g.Wait()
	if fails > 0 {
		o.logger.Warn("some articles could not be embedded", zap.Int("failed", fails))
	}
}

func (o *Orchestrator) newRecord(a *models.Article, text string, vec []float32) *models.Record {
	if len(vec) != o.index.Dimensions() {
		o.logger.Warn("dropping embedding with wrong dimension",
			zap.String("url", a.URL), zap.Int("got", len(vec)), zap.Int("want", o.index.Dimensions()))
		return nil
	}
	if vector.L2Norm(vec) == 0 {
		o.logger.Warn("dropping zero embedding", zap.String("url", a.URL))
		return nil
	}
	emb := append([]float32(nil), vec...)
	utils.NormalizeL2(emb)
	return &models.Record{
		ID:        uuid.New().String(),
		Group:     a.Group,
		URL:       a.URL,
		Title:     a.Title,
		Text:      text,
		Embedding: emb,
	}
}

func (o *Orchestrator) record(stats *models.RunStats) {
	if o.ledger == nil {
		return
	}
	// the run's own context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.ledger.RecordRun(ctx, stats); err != nil {
		o.logger.Warn("failed to record run", zap.String("run_id", stats.ID), zap.Error(err))
	}
}
