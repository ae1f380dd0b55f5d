// Package feed fetches RSS/Atom feeds and fans their entries out to the extractor.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/newsrag/internal/extract"
	"github.com/hyperjump/newsrag/internal/models"
	"github.com/hyperjump/newsrag/pkg/utils"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultFeedTimeout      = 30 * time.Second
	DefaultAbstractCapacity = 100
	DefaultGeneralCapacity  = 20
)

// Processor turns one feed entry into an article or a rejection.
type Processor interface {
	Process(ctx context.Context, entry *models.Entry, group string) (*models.Article, error)
}

// Config controls feed retrieval and per-feed concurrency.
type Config struct {
	FeedTimeout      time.Duration
	AbstractCapacity int
	GeneralCapacity  int
	AbstractPatterns []string
	UserAgent        string
}

func (c *Config) applyDefaults() {
	if c.FeedTimeout <= 0 {
		c.FeedTimeout = DefaultFeedTimeout
	}
	if c.AbstractCapacity <= 0 {
		c.AbstractCapacity = DefaultAbstractCapacity
	}
	if c.GeneralCapacity <= 0 {
		c.GeneralCapacity = DefaultGeneralCapacity
	}
}

// Capacity returns how many entries of feedURL may be extracted at once.
func (c Config) Capacity(feedURL string, entries int) int {
	capacity := c.GeneralCapacity
	if (extract.Config{AbstractPatterns: c.AbstractPatterns}).IsAbstractSource(feedURL) {
		capacity = c.AbstractCapacity
	}
	return max(1, min(capacity, entries))
}

// Fetcher retrieves one feed at a time and runs its entries through a Processor.
type Fetcher struct {
	cfg       Config
	processor Processor
	client    *http.Client
	tally     *extract.Tally
	logger    *zap.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets the client used for feed requests.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithTally records entries lost to panics in t.
func WithTally(t *extract.Tally) Option {
	return func(f *Fetcher) { f.tally = t }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = utils.OrNop(l) }
}

// NewFetcher returns a Fetcher that hands entries to p.
func NewFetcher(cfg Config, p Processor, opts ...Option) *Fetcher {
	cfg.applyDefaults()
	f := &Fetcher{
		cfg:       cfg,
		processor: p,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = extract.NewHTTPClient(0)
	}
	return f
}

// Fetch downloads and parses feedURL, then extracts its entries concurrently, at most
// Capacity at a time. It never fails: feed-level problems are logged and yield no articles,
// entry-level problems drop only that entry. Articles come back in feed order.
func (f *Fetcher) Fetch(ctx context.Context, group, feedURL string) []*models.Article {
	log := f.logger.With(zap.String("feed", group), zap.String("url", feedURL))

	entries, err := f.entries(ctx, feedURL)
	if err != nil {
		log.Error("failed to fetch feed", zap.Error(err))
		return nil
	}
	if len(entries) == 0 {
		log.Warn("no entries found in feed")
		return nil
	}

	capacity := f.cfg.Capacity(feedURL, len(entries))
	sem := semaphore.NewWeighted(int64(capacity))
	results := make([]*models.Article, len(entries))
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fails int
	)
	for i, entry := range entries {
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Warn("feed extraction cancelled", zap.Error(err))
			break
		}
		wg.Add(1)
		go func(i int, entry *models.Entry) {
			defer wg.Done()
			defer sem.Release(1)
			art, err := f.processEntry(ctx, entry, group)
			if err != nil {
				log.Debug("failed to process entry", zap.String("link", entry.Link), zap.Error(err))
				mu.Lock()
				fails++
				mu.Unlock()
				return
			}
			results[i] = art
		}(i, entry)
	}
	wg.Wait()

	if fails > 0 {
		log.Warn("some entries were not extracted", zap.Int("failed", fails), zap.Int("entries", len(entries)))
	}
	articles := make([]*models.Article, 0, len(results))
	for _, a := range results {
		if a != nil {
			articles = append(articles, a)
		}
	}
	log.Info("feed extracted", zap.Int("entries", len(entries)), zap.Int("articles", len(articles)))
	return articles
}

func (f *Fetcher) processEntry(ctx context.Context, entry *models.Entry, group string) (art *models.Article, err error) {
	defer func() {
		if r := recover(); r != nil {
			if f.tally != nil {
				f.tally.AddFailed()
			}
			err = fmt.Errorf("panic processing entry: %v", r)
		}
	}()
	return f.processor.Process(ctx, entry, group)
}

func (f *Fetcher) entries(ctx context.Context, feedURL string) ([]*models.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.FeedTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	extract.SetBrowserHeaders(req, f.cfg.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	entries := make([]*models.Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil || strings.TrimSpace(item.Link) == "" {
			continue
		}
		summary := item.Description
		if summary == "" {
			summary = item.Content
		}
		entries = append(entries, &models.Entry{
			Title:   item.Title,
			Link:    strings.TrimSpace(item.Link),
			Summary: summary,
		})
	}
	return entries, nil
}
