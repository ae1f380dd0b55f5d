// Package extract turns parsed feed entries into article text, choosing between the entry's
// abstract and a readability pass over the linked page.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/newsrag/internal/models"
	"github.com/hyperjump/newsrag/pkg/utils"
	"go.uber.org/zap"
)

const (
	DefaultMinContentLength = 50
	DefaultMaxContentLength = 20000
	DefaultArticleTimeout   = 45 * time.Second
	DefaultUserAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0 Safari/537.36"

	// NoTitle stands in for entries that carry no title.
	NoTitle = "No Title"
)

// DefaultAbstractPatterns marks sources whose feed summaries already hold the abstract.
var DefaultAbstractPatterns = []string{"arxiv.org"}

// ErrRejected is matched by every error Process returns for an entry that yields no article.
var ErrRejected = errors.New("entry rejected")

// Reason classifies a rejection.
type Reason string

const (
	ReasonNoLink    Reason = "no_link"
	ReasonDuplicate Reason = "duplicate"
	ReasonTooShort  Reason = "too_short"
	ReasonTooLong   Reason = "too_long"
	ReasonFetch     Reason = "fetch_failed"
	ReasonParse     Reason = "parse_failed"
)

// RejectError describes why an entry produced no article.
type RejectError struct {
	Reason Reason
	Link   string
	Err    error
}

func (e *RejectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Link, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Link)
}

// Is reports ErrRejected as a match so callers can use errors.Is.
func (e *RejectError) Is(target error) bool { return target == ErrRejected }

func (e *RejectError) Unwrap() error { return e.Err }

func reject(reason Reason, link string, err error) error {
	return &RejectError{Reason: reason, Link: link, Err: err}
}

// Config holds extraction thresholds and source classification.
type Config struct {
	AbstractPatterns []string
	MinLength        int
	MaxLength        int
	ArticleTimeout   time.Duration
	UserAgent        string
}

func (c *Config) applyDefaults() {
	if c.AbstractPatterns == nil {
		c.AbstractPatterns = DefaultAbstractPatterns
	}
	if c.MinLength <= 0 {
		c.MinLength = DefaultMinContentLength
	}
	if c.MaxLength <= 0 {
		c.MaxLength = DefaultMaxContentLength
	}
	if c.ArticleTimeout <= 0 {
		c.ArticleTimeout = DefaultArticleTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
}

// IsAbstractSource reports whether rawURL matches one of the abstract-style patterns.
func (c Config) IsAbstractSource(rawURL string) bool {
	patterns := c.AbstractPatterns
	if patterns == nil {
		patterns = DefaultAbstractPatterns
	}
	for _, p := range patterns {
		if p != "" && strings.Contains(rawURL, p) {
			return true
		}
	}
	return false
}

// Extractor processes entries for one ingestion run. Its Dedup set and Tally are scoped to
// the run; the HTTP client and host limiter can be shared across runs.
type Extractor struct {
	cfg     Config
	client  *http.Client
	limiter *HostLimiter
	dedup   *Dedup
	tally   *Tally
	logger  *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithHTTPClient sets the client used to fetch article pages.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Extractor) {
		if c != nil {
			e.client = c
		}
	}
}

// WithHostLimiter throttles article fetches per host.
func WithHostLimiter(l *HostLimiter) Option {
	return func(e *Extractor) { e.limiter = l }
}

// WithDedup shares a title set with other extractors.
func WithDedup(d *Dedup) Option {
	return func(e *Extractor) {
		if d != nil {
			e.dedup = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) { e.logger = utils.OrNop(l) }
}

// NewExtractor returns an Extractor with a fresh Dedup set and Tally.
func NewExtractor(cfg Config, opts ...Option) *Extractor {
	cfg.applyDefaults()
	e := &Extractor{
		cfg:    cfg,
		dedup:  NewDedup(),
		tally:  &Tally{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = NewHTTPClient(0)
	}
	return e
}

// Tally returns the run's rejection counters.
func (e *Extractor) Tally() *Tally { return e.tally }

// Dedup returns the run's title set.
func (e *Extractor) Dedup() *Dedup { return e.dedup }

// Process extracts the article for entry. The normalised title is reserved before any network
// work so concurrent duplicates are rejected early; the reservation is released again if the
// entry does not produce an article, including when extraction panics.
func (e *Extractor) Process(ctx context.Context, entry *models.Entry, group string) (*models.Article, error) {
	if entry == nil || strings.TrimSpace(entry.Link) == "" {
		e.tally.rejected.Add(1)
		return nil, reject(ReasonNoLink, "", nil)
	}
	link := strings.TrimSpace(entry.Link)
	title := strings.TrimSpace(entry.Title)
	if title == "" {
		title = NoTitle
	}

	key := NormalizeTitle(title)
	if !e.dedup.Reserve(key) {
		e.tally.duplicates.Add(1)
		return nil, reject(ReasonDuplicate, link, nil)
	}
	accepted := false
	defer func() {
		if !accepted {
			e.dedup.Release(key)
		}
	}()

	var (
		content string
		err     error
	)
	if e.cfg.IsAbstractSource(link) {
		content, err = e.abstract(entry, link)
	} else {
		content, err = e.article(ctx, link)
	}
	if err != nil {
		e.count(err)
		e.logger.Debug("entry rejected", zap.String("group", group), zap.String("link", link), zap.Error(err))
		return nil, err
	}

	if utf8.RuneCountInString(content) > e.cfg.MaxLength {
		e.tally.tooLong.Add(1)
		return nil, reject(ReasonTooLong, link, nil)
	}

	accepted = true
	return &models.Article{Title: title, URL: link, Content: content, Group: group}, nil
}

func (e *Extractor) count(err error) {
	var re *RejectError
	if errors.As(err, &re) && (re.Reason == ReasonFetch || re.Reason == ReasonParse) {
		e.tally.failed.Add(1)
		return
	}
	e.tally.rejected.Add(1)
}

func (e *Extractor) abstract(entry *models.Entry, link string) (string, error) {
	content := ExtractAbstract(entry.Summary)
	if utf8.RuneCountInString(content) < e.cfg.MinLength {
		return "", reject(ReasonTooShort, link, nil)
	}
	return content, nil
}
