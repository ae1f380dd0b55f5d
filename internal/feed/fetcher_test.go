package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/newsrag/internal/extract"
	"github.com/hyperjump/newsrag/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rss(items ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Test</title><link>https://example.com</link><description>d</description>`)
	for _, it := range items {
		b.WriteString(it)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

func item(title, link, desc string) string {
	if link == "" {
		return fmt.Sprintf("<item><title>%s</title><description>%s</description></item>", title, desc)
	}
	return fmt.Sprintf("<item><title>%s</title><link>%s</link><description>%s</description></item>", title, link, desc)
}

type processFunc func(ctx context.Context, entry *models.Entry, group string) (*models.Article, error)

func (f processFunc) Process(ctx context.Context, entry *models.Entry, group string) (*models.Article, error) {
	return f(ctx, entry, group)
}

func echo(delay time.Duration) processFunc {
	return func(ctx context.Context, entry *models.Entry, group string) (*models.Article, error) {
		time.Sleep(delay)
		return &models.Article{Title: entry.Title, URL: entry.Link, Content: entry.Summary, Group: group}, nil
	}
}

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_FeedOrderAndSkipsLinkless(t *testing.T) {
	srv := serve(t, http.StatusOK, rss(
		item("First", "https://example.com/1", "one"),
		item("No link", "", "skip"),
		item("Second", "https://example.com/2", "two"),
		item("Third", "https://example.com/3", "three"),
	))
	var seen atomic.Int32
	p := processFunc(func(ctx context.Context, e *models.Entry, g string) (*models.Article, error) {
		seen.Add(1)
		// later entries finish first
		if e.Title == "First" {
			time.Sleep(30 * time.Millisecond)
		}
		return echo(0)(ctx, e, g)
	})
	articles := NewFetcher(Config{}, p).Fetch(context.Background(), "blog", srv.URL)
	require.Len(t, articles, 3)
	assert.Equal(t, int32(3), seen.Load())
	assert.Equal(t, "First", articles[0].Title)
	assert.Equal(t, "Second", articles[1].Title)
	assert.Equal(t, "Third", articles[2].Title)
	assert.Equal(t, "blog", articles[2].Group)
	assert.Equal(t, "three", articles[2].Content)
}

func TestFetch_EntryFailuresIsolated(t *testing.T) {
	srv := serve(t, http.StatusOK, rss(
		item("ok", "https://example.com/ok", "fine"),
		item("err", "https://example.com/err", "x"),
		item("boom", "https://example.com/boom", "x"),
	))
	p := processFunc(func(ctx context.Context, e *models.Entry, g string) (*models.Article, error) {
		switch e.Title {
		case "err":
			return nil, errors.New("extract failed")
		case "boom":
			panic("unexpected markup")
		}
		return echo(0)(ctx, e, g)
	})
	tally := &extract.Tally{}
	articles := NewFetcher(Config{}, p, WithTally(tally)).Fetch(context.Background(), "blog", srv.URL)
	require.Len(t, articles, 1)
	assert.Equal(t, "ok", articles[0].Title)
	assert.Equal(t, int64(1), tally.Snapshot().Failed)
}

func TestFetch_FeedLevelFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, "oops"},
		{"not a feed", http.StatusOK, "<html><body>hello</body></html>"},
		{"no entries", http.StatusOK, rss()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.status, tt.body)
			articles := NewFetcher(Config{}, echo(0)).Fetch(context.Background(), "blog", srv.URL)
			assert.Empty(t, articles)
		})
	}
}

func TestFetch_FeedTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()
	start := time.Now()
	articles := NewFetcher(Config{FeedTimeout: 100 * time.Millisecond}, echo(0)).Fetch(context.Background(), "slow", srv.URL)
	assert.Empty(t, articles)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestFetch_CapacityBound(t *testing.T) {
	var items []string
	for i := 0; i < 12; i++ {
		items = append(items, item(fmt.Sprintf("t%d", i), fmt.Sprintf("https://example.com/%d", i), "x"))
	}
	srv := serve(t, http.StatusOK, rss(items...))

	var inFlight, peak atomic.Int32
	p := processFunc(func(ctx context.Context, e *models.Entry, g string) (*models.Article, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return echo(0)(ctx, e, g)
	})
	articles := NewFetcher(Config{GeneralCapacity: 3}, p).Fetch(context.Background(), "blog", srv.URL)
	assert.Len(t, articles, 12)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestConfig_Capacity(t *testing.T) {
	c := Config{}
	c.applyDefaults()
	assert.Equal(t, 100, c.Capacity("https://rss.arxiv.org/rss/cs.AI", 500))
	assert.Equal(t, 7, c.Capacity("https://rss.arxiv.org/rss/cs.AI", 7))
	assert.Equal(t, 20, c.Capacity("https://example.com/feed", 50))
	assert.Equal(t, 1, c.Capacity("https://example.com/feed", 0))
}
