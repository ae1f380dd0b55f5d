package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/newsrag/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const paragraph = "Central banks across several economies held interest rates steady this week, " +
	"citing persistent inflation in services and a labour market that has cooled only gradually."

func articlePage(title string, paragraphs int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body>", title)
	b.WriteString(`<nav><a href="/">Home</a> <a href="/about">About</a></nav><article>`)
	fmt.Fprintf(&b, "<h1>%s</h1>", title)
	for i := 0; i < paragraphs; i++ {
		fmt.Fprintf(&b, "<p>%s Paragraph %d.</p>", paragraph, i)
	}
	b.WriteString(`</article><footer>Copyright</footer></body></html>`)
	return b.String()
}

func newPageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/long", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla/5.0")
		assert.Equal(t, "en-US,en;q=0.9", r.Header.Get("Accept-Language"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articlePage("Rates Held", 8)))
	})
	mux.HandleFunc("/short", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body><article><p>Too short.</p></article></body></html>"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func abstractEntry(title, summary string) *models.Entry {
	return &models.Entry{Title: title, Link: "https://arxiv.org/abs/2401.00001", Summary: summary}
}

func rejectReason(t *testing.T, err error) Reason {
	t.Helper()
	require.ErrorIs(t, err, ErrRejected)
	var re *RejectError
	require.True(t, errors.As(err, &re))
	return re.Reason
}

func TestProcess_Abstract(t *testing.T) {
	e := NewExtractor(Config{})
	art, err := e.Process(context.Background(),
		abstractEntry("Paper One", "arXiv:2401.00001 Announce Type: new Abstract: We study X in great detail across many settings and datasets."),
		"arxiv-cs")
	require.NoError(t, err)
	assert.Equal(t, "We study X in great detail across many settings and datasets.", art.Content)
	assert.Equal(t, "Paper One", art.Title)
	assert.Equal(t, "arxiv-cs", art.Group)
	assert.Equal(t, "https://arxiv.org/abs/2401.00001", art.URL)
}

func TestProcess_AbstractTooShortReleasesTitle(t *testing.T) {
	e := NewExtractor(Config{})
	_, err := e.Process(context.Background(), abstractEntry("Paper", "new Abstract: tiny"), "g")
	assert.Equal(t, ReasonTooShort, rejectReason(t, err))
	assert.Equal(t, 0, e.Dedup().Len())
	assert.Equal(t, int64(1), e.Tally().Snapshot().Rejected)

	art, err := e.Process(context.Background(), abstractEntry("Paper", "new Abstract: "+paragraph), "g")
	require.NoError(t, err)
	assert.Equal(t, paragraph, art.Content)
}

func TestProcess_DuplicateTitles(t *testing.T) {
	e := NewExtractor(Config{})
	ctx := context.Background()
	_, err := e.Process(ctx, abstractEntry("Same  Title", paragraph), "feedA")
	require.NoError(t, err)
	_, err = e.Process(ctx, abstractEntry("same title", paragraph), "feedB")
	assert.Equal(t, ReasonDuplicate, rejectReason(t, err))
	assert.Equal(t, int64(1), e.Tally().Snapshot().Duplicates)
}

func TestProcess_MissingTitle(t *testing.T) {
	e := NewExtractor(Config{})
	art, err := e.Process(context.Background(), abstractEntry("", paragraph), "g")
	require.NoError(t, err)
	assert.Equal(t, NoTitle, art.Title)
}

func TestProcess_NoLink(t *testing.T) {
	e := NewExtractor(Config{})
	_, err := e.Process(context.Background(), &models.Entry{Title: "x"}, "g")
	assert.Equal(t, ReasonNoLink, rejectReason(t, err))
}

func TestProcess_TooLong(t *testing.T) {
	e := NewExtractor(Config{MaxLength: 100})
	_, err := e.Process(context.Background(), abstractEntry("Long", strings.Repeat("word ", 40)), "g")
	assert.Equal(t, ReasonTooLong, rejectReason(t, err))
	assert.Equal(t, int64(1), e.Tally().Snapshot().TooLong)
	assert.Equal(t, 0, e.Dedup().Len())
}

func TestProcess_GeneralArticle(t *testing.T) {
	srv := newPageServer(t)
	e := NewExtractor(Config{})
	art, err := e.Process(context.Background(), &models.Entry{Title: "Rates Held", Link: srv.URL + "/long"}, "econ")
	require.NoError(t, err)
	assert.Contains(t, art.Content, "Central banks across several economies")
	assert.Contains(t, art.Content, "Paragraph 7.")
	assert.NotContains(t, art.Content, "Copyright")
	assert.Equal(t, strings.TrimSpace(art.Content), art.Content)
}

func TestProcess_GeneralFailures(t *testing.T) {
	srv := newPageServer(t)
	tests := []struct {
		path string
		want []Reason
	}{
		// readability may find nothing at all on a near-empty page
		{"/short", []Reason{ReasonTooShort, ReasonParse}},
		{"/missing", []Reason{ReasonFetch}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			e := NewExtractor(Config{})
			_, err := e.Process(context.Background(), &models.Entry{Title: tt.path, Link: srv.URL + tt.path}, "g")
			assert.Contains(t, tt.want, rejectReason(t, err))
			assert.Equal(t, 0, e.Dedup().Len())
		})
	}
}

func TestProcess_GeneralTimeout(t *testing.T) {
	srv := newPageServer(t)
	e := NewExtractor(Config{ArticleTimeout: 100 * time.Millisecond})
	start := time.Now()
	_, err := e.Process(context.Background(), &models.Entry{Title: "Slow", Link: srv.URL + "/slow"}, "g")
	assert.Equal(t, ReasonFetch, rejectReason(t, err))
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, int64(1), e.Tally().Snapshot().Failed)
}

func TestConfig_IsAbstractSource(t *testing.T) {
	c := Config{AbstractPatterns: []string{"arxiv.org", "biorxiv.org"}}
	assert.True(t, c.IsAbstractSource("https://rss.arxiv.org/rss/cs.AI"))
	assert.True(t, c.IsAbstractSource("https://connect.biorxiv.org/feed"))
	assert.False(t, c.IsAbstractSource("https://example.com/feed"))
	assert.True(t, Config{}.IsAbstractSource("http://export.arxiv.org/abs/1"))
}

func TestMainText(t *testing.T) {
	u, _ := url.Parse("https://example.com/post")
	text, err := MainText(strings.NewReader(articlePage("Title", 6)), u)
	require.NoError(t, err)
	assert.Contains(t, text, "Paragraph 0. Central banks")
}
