package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hyperjump/newsrag/internal/embedding"
	"github.com/hyperjump/newsrag/internal/models"
	"github.com/hyperjump/newsrag/internal/vector"
)

type fakeGenerator struct {
	mu       sync.Mutex
	query    string
	contexts []models.ContextEntry
}

func (g *fakeGenerator) Stream(_ context.Context, query string, contexts []models.ContextEntry) <-chan string {
	g.mu.Lock()
	g.query, g.contexts = query, contexts
	g.mu.Unlock()
	out := make(chan string, 2)
	out <- "answer "
	out <- "done"
	close(out)
	return out
}

func newIndexWith(t *testing.T, emb embedding.Embedder, texts map[string]string) *vector.Index {
	t.Helper()
	idx, err := vector.NewIndex(emb.Dimensions(), vector.WithMinSimilarity(0.99))
	if err != nil {
		t.Fatal(err)
	}
	for title, group := range texts {
		vec, _ := emb.Embed(context.Background(), title)
		rec := &models.Record{ID: title, Group: group, Title: title, URL: "https://x/" + title, Text: "Title: " + title, Embedding: vec}
		if err := idx.Add(group, []*models.Record{rec}); err != nil {
			t.Fatal(err)
		}
	}
	return idx
}

func TestEngine_Search(t *testing.T) {
	emb := embedding.NewMockEmbedder(16)
	idx := newIndexWith(t, emb, map[string]string{"rates": "econ", "rockets": "space"})
	engine := NewEngine(emb, idx)

	// the mock embeds identical text identically, so the exact title scores 1
	resp, err := engine.Search(context.Background(), "  rates ")
	if err != nil {
		t.Fatal(err)
	}
	if resp.NoResults || resp.Total != 1 {
		t.Fatalf("expected one result, got %+v", resp)
	}
	if resp.Query != "rates" || resp.Contexts[0].Title != "rates" || resp.Groups[0].Group != "econ" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestEngine_SearchNoResults(t *testing.T) {
	emb := embedding.NewMockEmbedder(16)
	idx := newIndexWith(t, emb, map[string]string{"rates": "econ"})
	engine := NewEngine(emb, idx)

	resp, err := engine.Search(context.Background(), "something unrelated")
	if err != nil {
		t.Fatal(err)
	}
	if !resp.NoResults || resp.Message != models.NoResultsMessage || resp.Total != 0 {
		t.Errorf("expected explicit no-results response, got %+v", resp)
	}

	empty, _ := vector.NewIndex(16)
	engine.SetIndex(empty)
	resp, err = engine.Search(context.Background(), "rates")
	if err != nil {
		t.Fatal(err)
	}
	if !resp.NoResults {
		t.Error("empty index should report no results")
	}
}

func TestEngine_EmptyQuery(t *testing.T) {
	engine := NewEngine(embedding.NewMockEmbedder(4), nil)
	if _, err := engine.Search(context.Background(), "   "); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestEngine_SetIndex(t *testing.T) {
	emb := embedding.NewMockEmbedder(8)
	engine := NewEngine(emb, nil)
	_, before := engine.Index()

	idx := newIndexWith(t, emb, map[string]string{"rates": "econ"})
	engine.SetIndex(idx)
	got, after := engine.Index()
	if got != idx {
		t.Error("SetIndex did not install the index")
	}
	if after.Before(before) {
		t.Error("loadedAt should move forward")
	}
	resp, _ := engine.Search(context.Background(), "rates")
	if resp.Total != 1 {
		t.Errorf("expected a hit after swap, got %d", resp.Total)
	}
}

func TestEngine_Chat(t *testing.T) {
	emb := embedding.NewMockEmbedder(16)
	idx := newIndexWith(t, emb, map[string]string{"rates": "econ"})
	gen := &fakeGenerator{}
	engine := NewEngine(emb, idx, WithGenerator(gen))

	stream, resp, err := engine.Chat(context.Background(), "rates")
	if err != nil {
		t.Fatal(err)
	}
	var b strings.Builder
	for s := range stream {
		b.WriteString(s)
	}
	if b.String() != "answer done" {
		t.Errorf("stream=%q", b.String())
	}
	if resp.Total != 1 || len(gen.contexts) != 1 || gen.contexts[0].Group != "econ" {
		t.Errorf("generator got %+v", gen.contexts)
	}

	if _, _, err := NewEngine(emb, idx).Chat(context.Background(), "rates"); err == nil {
		t.Error("expected error without a generator")
	}
}

func TestEngine_Reload(t *testing.T) {
	emb := embedding.NewMockEmbedder(16)
	built := newIndexWith(t, emb, map[string]string{"rates": "econ"})
	path := filepath.Join(t.TempDir(), "index.bin")
	if err := built.Save(path); err != nil {
		t.Fatal(err)
	}

	empty, err := vector.NewIndex(16, vector.WithMinSimilarity(0.99))
	if err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(emb, empty)
	resp, err := engine.Search(context.Background(), "rates")
	if err != nil {
		t.Fatal(err)
	}
	if !resp.NoResults {
		t.Fatal("empty index should report no results")
	}

	loaded, err := engine.Reload(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 1 || loaded.MinSimilarity() != 0.99 {
		t.Errorf("reloaded index: size=%d min=%v", loaded.Size(), loaded.MinSimilarity())
	}
	resp, err = engine.Search(context.Background(), "rates")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 {
		t.Errorf("expected one result after reload, got %+v", resp)
	}
}

func TestEngine_ReloadKeepsIndexOnError(t *testing.T) {
	emb := embedding.NewMockEmbedder(16)
	idx := newIndexWith(t, emb, map[string]string{"rates": "econ"})
	engine := NewEngine(emb, idx)

	path := filepath.Join(t.TempDir(), "broken.bin")
	if err := os.WriteFile(path, []byte{1, 2}, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Reload(path); err == nil {
		t.Fatal("expected error for truncated snapshot")
	}
	current, _ := engine.Index()
	if current != idx {
		t.Error("failed reload should keep the previous index")
	}
}
