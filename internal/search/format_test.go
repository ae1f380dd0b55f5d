package search

import (
	"testing"

	"github.com/hyperjump/newsrag/internal/models"
)

func TestFormat(t *testing.T) {
	records := []*models.Record{
		{Title: "A1", Group: "a", URL: "https://a/1", Text: "Title: A1", SimilarityScore: 0.9},
		{Title: "B1", Group: "b", URL: "https://b/1", Text: "Title: B1", SimilarityScore: 0.8},
		{Title: "blank", Group: "c", URL: "https://c/1", Text: "   ", SimilarityScore: 0.7},
		{Title: "A2", Group: "a", URL: "https://a/2", Text: "Title: A2", SimilarityScore: 0.6},
		nil,
	}
	contexts, groups := Format(records)

	if len(contexts) != 3 {
		t.Fatalf("expected 3 contexts, got %d", len(contexts))
	}
	wantTitles := []string{"A1", "B1", "A2"}
	for i, w := range wantTitles {
		if contexts[i].Title != w {
			t.Errorf("contexts[%d]=%s want %s", i, contexts[i].Title, w)
		}
	}
	if contexts[0].Group != "a" || contexts[0].Content != "Title: A1" {
		t.Errorf("contexts[0]=%+v", contexts[0])
	}

	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].Group != "a" || groups[1].Group != "b" {
		t.Errorf("group order = %s, %s", groups[0].Group, groups[1].Group)
	}
	if len(groups[0].Matches) != 2 || groups[0].Matches[1].URL != "https://a/2" || groups[0].Matches[1].Score != 0.6 {
		t.Errorf("group a matches = %+v", groups[0].Matches)
	}
}

func TestFormat_Empty(t *testing.T) {
	contexts, groups := Format(nil)
	if len(contexts) != 0 || len(groups) != 0 {
		t.Errorf("expected empty output, got %d contexts, %d groups", len(contexts), len(groups))
	}
}
