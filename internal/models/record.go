// Package models defines core data structures for feed entries, articles, records, and search responses.
package models

import "fmt"

// Entry is a single parsed feed item before extraction.
type Entry struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Summary string `json:"summary,omitempty"`
}

// Article is an extracted, accepted entry that still needs an embedding.
type Article struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
	Group   string `json:"group"`
}

// CombinedText builds the text that is embedded and later handed to the language model.
func (a *Article) CombinedText() string {
	return fmt.Sprintf("Title: %s\n\nSource: %s\n\nContent: %s", a.Title, a.URL, a.Content)
}

// Record is one embedded, retrievable unit of article content.
type Record struct {
	ID        string    `json:"id"`
	Group     string    `json:"group"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
	// SimilarityScore is set on query results only; it is never persisted.
	SimilarityScore float64 `json:"similarity_score"`
}

// Clone returns a shallow copy of r. The embedding slice is shared since it is immutable once set.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}
