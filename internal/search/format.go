package search

import (
	"strings"

	"github.com/hyperjump/newsrag/internal/models"
)

// Format turns ranked records into the model's context list and the user-facing matches grouped
// by feed. Records with blank text are dropped. Contexts keep rank order; groups appear in the
// order of their best-ranked record.
func Format(records []*models.Record) ([]models.ContextEntry, []models.GroupMatches) {
	contexts := make([]models.ContextEntry, 0, len(records))
	var groups []models.GroupMatches
	pos := make(map[string]int)

	for _, r := range records {
		if r == nil || strings.TrimSpace(r.Text) == "" {
			continue
		}
		contexts = append(contexts, models.ContextEntry{Title: r.Title, Group: r.Group, Content: r.Text})

		i, ok := pos[r.Group]
		if !ok {
			i = len(groups)
			pos[r.Group] = i
			groups = append(groups, models.GroupMatches{Group: r.Group})
		}
		groups[i].Matches = append(groups[i].Matches, models.Match{Title: r.Title, URL: r.URL, Score: r.SimilarityScore})
	}
	return contexts, groups
}
