package extract

import (
	"strings"

	"github.com/hyperjump/newsrag/pkg/utils"
)

// abstractMarkers are the announcement prefixes arXiv puts in front of an abstract,
// in the order they are tried.
var abstractMarkers = []string{
	"new Abstract:",
	"replace Abstract:",
	"replace-cross Abstract:",
	"cross Abstract:",
}

// ExtractAbstract collapses whitespace in summary and drops everything up to and including the
// first announcement marker found.
func ExtractAbstract(summary string) string {
	text := utils.CollapseWhitespace(summary)
	for _, marker := range abstractMarkers {
		if i := strings.Index(text, marker); i != -1 {
			return strings.TrimSpace(text[i+len(marker):])
		}
	}
	return text
}
