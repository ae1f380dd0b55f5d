// Package cli provides CLI output and a small HTTP client for newsrag.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/hyperjump/newsrag/internal/models"
	"github.com/hyperjump/newsrag/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact is one line per result, tab separated.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		writeSearchResultsCompact(w, response)
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	if response.NoResults {
		fmt.Fprintf(w, "\n%s\n\n", noResultsMessage(response))
		return
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.Total, response.QueryTime)
	content := make(map[string]string, len(response.Contexts))
	for _, c := range response.Contexts {
		content[c.Group+"\x00"+c.Title] = c.Content
	}
	for _, g := range response.Groups {
		fmt.Fprintf(w, "--- %s ---\n", g.Group)
		for _, m := range g.Matches {
			fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Score: %.4f | %s\n", m.Score, m.Title)
			fmt.Fprintf(w, "URL: %s\n", m.URL)
			if c := content[g.Group+"\x00"+m.Title]; c != "" {
				fmt.Fprintf(w, "\n%s\n", utils.Truncate(utils.CollapseWhitespace(c), 200))
			}
			fmt.Fprintln(w)
		}
	}
}

func writeSearchResultsCompact(w io.Writer, response *models.SearchResponse) {
	if response.NoResults {
		fmt.Fprintln(w, noResultsMessage(response))
		return
	}
	for _, g := range response.Groups {
		for _, m := range g.Matches {
			fmt.Fprintf(w, "%.4f\t%s\t%s\t%s\n", m.Score, g.Group, m.Title, m.URL)
		}
	}
}

func noResultsMessage(response *models.SearchResponse) string {
	if response.Message != "" {
		return response.Message
	}
	return models.NoResultsMessage
}

// WriteStatus writes index status to w. Compact is treated as text.
func WriteStatus(w io.Writer, status *models.StatusResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "ready:             %t   # readiness marker present\n", status.Ready)
	fmt.Fprintf(w, "records:           %d   # records in the served index\n", status.Records)
	if status.SnapshotPath != "" {
		fmt.Fprintf(w, "snapshot_path:     %s\n", status.SnapshotPath)
	}
	if !status.LoadedAt.IsZero() {
		fmt.Fprintf(w, "loaded_at:         %s\n", status.LoadedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "disk_usage_bytes:  %d   # snapshot + marker + run ledger on disk\n", status.DiskUsageBytes)
	if len(status.Groups) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# groups")
		names := make([]string, 0, len(status.Groups))
		for name := range status.Groups {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "%-18s %d\n", name+":", status.Groups[name])
		}
	}
	if status.LastRun != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# last run")
		writeRunText(w, status.LastRun)
	}
	return nil
}

// WriteRuns writes ledger entries, newest first.
func WriteRuns(w io.Writer, runs []*models.RunStats, format OutputFormat) error {
	switch format {
	case OutputJSON:
		if runs == nil {
			runs = []*models.RunStats{}
		}
		return writeJSON(w, runs)
	case OutputCompact:
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				r.StartedAt.Format(time.RFC3339), r.Status, r.ID, r.Articles, r.Records, r.Duration().Round(time.Millisecond))
		}
		return nil
	default:
		if len(runs) == 0 {
			fmt.Fprintln(w, "No ingestion runs recorded.")
			return nil
		}
		for i, r := range runs {
			if i > 0 {
				fmt.Fprintln(w)
			}
			writeRunText(w, r)
		}
		return nil
	}
}

func writeRunText(w io.Writer, r *models.RunStats) {
	fmt.Fprintf(w, "id:          %s\n", r.ID)
	fmt.Fprintf(w, "started_at:  %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "status:      %s\n", r.Status)
	if r.Error != "" {
		fmt.Fprintf(w, "error:       %s\n", r.Error)
	}
	fmt.Fprintf(w, "duration:    %s\n", r.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "feeds:       %d (%d empty)\n", r.Feeds, r.FeedsEmpty)
	fmt.Fprintf(w, "articles:    %d\n", r.Articles)
	fmt.Fprintf(w, "records:     %d\n", r.Records)
	fmt.Fprintf(w, "skipped:     %d duplicates, %d too long, %d rejected, %d failed\n",
		r.Duplicates, r.TooLong, r.Rejected, r.Failed)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
