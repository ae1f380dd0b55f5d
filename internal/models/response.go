package models

import "time"

// NoResultsMessage is shown when a query matches nothing above the similarity threshold.
const NoResultsMessage = "No relevant content found."

// ContextEntry is one article handed to the generative model.
type ContextEntry struct {
	Title   string `json:"title"`
	Group   string `json:"group"`
	Content string `json:"content"`
}

// Match is a user-facing reference to a retrieved record.
type Match struct {
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

// GroupMatches collects the matches coming from one feed.
type GroupMatches struct {
	Group   string  `json:"group"`
	Matches []Match `json:"matches"`
}

// SearchRequest is the body of a search or chat request.
type SearchRequest struct {
	Query   string `json:"query,omitempty"`
	Message string `json:"message,omitempty"`
}

// Text returns the query text, accepting either field.
func (r *SearchRequest) Text() string {
	if r.Query != "" {
		return r.Query
	}
	return r.Message
}

// SearchResponse is the result of a retrieval query.
type SearchResponse struct {
	Query     string         `json:"query"`
	Contexts  []ContextEntry `json:"contexts"`
	Groups    []GroupMatches `json:"groups"`
	Total     int            `json:"total"`
	NoResults bool           `json:"no_results"`
	Message   string         `json:"message,omitempty"`
	QueryTime int64          `json:"query_time_ms"`
}

// StatusResponse describes the index currently served.
type StatusResponse struct {
	Ready          bool           `json:"ready"`
	Records        int            `json:"records"`
	Groups         map[string]int `json:"groups"`
	SnapshotPath   string         `json:"snapshot_path"`
	LoadedAt       time.Time      `json:"loaded_at"`
	LastRun        *RunStats      `json:"last_run,omitempty"`
	DiskUsageBytes int64          `json:"disk_usage_bytes"`
}
