package models

import "time"

// Run statuses.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// RunStats summarises one ingestion run.
type RunStats struct {
	ID              string        `json:"id"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	Status          string        `json:"status"`
	Error           string        `json:"error,omitempty"`
	Feeds           int           `json:"feeds"`
	FeedsEmpty      int           `json:"feeds_empty"`
	Articles        int           `json:"articles"`
	Records         int           `json:"records"`
	Duplicates      int64         `json:"duplicates"`
	TooLong         int64         `json:"too_long"`
	Rejected        int64         `json:"rejected"`
	Failed          int64         `json:"failed"`
	ExtractDuration time.Duration `json:"extract_duration"`
	EmbedDuration   time.Duration `json:"embed_duration"`
}

// Duration returns the wall time of the run.
func (r *RunStats) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
