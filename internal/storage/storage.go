// Package storage keeps the ingestion run ledger and reports disk usage of the data files.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/newsrag/internal/models"
)

// ErrNoRuns is returned by LatestRun when the ledger is empty.
var ErrNoRuns = errors.New("no ingestion runs recorded")

// RunStore persists ingestion run summaries.
type RunStore interface {
	RecordRun(ctx context.Context, run *models.RunStats) error
	LatestRun(ctx context.Context) (*models.RunStats, error)
	ListRuns(ctx context.Context, limit int) ([]*models.RunStats, error)
	Close() error
}
