package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunEvery runs o immediately and then once per interval until ctx is cancelled. Each run is
// independent; a failed run is logged and the schedule continues. A run that overlaps the next
// tick delays that tick rather than running concurrently.
func RunEvery(ctx context.Context, o *Orchestrator, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_, stats, err := o.Run(ctx)
		if err != nil {
			o.logger.Error("scheduled ingestion failed", zap.String("run_id", stats.ID), zap.Error(err))
		} else {
			o.logger.Info("scheduled ingestion succeeded",
				zap.String("run_id", stats.ID),
				zap.Int("records", stats.Records),
				zap.Duration("next_in", interval),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
