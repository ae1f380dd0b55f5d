package extract

import "sync/atomic"

// Tally counts entries that did not become articles during a run.
type Tally struct {
	duplicates atomic.Int64
	tooLong    atomic.Int64
	rejected   atomic.Int64
	failed     atomic.Int64
}

// TallySnapshot is a point-in-time copy of a Tally.
type TallySnapshot struct {
	Duplicates int64 `json:"duplicates"`
	TooLong    int64 `json:"too_long"`
	Rejected   int64 `json:"rejected"`
	Failed     int64 `json:"failed"`
}

// AddFailed records an entry lost to an error outside Process, such as a recovered panic.
func (t *Tally) AddFailed() {
	t.failed.Add(1)
}

// Snapshot returns the current counts.
func (t *Tally) Snapshot() TallySnapshot {
	return TallySnapshot{
		Duplicates: t.duplicates.Load(),
		TooLong:    t.tooLong.Load(),
		Rejected:   t.rejected.Load(),
		Failed:     t.failed.Load(),
	}
}
