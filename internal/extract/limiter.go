package extract

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter keeps one token bucket per host. A nil HostLimiter or one built with a
// non-positive rate never blocks.
type HostLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	blockTil map[string]time.Time
}

// NewHostLimiter allows rps requests per second per host with the given burst.
func NewHostLimiter(rps float64, burst int) *HostLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &HostLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		buckets:  make(map[string]*rate.Limiter),
		blockTil: make(map[string]time.Time),
	}
}

// Wait blocks until a request to host is allowed or ctx is done.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	until := h.blockTil[host]
	var bucket *rate.Limiter
	if h.limit > 0 {
		bucket = h.buckets[host]
		if bucket == nil {
			bucket = rate.NewLimiter(h.limit, h.burst)
			h.buckets[host] = bucket
		}
	}
	h.mu.Unlock()

	if d := time.Until(until); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if bucket == nil {
		return nil
	}
	return bucket.Wait(ctx)
}

// Backoff blocks host until the time given by a Retry-After header in seconds.
// Unparseable values back off for one second.
func (h *HostLimiter) Backoff(host, retryAfter string) {
	if h == nil {
		return
	}
	wait := time.Second
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
		wait = time.Duration(secs) * time.Second
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if until := time.Now().Add(wait); until.After(h.blockTil[host]) {
		h.blockTil[host] = until
	}
}
