package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/newsrag/internal/readiness"
)

func waitFor(t *testing.T, cond func() bool, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestWatcher_DebouncedReady(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "state", "ready")

	var calls atomic.Int32
	w := NewWatcher(marker, func() { calls.Add(1) }, WithDebounce(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// a burst of publishes collapses into one callback
	for i := 0; i < 3; i++ {
		if err := readiness.Publish(marker); err != nil {
			t.Fatal(err)
		}
	}
	if !waitFor(t, func() bool { return calls.Load() >= 1 }, 3*time.Second) {
		t.Fatal("onReady was not called")
	}
	time.Sleep(300 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 debounced callback, got %d", n)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ready")

	var calls atomic.Int32
	w := NewWatcher(marker, func() { calls.Add(1) }, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "index.bin"), []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if calls.Load() != 0 {
		t.Error("writes to other files should not trigger a reload")
	}
}

func TestWatcher_OnCleared(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ready")
	if err := readiness.Publish(marker); err != nil {
		t.Fatal(err)
	}

	var cleared atomic.Int32
	w := NewWatcher(marker, nil, WithOnCleared(func() { cleared.Add(1) }))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := readiness.Clear(marker); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, func() bool { return cleared.Load() == 1 }, 3*time.Second) {
		t.Error("onCleared was not called")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "ready"), func() {})
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
	cancel()
}
