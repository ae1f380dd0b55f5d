// Package readiness publishes and checks the marker that tells the serving process a complete
// snapshot is on disk.
package readiness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// Content is the literal marker body.
const Content = "ready"

// Publish writes the marker at path. The write goes through a temp file and a rename so a
// watcher never observes a partial marker.
func Publish(path string) error {
	if path == "" {
		return fmt.Errorf("ready marker path is empty")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create marker dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create marker temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(Content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close marker: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename marker: %w", err)
	}
	return nil
}

// IsReady reports whether the marker exists and holds the expected content.
func IsReady(path string) bool {
	if path == "" {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return string(bytes.TrimSpace(data)) == Content
}

// Clear removes the marker. A missing marker is not an error.
func Clear(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker: %w", err)
	}
	return nil
}
