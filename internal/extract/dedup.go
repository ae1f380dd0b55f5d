package extract

import (
	"strings"
	"sync"
)

// NormalizeTitle lowercases title and collapses its whitespace.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// Dedup is the set of normalised titles seen during one run, shared by every feed.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDedup returns an empty set.
func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]struct{})}
}

// Reserve inserts key and reports whether it was absent.
func (d *Dedup) Reserve(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

// Release removes key so a later entry with the same title can be tried.
func (d *Dedup) Release(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

// Len returns the number of reserved titles.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
