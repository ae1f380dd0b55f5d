package vector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/newsrag/internal/models"
)

func TestIndex_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "index.bin")

	idx, _ := NewIndex(3)
	_ = idx.Add("feedA", []*models.Record{rec("a", "feedA", 1, 0, 0), rec("b", "feedA", 0, 1, 0)})
	_ = idx.Add("feedB", []*models.Record{rec("c", "feedB", 0, 0, 1)})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, _ := NewIndex(3)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 3 {
		t.Fatalf("Size=%d", loaded.Size())
	}
	got := loaded.Records("feedA")
	want := idx.Records("feedA")
	for i := range want {
		if got[i].ID != want[i].ID || got[i].URL != want[i].URL || got[i].Title != want[i].Title || got[i].Text != want[i].Text {
			t.Errorf("record %d differs: %+v vs %+v", i, got[i], want[i])
		}
		if got[i].Group != "feedA" {
			t.Errorf("group=%q", got[i].Group)
		}
		for j := range want[i].Embedding {
			if got[i].Embedding[j] != want[i].Embedding[j] {
				t.Errorf("embedding %d differs at %d", i, j)
			}
		}
	}

	q := []float32{0, 1, 0}
	before, _ := idx.Query(context.Background(), q)
	after, _ := loaded.Query(context.Background(), q)
	if len(before) != len(after) || before[0].ID != after[0].ID {
		t.Errorf("query results differ after round trip")
	}
}

func TestIndex_SaveEmptyLeavesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.bin")

	full, _ := NewIndex(2)
	_ = full.Add("g", []*models.Record{rec("a", "g", 1, 0)})
	if err := full.Save(path); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(path)

	empty, _ := NewIndex(2)
	if err := empty.Save(path); err != nil {
		t.Fatal(err)
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("saving an empty index must not modify the existing snapshot")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the snapshot in dir, got %d entries", len(entries))
	}
}

func TestIndex_LoadMissingFile(t *testing.T) {
	idx, _ := NewIndex(2)
	_ = idx.Add("g", []*models.Record{rec("a", "g", 1, 0)})
	if err := idx.Load(filepath.Join(t.TempDir(), "missing.bin")); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 0 {
		t.Errorf("missing snapshot should leave index empty, size=%d", idx.Size())
	}
}

func TestIndex_LoadDimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")
	idx, _ := NewIndex(2)
	_ = idx.Add("g", []*models.Record{rec("a", "g", 1, 0)})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	other, _ := NewIndex(3)
	if err := other.Load(path); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected dimension mismatch, got %v", err)
	}
}

func TestIndex_LoadTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")
	idx, _ := NewIndex(2)
	_ = idx.Add("g", []*models.Record{rec("a", "g", 1, 0)})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if err := os.WriteFile(path, data[:len(data)-3], 0644); err != nil {
		t.Fatal(err)
	}
	loaded, _ := NewIndex(2)
	if err := loaded.Load(path); err == nil {
		t.Error("expected error for truncated snapshot")
	}
	if loaded.Size() != 0 {
		t.Error("failed load must not populate the index")
	}
}

func TestIndex_SaveEmptyPath(t *testing.T) {
	idx, _ := NewIndex(2)
	if err := idx.Add("g", []*models.Record{rec("a", "g", 1, 0)}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Save(""); !errors.Is(err, ErrNoSnapshotPath) {
		t.Fatalf("Save(\"\") = %v, want ErrNoSnapshotPath", err)
	}
}
