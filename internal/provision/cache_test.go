// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadIndexMissing(t *testing.T) {
	t.Parallel()

	idx, err := LoadIndex(filepath.Join(t.TempDir(), "images.toml"))
	if err != nil {
		t.Fatalf("LoadIndex() error = %v", err)
	}
	if len(idx.Images) != 0 {
		t.Errorf("LoadIndex() on missing file = %d entries, want 0", len(idx.Images))
	}
}

func TestIndexRoundTrip(t *testing.T) {
	t.Parallel()

	path := IndexPath(t.TempDir())
	entry := IndexEntry{
		Tag:       "lakeprov:abc123def456",
		BaseImage: "jupyter/pyspark-notebook:latest",
		CacheKey:  "abc123def456abc123def456",
		Lakefile:  "lakefile.cue",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	idx := &Index{}
	idx.Upsert(entry)
	if err := SaveIndex(path, idx); err != nil {
		t.Fatalf("SaveIndex() error = %v", err)
	}

	loaded, err := LoadIndex(path)
	if err != nil {
		t.Fatalf("LoadIndex() error = %v", err)
	}
	got, ok := loaded.Lookup(entry.Tag)
	if !ok {
		t.Fatalf("Lookup(%q) not found after round trip", entry.Tag)
	}
	if got != entry {
		t.Errorf("round-tripped entry = %+v, want %+v", got, entry)
	}
}

func TestIndexUpsertReplaces(t *testing.T) {
	t.Parallel()

	idx := &Index{}
	idx.Upsert(IndexEntry{Tag: "lakeprov:aaa", CacheKey: "old"})
	idx.Upsert(IndexEntry{Tag: "lakeprov:aaa", CacheKey: "new"})
	idx.Upsert(IndexEntry{Tag: "lakeprov:bbb", CacheKey: "other"})

	if len(idx.Images) != 2 {
		t.Fatalf("len(Images) = %d, want 2", len(idx.Images))
	}
	got, _ := idx.Lookup("lakeprov:aaa")
	if got.CacheKey != "new" {
		t.Errorf("Upsert did not replace: CacheKey = %q, want %q", got.CacheKey, "new")
	}
}

func TestIndexRemove(t *testing.T) {
	t.Parallel()

	idx := &Index{}
	idx.Upsert(IndexEntry{Tag: "lakeprov:aaa"})
	idx.Upsert(IndexEntry{Tag: "lakeprov:bbb"})

	if !idx.Remove("lakeprov:aaa") {
		t.Error("Remove() = false for existing tag")
	}
	if idx.Remove("lakeprov:aaa") {
		t.Error("Remove() = true for already-removed tag")
	}
	if _, ok := idx.Lookup("lakeprov:bbb"); !ok {
		t.Error("Remove() deleted the wrong entry")
	}
}
