// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// IndexFileName is the cache index file within the cache directory.
const IndexFileName = "images.toml"

type (
	// IndexEntry records one provisioned image and the inputs it was built
	// from, so `lakeprov clean` can enumerate and remove cached images.
	IndexEntry struct {
		Tag       string    `toml:"tag"`
		BaseImage string    `toml:"base_image"`
		CacheKey  string    `toml:"cache_key"`
		Lakefile  string    `toml:"lakefile,omitempty"`
		CreatedAt time.Time `toml:"created_at"`
	}

	// Index is the on-disk cache index.
	Index struct {
		Images []IndexEntry `toml:"images"`
	}
)

// IndexPath returns the cache index path for a cache directory.
func IndexPath(cacheDir string) string {
	return filepath.Join(cacheDir, IndexFileName)
}

// LoadIndex reads the cache index, returning an empty index when the file
// does not exist yet.
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Index{}, nil
		}
		return nil, fmt.Errorf("failed to read cache index: %w", err)
	}

	var idx Index
	if err := toml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse cache index %s: %w", path, err)
	}
	return &idx, nil
}

// SaveIndex writes the cache index, creating the cache directory if needed.
func SaveIndex(path string, idx *Index) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := toml.Marshal(idx)
	if err != nil {
		return fmt.Errorf("failed to encode cache index: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache index: %w", err)
	}
	return nil
}

// Upsert adds or replaces the entry with the same tag.
func (idx *Index) Upsert(entry IndexEntry) {
	for i, e := range idx.Images {
		if e.Tag == entry.Tag {
			idx.Images[i] = entry
			return
		}
	}
	idx.Images = append(idx.Images, entry)
}

// Remove deletes the entry with the given tag, reporting whether it existed.
func (idx *Index) Remove(tag string) bool {
	for i, e := range idx.Images {
		if e.Tag == tag {
			idx.Images = append(idx.Images[:i], idx.Images[i+1:]...)
			return true
		}
	}
	return false
}

// Lookup returns the entry with the given tag, if present.
func (idx *Index) Lookup(tag string) (IndexEntry, bool) {
	for _, e := range idx.Images {
		if e.Tag == tag {
			return e, true
		}
	}
	return IndexEntry{}, false
}
