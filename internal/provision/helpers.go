// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	gitignore "github.com/denormal/go-gitignore"
)

// HashFile calculates the SHA256 hash of a file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }() // Read-only file; close error non-critical

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes calculates the SHA256 hash of a byte slice.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashTree calculates a content hash of a directory tree, honoring ignore
// rules and skipping excludeDirs (absolute paths). File contents are hashed
// (not sizes and mtimes) so a fresh checkout of identical sources produces
// the same key — the determinism the image cache depends on.
func HashTree(root string, ignore gitignore.GitIgnore, excludeDirs ...string) (string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // Skip inaccessible entries and keep walking
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if d.IsDir() && isExcludedDir(path, excludeDirs) {
			return filepath.SkipDir
		}
		if skipEntry(rel, d.IsDir(), ignore) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	sort.Strings(files)

	h := sha256.New()
	for _, rel := range files {
		fileHash, err := HashFile(filepath.Join(root, rel))
		if err != nil {
			return "", fmt.Errorf("failed to hash %s: %w", rel, err)
		}
		fmt.Fprintf(h, "%s:%s\n", filepath.ToSlash(rel), fileHash)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// CopyFile copies a file from src to dst, preserving the file mode.
func CopyFile(src, dst string) (err error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer func() { _ = srcFile.Close() }() // Read-only file; close error non-critical

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file: %w", err)
	}

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode())
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer func() {
		if closeErr := dstFile.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close destination file: %w", closeErr)
		}
	}()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy file contents: %w", err)
	}

	return nil
}

// CopyTree recursively copies a directory from src to dst, skipping entries
// matched by the ignore rules and any excludeDirs (absolute paths). dst is
// always excluded so a destination nested inside src cannot recurse.
func CopyTree(src, dst string, ignore gitignore.GitIgnore, excludeDirs ...string) error {
	excludeDirs = append(excludeDirs, dst)
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dst, 0o755)
		}
		if d.IsDir() && isExcludedDir(path, excludeDirs) {
			return filepath.SkipDir
		}
		if skipEntry(rel, d.IsDir(), ignore) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return CopyFile(path, target)
	})
}

// isExcludedDir reports whether path equals one of the excluded directories.
func isExcludedDir(path string, excludeDirs []string) bool {
	for _, dir := range excludeDirs {
		if dir != "" && path == dir {
			return true
		}
	}
	return false
}

// skipEntry reports whether a relative path is excluded by the ignore rules.
func skipEntry(rel string, isDir bool, ignore gitignore.GitIgnore) bool {
	if ignore == nil {
		return false
	}
	match := ignore.Relative(rel, isDir)
	return match != nil && match.Ignore()
}

// LoadIgnore loads ignore rules for a build context. The lakefile's ignore
// file is preferred; .dockerignore is the fallback so existing contexts keep
// their exclusions. Returns nil (no filtering) when neither file exists.
func LoadIgnore(contextDir, ignoreFile string) (gitignore.GitIgnore, error) {
	candidates := []string{ignoreFile, ".dockerignore"}
	for _, name := range candidates {
		if name == "" {
			continue
		}
		path := filepath.Join(contextDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read ignore file %s: %w", path, err)
		}
		return gitignore.New(bytes.NewReader(data), contextDir, nil), nil
	}
	return nil, nil
}
