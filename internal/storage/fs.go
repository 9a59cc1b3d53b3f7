package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/backlinks/internal/checksum"
	"github.com/starford/backlinks/internal/models"
	"github.com/starford/backlinks/internal/pageid"
)

// Ext is the file extension of stored pages.
const Ext = ".txt"

// FS implements Provider backed by a directory tree: page "a:b:c" lives at
// <root>/a/b/c.txt.
type FS struct {
	root string // absolute path to the pages directory
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute pages directory.
func (f *FS) Root() string {
	return f.root
}

// IDFromPath maps a path relative to the pages root back to a page id.
// It returns "" for files that are not pages, including files whose name is
// not in normal form (they could not be read back through their id).
func IDFromPath(rel string) pageid.ID {
	rel = filepath.ToSlash(rel)
	if !strings.HasSuffix(rel, Ext) {
		return ""
	}
	rel = strings.TrimSuffix(rel, Ext)
	id := pageid.Clean(strings.ReplaceAll(rel, "/", pageid.Sep))
	if strings.ReplaceAll(string(id), pageid.Sep, "/") != rel {
		return ""
	}
	return id
}

// safePath maps a page id to its file and rejects anything that is not a
// normalised id or would escape the root.
func (f *FS) safePath(id pageid.ID) (string, error) {
	if !id.Valid() {
		return "", fmt.Errorf("storage: invalid page id %q", id)
	}
	rel := filepath.FromSlash(strings.ReplaceAll(string(id), pageid.Sep, "/")) + Ext
	abs, err := filepath.Abs(filepath.Join(f.root, rel))
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: path escapes pages root: %s", id)
	}
	return abs, nil
}

// List walks the namespace directory of ns and returns metadata for every page.
func (f *FS) List(ns pageid.ID) ([]models.PageMetadata, error) {
	base := f.root
	if ns != "" {
		if !ns.Valid() {
			return nil, fmt.Errorf("storage: invalid namespace %q", ns)
		}
		base = filepath.Join(f.root, filepath.FromSlash(strings.ReplaceAll(string(ns), pageid.Sep, "/")))
	}
	var out []models.PageMetadata
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) && p == base {
				return filepath.SkipAll
			}
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		id := IDFromPath(rel)
		if id == "" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out = append(out, models.PageMetadata{
			ID:        id,
			Checksum:  checksum.Sum(data),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return out, nil
}

// Read returns the raw bytes of a page.
func (f *FS) Read(id pageid.ID) ([]byte, error) {
	abs, err := f.safePath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", id, err)
	}
	return data, nil
}

// Exists reports whether the page file is present.
func (f *FS) Exists(id pageid.ID) bool {
	abs, err := f.safePath(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}

// Write atomically writes content: tmp file → fsync → rename.
func (f *FS) Write(id pageid.ID, content []byte) error {
	abs, err := f.safePath(id)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".page-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Delete removes a page and any namespace directories it leaves empty.
func (f *FS) Delete(id pageid.ID) error {
	abs, err := f.safePath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", id, err)
	}
	f.pruneEmptyDirs(filepath.Dir(abs))
	return nil
}

// Move renames a page, creating the destination namespace as needed.
func (f *FS) Move(oldID, newID pageid.ID) error {
	absOld, err := f.safePath(oldID)
	if err != nil {
		return err
	}
	absNew, err := f.safePath(newID)
	if err != nil {
		return err
	}
	dir := filepath.Dir(absNew)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for move: %w", err)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		return fmt.Errorf("storage: move: %w", err)
	}
	f.pruneEmptyDirs(filepath.Dir(absOld))
	return nil
}

// pruneEmptyDirs removes empty namespace directories from dir up to the root.
func (f *FS) pruneEmptyDirs(dir string) {
	for dir != f.root && strings.HasPrefix(dir, f.root+string(os.PathSeparator)) {
		if err := os.Remove(dir); err != nil {
			return // not empty, or gone
		}
		dir = filepath.Dir(dir)
	}
}
