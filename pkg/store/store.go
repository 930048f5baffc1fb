// Package store implements the virtual artifact store: a path-addressable
// blob store rooted at a directory, with atomic writes and namespace mounts.
package store

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned by Read for paths with no stored blob.
var ErrNotFound = errors.New("store: not found")

// Store is a virtual file store. Paths are store-relative, slash-separated
// names, independent of the host filesystem layout.
type Store struct {
	root string
}

// New creates a Store rooted at the given directory. Subdirectories are
// created lazily on first write.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the store's root directory on the host filesystem.
func (s *Store) Root() string {
	return s.root
}

// hostPath maps a store path onto the host filesystem, rejecting escapes.
func (s *Store) hostPath(name string) (string, error) {
	cleaned, err := cleanPath(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func cleanPath(name string) (string, error) {
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return "", fmt.Errorf("store: empty path")
	}
	cleaned := path.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || path.IsAbs(cleaned) {
		return "", fmt.Errorf("store: invalid path %q", name)
	}
	return cleaned, nil
}

// Write stores data at the given path. The write is atomic: data lands in a
// temp file in the destination directory and is renamed into place, so a
// reader never observes a partial file. Concurrent writers to the same path
// are serialized by the rename; the last successful rename wins.
func (s *Store) Write(name string, data []byte) error {
	dest, err := s.hostPath(name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store write mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("store write tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store write close: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store write rename: %w", err)
	}
	return nil
}

// Read retrieves the blob at the given path.
func (s *Store) Read(name string) ([]byte, error) {
	dest, err := s.hostPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("store read %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("store read %s: %w", name, err)
	}
	return data, nil
}

// Exists reports whether a blob is stored at the given path.
func (s *Store) Exists(name string) bool {
	dest, err := s.hostPath(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(dest)
	return err == nil && !info.IsDir()
}

// Remove deletes the blob at the given path. Removing a missing path is not
// an error.
func (s *Store) Remove(name string) error {
	dest, err := s.hostPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store remove %s: %w", name, err)
	}
	return nil
}

// List returns the store paths under the given prefix, sorted. Temp files
// from in-flight writes are skipped.
func (s *Store) List(prefix string) ([]string, error) {
	cleaned, err := cleanPath(prefix)
	if err != nil {
		return nil, err
	}
	base := filepath.Join(s.root, filepath.FromSlash(cleaned))
	var names []string
	err = filepath.WalkDir(base, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store list %s: %w", prefix, err)
	}
	sort.Strings(names)
	return names, nil
}
