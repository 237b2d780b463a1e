// Package fsstore implements the catalog object store over a plain
// directory, typically a mounted NAS export acting as the remote side
// of a sync.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mhbvr/photocat"
	"github.com/mhbvr/photocat/catalog"
)

// Store is a photocat.ObjectStore rooted at one directory. Version
// tokens come from file modification time and size, which detects
// changes written through any store instance on the same tree.
type Store struct {
	dir string
}

var _ photocat.ObjectStore = (*Store)(nil)

// New returns a store rooted at dir. The directory is created on the
// first Put.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." || strings.Contains(part, `\`) {
			return "", fmt.Errorf("invalid object key %q", key)
		}
	}
	return filepath.Join(s.dir, filepath.FromSlash(key)), nil
}

func statToken(fi os.FileInfo) string {
	return fmt.Sprintf("%d-%d", fi.ModTime().UnixNano(), fi.Size())
}

func (s *Store) Probe(ctx context.Context, key string) (*photocat.ProbeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := s.path(key)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &photocat.ProbeResult{}, nil
		}
		return nil, fmt.Errorf("failed to probe object %s: %w", key, err)
	}
	if fi.IsDir() {
		return &photocat.ProbeResult{}, nil
	}
	return &photocat.ProbeResult{
		Exists: true,
		Token:  statToken(fi),
		Size:   fi.Size(),
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	target, err := s.path(key)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: %s", photocat.ErrObjectNotFound, key)
		}
		return nil, "", fmt.Errorf("failed to read object %s: %w", key, err)
	}
	fi, err := os.Stat(target)
	if err != nil {
		return nil, "", fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	return data, statToken(fi), nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create object dir: %w", err)
	}
	if err := catalog.WriteFileAtomic(target, data); err != nil {
		return "", fmt.Errorf("failed to write object %s: %w", key, err)
	}
	fi, err := os.Stat(target)
	if err != nil {
		return "", fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	return statToken(fi), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	// Drop the owner directory once its last object is gone.
	if dir := filepath.Dir(target); dir != filepath.Clean(s.dir) {
		os.Remove(dir)
	}
	return nil
}
