/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Filesystem stores objects as files in one flat directory. Writes go to a
// "*.tmp" sibling first and are renamed into place.
type Filesystem struct {
	root   string
	logger zerolog.Logger
}

// NewFilesystem creates a store rooted at dir, creating it if needed.
func NewFilesystem(dir string, logger zerolog.Logger) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Filesystem{root: dir, logger: logger.With().Str("component", "storage").Logger()}, nil
}

// Root returns the directory backing the store.
func (s *Filesystem) Root() string {
	return s.root
}

// Path returns the absolute file path for key.
func (s *Filesystem) Path(key string) string {
	return filepath.Join(s.root, key)
}

// Put atomically writes data under key.
func (s *Filesystem) Put(_ context.Context, key string, data []byte) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	tmp, err := os.CreateTemp(s.root, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", key, err)
	}
	if err := os.Rename(tmpName, s.Path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", key, err)
	}

	s.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("object stored")
	return nil
}

// Get reads the object stored under key.
func (s *Filesystem) Get(_ context.Context, key string) ([]byte, error) {
	if !ValidKey(key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return data, err
}

// Exists reports whether key holds a non-empty file.
func (s *Filesystem) Exists(key string) bool {
	if !ValidKey(key) {
		return false
	}
	info, err := os.Stat(s.Path(key))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// RemoveMatching deletes every file whose name matches the glob pattern and
// returns how many were removed.
func (s *Filesystem) RemoveMatching(pattern string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, pattern))
	if err != nil {
		return 0, fmt.Errorf("glob %q: %w", pattern, err)
	}
	removed := 0
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// CheckAccess verifies the storage directory exists and is a directory.
func (s *Filesystem) CheckAccess() error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("cannot access storage dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root is not a directory: %s", s.root)
	}
	return nil
}
