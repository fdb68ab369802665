/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package artwork finds cover art for now-playing records: embedded pictures
// read from MPD, external lookups (radio-browser, iTunes, MusicBrainz,
// Wikidata) and a hardened downloader that stores images locally.
package artwork

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/friendsincode/snapmeta/internal/storage"
)

// Extensions tried when looking for an already stored image.
var imageExtensions = []string{".jpg", ".png", ".gif", ".webp"}

var (
	pngMagic = []byte("\x89PNG\r\n\x1a\n")
	gifMagic = []byte("GIF")
)

// ImageExtension sniffs PNG, GIF and WEBP signatures and defaults to ".jpg".
func ImageExtension(data []byte) string {
	switch {
	case bytes.HasPrefix(data, pngMagic):
		return ".png"
	case bytes.HasPrefix(data, gifMagic):
		return ".gif"
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return ".webp"
	}
	return ".jpg"
}

// Hash is the content address used in artwork file names.
func Hash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// FileName returns the stored name for hash with extension ext.
func FileName(hash, ext string) string {
	return "artwork_" + hash + ext
}

// Store keeps artwork images in the artwork directory and optionally
// mirrors them to object storage.
type Store struct {
	files  *storage.Filesystem
	mirror storage.ObjectStore
	logger zerolog.Logger
}

// NewStore creates a store over files. mirror may be nil.
func NewStore(files *storage.Filesystem, mirror storage.ObjectStore, logger zerolog.Logger) *Store {
	return &Store{
		files:  files,
		mirror: mirror,
		logger: logger.With().Str("component", "artwork_store").Logger(),
	}
}

// Find returns the name of a non-empty image already stored for hash.
func (s *Store) Find(hash string) (string, bool) {
	for _, ext := range imageExtensions {
		name := FileName(hash, ext)
		if s.files.Exists(name) {
			return name, true
		}
	}
	return "", false
}

// Save writes data under hash with a sniffed extension and returns the file
// name.
func (s *Store) Save(ctx context.Context, hash string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("save artwork %s: empty image", hash)
	}
	name := FileName(hash, ImageExtension(data))
	if err := s.files.Put(ctx, name, data); err != nil {
		return "", fmt.Errorf("save artwork: %w", err)
	}

	if s.mirror != nil {
		if err := s.mirror.Put(ctx, name, data); err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("artwork mirror failed")
		}
	}
	return name, nil
}

// Discard removes every file stored for hash, including temp files.
func (s *Store) Discard(hash string) {
	if _, err := s.files.RemoveMatching("artwork_" + hash + "*"); err != nil {
		s.logger.Warn().Err(err).Str("hash", hash).Msg("discard artwork")
	}
}

// Sweep removes stale per-stream metadata files and interrupted writes left
// by a previous run.
func (s *Store) Sweep() (int, error) {
	total := 0
	for _, pattern := range []string{"metadata_*.json", "*.tmp"} {
		n, err := s.files.RemoveMatching(pattern)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
