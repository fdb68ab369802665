/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package artwork

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/friendsincode/snapmeta/internal/mpd"
	"github.com/friendsincode/snapmeta/internal/telemetry"
)

// PictureReader reads a picture embedded in a song file.
type PictureReader interface {
	ReadPicture(ctx context.Context, path string) ([]byte, error)
}

// Embedded caches MPD embedded cover art on disk, keyed by song path.
type Embedded struct {
	reader PictureReader
	store  *Store
	logger zerolog.Logger
}

// NewEmbedded creates an embedded-art fetcher.
func NewEmbedded(reader PictureReader, store *Store, logger zerolog.Logger) *Embedded {
	return &Embedded{
		reader: reader,
		store:  store,
		logger: logger.With().Str("component", "artwork_embedded").Logger(),
	}
}

// Fetch returns the stored file name of the picture embedded in file, or ""
// when it has none.
func (e *Embedded) Fetch(ctx context.Context, file string) string {
	if file == "" {
		return ""
	}
	hash := Hash("mpd:" + file)
	if name, ok := e.store.Find(hash); ok {
		return name
	}

	data, err := e.reader.ReadPicture(ctx, file)
	if err != nil {
		if errors.Is(err, mpd.ErrNoPicture) {
			telemetry.ArtworkLookups.WithLabelValues("mpd", "none").Inc()
		} else {
			telemetry.ArtworkLookups.WithLabelValues("mpd", "error").Inc()
			e.logger.Warn().Err(err).Str("file", file).Msg("readpicture failed")
		}
		return ""
	}

	name, err := e.store.Save(ctx, hash, data)
	if err != nil {
		e.logger.Warn().Err(err).Str("file", file).Msg("store embedded artwork")
		e.store.Discard(hash)
		return ""
	}
	telemetry.ArtworkLookups.WithLabelValues("mpd", "found").Inc()
	e.logger.Info().Str("file", file).Int("bytes", len(data)).Msg("stored embedded artwork")
	return name
}
