/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package artwork

import (
	"context"

	"github.com/friendsincode/snapmeta/internal/metadata"
)

// RadioPlaceholder is the defaults asset shown for radio without a logo.
const RadioPlaceholder = "default-radio.png"

// URLBuilder turns stored file names into URLs reachable by displays.
type URLBuilder interface {
	ArtworkURL(filename string) string
	DefaultAssetURL(filename string) string
}

// Enricher fills in artwork and artist images on playing records.
type Enricher struct {
	resolver   *Resolver
	downloader *Downloader
	embedded   *Embedded
	urls       URLBuilder
}

// NewEnricher wires the artwork sources together. embedded may be nil when
// no MPD is configured.
func NewEnricher(resolver *Resolver, downloader *Downloader, embedded *Embedded, urls URLBuilder) *Enricher {
	return &Enricher{resolver: resolver, downloader: downloader, embedded: embedded, urls: urls}
}

// ResetFailedDownloads lets previously failed artwork URLs be retried.
func (e *Enricher) ResetFailedDownloads() {
	e.downloader.ClearFailed()
}

// Enrich resolves artwork for r in priority order: embedded MPD art for
// library files, the record's own artwork URL, a radio logo or album art
// lookup, then the radio placeholder. Artist images are skipped for radio.
func (e *Enricher) Enrich(ctx context.Context, r *metadata.Record) {
	if !r.Playing {
		return
	}

	radio := r.IsRadio()
	remote := r.Artwork

	if remote == "" && r.Source == metadata.SourceMPD && !radio && e.embedded != nil {
		if name := e.embedded.Fetch(ctx, r.File); name != "" {
			r.Artwork = e.urls.ArtworkURL(name)
		}
	}

	if remote == "" && r.Artwork == "" {
		switch {
		case radio && r.StationName != "":
			remote = e.resolver.RadioLogo(ctx, r.StationName, r.File)
		case r.Artist != "" && r.Album != "":
			remote = e.resolver.AlbumArt(ctx, r.Artist, r.Album)
		}
	}

	if remote != "" {
		r.Artwork = e.urls.ArtworkURL(e.downloader.Download(ctx, remote))
	}

	if r.Artwork == "" && radio && r.StationName != "" {
		if logo := e.resolver.RadioLogo(ctx, r.StationName, r.File); logo != "" {
			r.Artwork = e.urls.ArtworkURL(e.downloader.Download(ctx, logo))
		}
	}

	if r.Artwork == "" && radio {
		r.Artwork = e.urls.DefaultAssetURL(RadioPlaceholder)
	}

	if !radio && r.Artist != "" {
		if img := e.resolver.ArtistImage(ctx, r.Artist); img != "" {
			r.ArtistImage = img
		}
	}
}
