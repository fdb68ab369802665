/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package artwork

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/friendsincode/snapmeta/internal/telemetry"
)

type itunesSearch struct {
	ResultCount int `json:"resultCount"`
	Results     []struct {
		CollectionName string `json:"collectionName"`
		ArtistName     string `json:"artistName"`
		ArtworkURL100  string `json:"artworkUrl100"`
	} `json:"results"`
}

type releaseSearch struct {
	Releases []struct {
		ID string `json:"id"`
	} `json:"releases"`
}

// AlbumArt returns a cover image URL for artist/album, trying iTunes first
// and then MusicBrainz with the Cover Art Archive.
func (r *Resolver) AlbumArt(ctx context.Context, artist, album string) string {
	if artist == "" || album == "" {
		return ""
	}
	key := artist + "|" + album
	if v, ok := r.albums.Get(ctx, key); ok {
		return v
	}

	ctx, span := telemetry.StartSpan(ctx, "artwork.album")
	defer span.End()

	art := r.itunesArtwork(ctx, artist, album)
	if art == "" {
		art = r.coverArtArchive(ctx, artist, album)
	}
	r.albums.Set(ctx, key, art)
	if art != "" {
		r.logger.Info().Str("artist", artist).Str("album", album).Str("url", art).Msg("found album artwork")
	}
	return art
}

func (r *Resolver) itunesArtwork(ctx context.Context, artist, album string) string {
	q := url.Values{
		"term":   {artist + " " + album},
		"media":  {"music"},
		"entity": {"album"},
		"limit":  {"10"},
	}
	endpoint := r.endpoints.ITunes + "/search?" + q.Encode()

	var res itunesSearch
	if err := r.getJSON(ctx, endpoint, &res); err != nil {
		r.lookupFailed("itunes", endpoint, err)
		return ""
	}

	wantAlbum := strings.ToLower(strings.TrimSpace(album))
	wantArtist := strings.ToLower(strings.TrimSpace(artist))
	for _, item := range res.Results {
		name := strings.ToLower(strings.TrimSpace(item.CollectionName))
		albumOK := name == wantAlbum || strings.HasPrefix(name, wantAlbum+" (")
		artistOK := strings.ToLower(strings.TrimSpace(item.ArtistName)) == wantArtist
		if albumOK && artistOK && item.ArtworkURL100 != "" {
			telemetry.ArtworkLookups.WithLabelValues("itunes", "found").Inc()
			return strings.Replace(item.ArtworkURL100, "100x100", "600x600", 1)
		}
	}
	telemetry.ArtworkLookups.WithLabelValues("itunes", "none").Inc()
	return ""
}

func (r *Resolver) coverArtArchive(ctx context.Context, artist, album string) string {
	q := url.Values{
		"query": {fmt.Sprintf("artist:%q AND release:%q", artist, album)},
		"fmt":   {"json"},
		"limit": {"1"},
	}
	endpoint := r.endpoints.MusicBrainz + "/ws/2/release/?" + q.Encode()

	var res releaseSearch
	if err := r.paced(ctx, endpoint, &res); err != nil {
		r.lookupFailed("musicbrainz", endpoint, err)
		return ""
	}
	if len(res.Releases) == 0 || res.Releases[0].ID == "" {
		telemetry.ArtworkLookups.WithLabelValues("musicbrainz", "none").Inc()
		return ""
	}
	telemetry.ArtworkLookups.WithLabelValues("musicbrainz", "found").Inc()
	return r.endpoints.CoverArt + "/release/" + url.PathEscape(res.Releases[0].ID) + "/front-500"
}
