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

type artistSearch struct {
	Artists []struct {
		ID string `json:"id"`
	} `json:"artists"`
}

type artistDetail struct {
	Relations []struct {
		Type string `json:"type"`
		URL  struct {
			Resource string `json:"resource"`
		} `json:"url"`
	} `json:"relations"`
}

type wikidataEntities struct {
	Entities map[string]struct {
		Claims map[string][]struct {
			Mainsnak struct {
				Datavalue struct {
					Value any `json:"value"`
				} `json:"datavalue"`
			} `json:"mainsnak"`
		} `json:"claims"`
	} `json:"entities"`
}

// ArtistImage follows MusicBrainz artist → Wikidata → Commons image (P18)
// and returns a 500px Wikimedia thumbnail URL. Any missing hop caches a
// negative result for the artist.
func (r *Resolver) ArtistImage(ctx context.Context, artist string) string {
	if artist == "" {
		return ""
	}
	if v, ok := r.artists.Get(ctx, artist); ok {
		return v
	}

	ctx, span := telemetry.StartSpan(ctx, "artwork.artist_image")
	defer span.End()

	img := r.resolveArtistImage(ctx, artist)
	r.artists.Set(ctx, artist, img)
	if img == "" {
		telemetry.ArtworkLookups.WithLabelValues("wikidata", "none").Inc()
		return ""
	}
	telemetry.ArtworkLookups.WithLabelValues("wikidata", "found").Inc()
	r.logger.Info().Str("artist", artist).Msg("found artist image")
	return img
}

func (r *Resolver) resolveArtistImage(ctx context.Context, artist string) string {
	q := url.Values{"query": {fmt.Sprintf("artist:%q", artist)}, "fmt": {"json"}, "limit": {"1"}}
	endpoint := r.endpoints.MusicBrainz + "/ws/2/artist/?" + q.Encode()
	var search artistSearch
	if err := r.paced(ctx, endpoint, &search); err != nil {
		r.lookupFailed("musicbrainz", endpoint, err)
		return ""
	}
	if len(search.Artists) == 0 || search.Artists[0].ID == "" {
		return ""
	}

	endpoint = r.endpoints.MusicBrainz + "/ws/2/artist/" + url.PathEscape(search.Artists[0].ID) + "?inc=url-rels&fmt=json"
	var detail artistDetail
	if err := r.paced(ctx, endpoint, &detail); err != nil {
		r.lookupFailed("musicbrainz", endpoint, err)
		return ""
	}
	wikidataID := ""
	for _, rel := range detail.Relations {
		if rel.Type == "wikidata" && rel.URL.Resource != "" {
			res := strings.TrimRight(rel.URL.Resource, "/")
			wikidataID = res[strings.LastIndex(res, "/")+1:]
			break
		}
	}
	if wikidataID == "" {
		return ""
	}

	endpoint = r.endpoints.Wikidata + "/wiki/Special:EntityData/" + url.PathEscape(wikidataID) + ".json"
	var entities wikidataEntities
	if err := r.paced(ctx, endpoint, &entities); err != nil {
		r.lookupFailed("wikidata", endpoint, err)
		return ""
	}
	claims := entities.Entities[wikidataID].Claims["P18"]
	if len(claims) == 0 {
		return ""
	}
	image, _ := claims[0].Mainsnak.Datavalue.Value.(string)
	if image == "" {
		return ""
	}
	return r.wikimediaThumb(image)
}

// wikimediaThumb builds the Commons thumbnail URL for an image file name.
// Commons buckets files by the md5 of the underscored name.
func (r *Resolver) wikimediaThumb(image string) string {
	image = strings.ReplaceAll(image, " ", "_")
	h := Hash(image)
	quoted := quotePath(image)
	thumb := fmt.Sprintf("%s/%s/%s/%s/500px-%s", r.endpoints.Wikimedia, h[:1], h[:2], quoted, quoted)
	if strings.HasSuffix(strings.ToLower(image), ".svg") {
		thumb += ".png"
	}
	return thumb
}

// quotePath percent-encodes everything except unreserved characters and '/'.
func quotePath(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9',
			c == '-', c == '_', c == '.', c == '~', c == '/':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}
