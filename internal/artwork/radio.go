/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package artwork

import (
	"context"
	"net/url"
	"strings"

	"github.com/friendsincode/snapmeta/internal/telemetry"
)

const (
	maxStationNameLen = 200
	streamDomainBonus = 10000
	radioBrowserLimit = "20"
)

type radioStation struct {
	Favicon     string `json:"favicon"`
	Votes       int    `json:"votes"`
	URL         string `json:"url"`
	URLResolved string `json:"url_resolved"`
}

// RadioLogo finds a station logo on radio-browser. Candidates are ranked by
// votes, with a large bonus for stations whose stream URL shares the
// playing stream's domain.
func (r *Resolver) RadioLogo(ctx context.Context, stationName, streamURL string) string {
	if stationName == "" || len(stationName) > maxStationNameLen {
		return ""
	}
	key := "radio|" + stationName
	if v, ok := r.radios.Get(ctx, key); ok {
		return v
	}

	ctx, span := telemetry.StartSpan(ctx, "artwork.radio_logo")
	defer span.End()

	q := url.Values{"limit": {radioBrowserLimit}, "order": {"votes"}, "reverse": {"true"}}
	endpoint := r.endpoints.RadioBrowser + "/json/stations/byname/" + url.PathEscape(cleanStationName(stationName)) + "?" + q.Encode()

	var stations []radioStation
	if err := r.getJSON(ctx, endpoint, &stations); err != nil {
		telemetry.RecordError(span, err)
		r.lookupFailed("radio_browser", endpoint, err)
		r.radios.Set(ctx, key, "")
		return ""
	}

	logo := bestStationLogo(stations, streamDomain(streamURL))
	r.radios.Set(ctx, key, logo)
	if logo == "" {
		telemetry.ArtworkLookups.WithLabelValues("radio_browser", "none").Inc()
		return ""
	}
	telemetry.ArtworkLookups.WithLabelValues("radio_browser", "found").Inc()
	r.logger.Info().Str("station", stationName).Str("logo", logo).Msg("found radio logo")
	return logo
}

func bestStationLogo(stations []radioStation, domain string) string {
	best, bestScore := "", -1
	for _, s := range stations {
		if s.Favicon == "" {
			continue
		}
		score := s.Votes
		entryURL := s.URLResolved
		if entryURL == "" {
			entryURL = s.URL
		}
		if domain != "" && strings.Contains(entryURL, domain) {
			score += streamDomainBonus
		}
		if score > bestScore {
			best, bestScore = s.Favicon, score
		}
	}
	return best
}

// cleanStationName drops decorations such as "(...)", "[...]" and " - slogan"
// as long as at least three characters remain.
func cleanStationName(name string) string {
	for _, sep := range []string{"(", "[", "-"} {
		before, _, found := strings.Cut(name, sep)
		if !found {
			continue
		}
		if candidate := strings.TrimSpace(before); len(candidate) >= 3 {
			name = candidate
		}
	}
	return name
}

// streamDomain returns the last two labels of the stream URL's host.
func streamDomain(streamURL string) string {
	if streamURL == "" {
		return ""
	}
	u, err := url.Parse(streamURL)
	if err != nil {
		return ""
	}
	labels := strings.Split(u.Hostname(), ".")
	if len(labels) > 2 {
		labels = labels[len(labels)-2:]
	}
	return strings.Join(labels, ".")
}
