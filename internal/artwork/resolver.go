/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package artwork

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/friendsincode/snapmeta/internal/cache"
	"github.com/friendsincode/snapmeta/internal/telemetry"
)

// Defaults for external lookups.
const (
	DefaultAPITimeout       = 5 * time.Second
	DefaultMusicBrainzPause = 1100 * time.Millisecond

	maxAPIResponseBytes = 4 << 20
)

// Endpoints are the base URLs of the lookup services.
type Endpoints struct {
	RadioBrowser string
	ITunes       string
	MusicBrainz  string
	CoverArt     string
	Wikidata     string
	Wikimedia    string
}

// DefaultEndpoints returns the public service URLs.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		RadioBrowser: "https://de1.api.radio-browser.info",
		ITunes:       "https://itunes.apple.com",
		MusicBrainz:  "https://musicbrainz.org",
		CoverArt:     "https://coverartarchive.org",
		Wikidata:     "https://www.wikidata.org",
		Wikimedia:    "https://upload.wikimedia.org/wikipedia/commons/thumb",
	}
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	UserAgent string
	Timeout   time.Duration
	CacheSize int
	// Shared is an optional cross-process cache tier.
	Shared *cache.Shared
	// Endpoints overrides service URLs; zero fields keep the defaults.
	Endpoints Endpoints
	// MusicBrainzPause is the minimum gap between MusicBrainz/Wikidata hops.
	MusicBrainzPause time.Duration
}

// Resolver looks up artwork URLs. Every answer, including "nothing found",
// is cached per lookup key.
type Resolver struct {
	client    *http.Client
	userAgent string
	endpoints Endpoints
	pace      *rate.Limiter
	logger    zerolog.Logger

	albums  *cache.Lookup
	radios  *cache.Lookup
	artists *cache.Lookup
}

// NewResolver creates a resolver.
func NewResolver(opts ResolverOptions, logger zerolog.Logger) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultAPITimeout
	}
	if opts.MusicBrainzPause <= 0 {
		opts.MusicBrainzPause = DefaultMusicBrainzPause
	}

	def := DefaultEndpoints()
	ep := Endpoints{
		RadioBrowser: orDefault(opts.Endpoints.RadioBrowser, def.RadioBrowser),
		ITunes:       orDefault(opts.Endpoints.ITunes, def.ITunes),
		MusicBrainz:  orDefault(opts.Endpoints.MusicBrainz, def.MusicBrainz),
		CoverArt:     orDefault(opts.Endpoints.CoverArt, def.CoverArt),
		Wikidata:     orDefault(opts.Endpoints.Wikidata, def.Wikidata),
		Wikimedia:    orDefault(opts.Endpoints.Wikimedia, def.Wikimedia),
	}

	return &Resolver{
		client:    telemetry.HTTPClient(opts.Timeout),
		userAgent: opts.UserAgent,
		endpoints: ep,
		pace:      rate.NewLimiter(rate.Every(opts.MusicBrainzPause), 1),
		logger:    logger.With().Str("component", "artwork_resolver").Logger(),
		albums:    cache.NewLookup(cache.KindAlbumArt, opts.CacheSize, opts.Shared),
		radios:    cache.NewLookup(cache.KindRadioLogo, opts.CacheSize, opts.Shared),
		artists:   cache.NewLookup(cache.KindArtistIcon, opts.CacheSize, opts.Shared),
	}
}

var errStatus = errors.New("unexpected status")

// getJSON fetches url and decodes the body into v.
func (r *Resolver) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s", errStatus, resp.Status)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxAPIResponseBytes)).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// paced waits for the MusicBrainz/Wikidata limiter before fetching.
func (r *Resolver) paced(ctx context.Context, url string, v any) error {
	if err := r.pace.Wait(ctx); err != nil {
		return err
	}
	return r.getJSON(ctx, url, v)
}

func (r *Resolver) lookupFailed(provider, url string, err error) {
	telemetry.ArtworkLookups.WithLabelValues(provider, "error").Inc()
	r.logger.Debug().Err(err).Str("provider", provider).Str("url", url).Msg("lookup failed")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
