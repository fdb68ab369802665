/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package artwork

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/snapmeta/internal/cache"
	"github.com/friendsincode/snapmeta/internal/telemetry"
)

// Download limits.
const (
	DefaultMaxDownloadBytes = 10_000_000
	DefaultDownloadTimeout  = 15 * time.Second
	DefaultReadTimeout      = 5 * time.Second

	maxRedirects = 5
)

var (
	// ErrBlockedAddress is returned when a host resolves to an internal address.
	ErrBlockedAddress = errors.New("artwork: address not allowed")
	// ErrUnsupportedURL is returned for non-http(s) or host-less URLs.
	ErrUnsupportedURL = errors.New("artwork: unsupported url")
	// ErrTooLarge is returned when a body exceeds the download cap.
	ErrTooLarge = errors.New("artwork: image too large")
	// ErrEmptyImage is returned for empty response bodies.
	ErrEmptyImage = errors.New("artwork: empty image")
)

// LookupFunc resolves a host name to addresses.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

// DownloaderOptions configures a Downloader.
type DownloaderOptions struct {
	UserAgent string
	// TrustedHost may resolve to internal addresses (the stream server).
	TrustedHost string
	MaxBytes    int64
	Timeout     time.Duration
	ReadTimeout time.Duration
	// FailedCacheSize bounds the set of URLs that are not retried.
	FailedCacheSize int
	// Lookup overrides DNS resolution.
	Lookup LookupFunc
}

// Downloader fetches external artwork into the Store. Every connection is
// made to an address that was checked against internal ranges at dial
// time, so redirects and DNS rebinding cannot reach internal services.
type Downloader struct {
	client *http.Client
	store  *Store
	failed *cache.Bounded[struct{}]
	opts   DownloaderOptions
	dialer net.Dialer
	logger zerolog.Logger
}

// NewDownloader creates a downloader writing into store.
func NewDownloader(store *Store, opts DownloaderOptions, logger zerolog.Logger) *Downloader {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxDownloadBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDownloadTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.Lookup == nil {
		opts.Lookup = func(ctx context.Context, host string) ([]netip.Addr, error) {
			return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		}
	}

	d := &Downloader{
		store:  store,
		failed: cache.NewBounded[struct{}]("failed_downloads", opts.FailedCacheSize),
		opts:   opts,
		dialer: net.Dialer{Timeout: opts.ReadTimeout},
		logger: logger.With().Str("component", "artwork_download").Logger(),
	}

	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           d.dialContext,
		TLSHandshakeTimeout:   opts.ReadTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		MaxIdleConns:          8,
		IdleConnTimeout:       30 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	d.client = &http.Client{
		Timeout:   opts.Timeout,
		Transport: telemetry.InstrumentTransport(transport),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("%w: redirect to %s", ErrUnsupportedURL, req.URL.Scheme)
			}
			return nil
		},
	}
	return d
}

// Download stores the image at rawURL and returns its file name, or "" when
// the URL failed now or earlier.
func (d *Downloader) Download(ctx context.Context, rawURL string) string {
	if rawURL == "" || d.failed.Contains(rawURL) {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		d.markFailed(rawURL, "rejected", fmt.Errorf("%w: %q", ErrUnsupportedURL, rawURL))
		return ""
	}

	hash := Hash(rawURL)
	if name, ok := d.store.Find(hash); ok {
		telemetry.ArtworkDownloads.WithLabelValues("cached").Inc()
		return name
	}

	ctx, span := telemetry.StartSpan(ctx, "artwork.download")
	defer span.End()

	data, err := d.fetch(ctx, rawURL)
	if err != nil {
		telemetry.RecordError(span, err)
		result := "error"
		switch {
		case errors.Is(err, ErrBlockedAddress):
			result = "blocked"
		case errors.Is(err, ErrTooLarge):
			result = "too_large"
		}
		d.markFailed(rawURL, result, err)
		d.store.Discard(hash)
		return ""
	}

	name, err := d.store.Save(ctx, hash, data)
	if err != nil {
		d.markFailed(rawURL, "error", err)
		d.store.Discard(hash)
		return ""
	}
	telemetry.ArtworkDownloads.WithLabelValues("ok").Inc()
	d.logger.Info().Str("file", name).Int("bytes", len(data)).Msg("artwork downloaded")
	return name
}

// ClearFailed forgets failed URLs so they are retried.
func (d *Downloader) ClearFailed() {
	d.failed.Clear()
}

// Failed reports whether rawURL is currently marked as failed.
func (d *Downloader) Failed(rawURL string) bool {
	return d.failed.Contains(rawURL)
}

func (d *Downloader) markFailed(rawURL, result string, err error) {
	d.failed.Set(rawURL, struct{}{})
	telemetry.ArtworkDownloads.WithLabelValues(result).Inc()
	d.logger.Warn().Err(err).Str("url", rawURL).Msg("artwork download failed")
}

func (d *Downloader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if d.opts.UserAgent != "" {
		req.Header.Set("User-Agent", d.opts.UserAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > d.opts.MaxBytes {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	return data, nil
}

// dialContext resolves the host once, rejects internal addresses unless the
// host is trusted, and connects to the checked address.
func (d *Downloader) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	var addrs []netip.Addr
	if ip, err := netip.ParseAddr(host); err == nil {
		addrs = []netip.Addr{ip}
	} else {
		addrs, err = d.opts.Lookup(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", host, err)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses", host)
	}

	if !d.trusted(host) {
		for _, a := range addrs {
			if Restricted(a) {
				return nil, fmt.Errorf("%w: %s resolves to %s", ErrBlockedAddress, host, a)
			}
		}
	}

	var lastErr error
	for _, a := range addrs {
		conn, err := d.dialer.DialContext(ctx, network, net.JoinHostPort(a.Unmap().String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (d *Downloader) trusted(host string) bool {
	return d.opts.TrustedHost != "" && host == d.opts.TrustedHost
}

var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("100::/64"),
	netip.MustParsePrefix("2001:db8::/32"),
	// NAT64 and 6to4 embed IPv4 addresses, private ones included.
	netip.MustParsePrefix("64:ff9b::/96"),
	netip.MustParsePrefix("64:ff9b:1::/48"),
	netip.MustParsePrefix("2002::/16"),
}

// Restricted reports private, loopback, link-local, multicast, reserved and
// unspecified addresses.
func Restricted(a netip.Addr) bool {
	a = a.Unmap()
	if !a.IsValid() || a.IsPrivate() || a.IsLoopback() || a.IsUnspecified() ||
		a.IsLinkLocalUnicast() || a.IsLinkLocalMulticast() ||
		a.IsInterfaceLocalMulticast() || a.IsMulticast() {
		return true
	}
	for _, p := range reservedPrefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}
