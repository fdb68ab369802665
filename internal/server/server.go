/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/snapmeta/internal/artwork"
	"github.com/friendsincode/snapmeta/internal/cache"
	"github.com/friendsincode/snapmeta/internal/config"
	"github.com/friendsincode/snapmeta/internal/eventbus"
	"github.com/friendsincode/snapmeta/internal/events"
	"github.com/friendsincode/snapmeta/internal/hub"
	"github.com/friendsincode/snapmeta/internal/mpd"
	"github.com/friendsincode/snapmeta/internal/nowplaying"
	"github.com/friendsincode/snapmeta/internal/snapcast"
	"github.com/friendsincode/snapmeta/internal/storage"
	"github.com/friendsincode/snapmeta/internal/workers"
)

const shutdownTimeout = 10 * time.Second

// Server bundles the HTTP surface, the websocket listener and the poll loop.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	wsServer   *http.Server
	closers    []func() error

	bus    *events.Bus
	hub    *hub.Hub
	poller *nowplaying.Service
	bridge *eventbus.Bridge
}

// New constructs the server and wires dependencies.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		bus:    events.NewBus(),
	}
	if err := srv.initDependencies(ctx); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.router = newRouter(routerDeps{
		ArtworkDir:     cfg.ArtworkDir,
		DefaultsDir:    cfg.DefaultsDir,
		Records:        srv.poller,
		Subscribers:    srv.hub,
		MetricsEnabled: cfg.MetricsEnabled,
		Logger:         logger,
	})

	srv.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.wsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.WSPort),
		Handler:           srv.hub,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return srv, nil
}

func (s *Server) initDependencies(ctx context.Context) error {
	cfg := s.cfg

	files, err := storage.NewFilesystem(cfg.ArtworkDir, s.logger)
	if err != nil {
		return fmt.Errorf("artwork dir: %w", err)
	}
	if err := files.CheckAccess(); err != nil {
		return fmt.Errorf("artwork dir: %w", err)
	}

	var mirror storage.ObjectStore
	if cfg.S3Bucket != "" {
		s3, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Prefix:          cfg.S3Prefix,
			UsePathStyle:    cfg.S3UsePathStyle,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("artwork mirror: %w", err)
		}
		mirror = s3
	}

	store := artwork.NewStore(files, mirror, s.logger)
	if n, err := store.Sweep(); err != nil {
		s.logger.Warn().Err(err).Msg("startup sweep incomplete")
	} else if n > 0 {
		s.logger.Info().Int("files", n).Msg("cleared stale files")
	}

	var shared *cache.Shared
	if cfg.RedisAddr != "" {
		shared = cache.NewShared(cache.Config{
			RedisAddr:      cfg.RedisAddr,
			RedisPassword:  cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			TTL:            cfg.SharedCacheTTL,
			DisableOnError: true,
		}, s.logger)
		s.DeferClose(shared.Close)
	}

	pool, err := workers.New(cfg.WorkerPoolSize, s.logger)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { pool.Close(); return nil })

	snap := snapcast.NewClient(cfg.SnapserverHost, cfg.SnapserverPort, snapcast.Options{}, s.logger)
	s.DeferClose(snap.Close)
	player := mpd.NewClient(cfg.MPDHost, cfg.MPDPort, s.logger)

	resolver := artwork.NewResolver(artwork.ResolverOptions{
		UserAgent: cfg.UserAgent,
		CacheSize: cfg.CacheSize,
		Shared:    shared,
	}, s.logger)
	downloader := artwork.NewDownloader(store, artwork.DownloaderOptions{
		UserAgent:       cfg.UserAgent,
		TrustedHost:     cfg.SnapserverHost,
		FailedCacheSize: cfg.CacheSize,
	}, s.logger)
	enricher := artwork.NewEnricher(resolver, downloader, artwork.NewEmbedded(player, store, s.logger), cfg)

	s.hub = hub.New(snap, player, s.bus, s.logger)
	s.hub.SetOriginPatterns(cfg.WSOriginPatterns)
	s.poller = nowplaying.New(nowplaying.Deps{
		Topology:    snap,
		Player:      player,
		Enricher:    enricher,
		Broadcaster: s.hub,
		Pool:        pool,
		Files:       files,
		Bus:         s.bus,
	}, nowplaying.Options{
		Interval:    cfg.PollInterval,
		MPDStreamID: cfg.MPDStreamID,
		SnapHost:    cfg.SnapserverHost,
	}, s.logger)

	if cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Subject = cfg.NATSSubject
		nc, err := eventbus.Connect(natsCfg, s.logger)
		if err != nil {
			// Fan-out is optional; keep serving displays without it.
			s.logger.Warn().Err(err).Msg("nats unavailable, now-playing fan-out disabled")
		} else {
			s.DeferClose(func() error { nc.Close(); return nil })
			s.bridge = eventbus.NewBridge(s.bus, nc, natsCfg.Subject, s.logger)
		}
	}
	return nil
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP and websocket traffic and polls until ctx is cancelled,
// then shuts the listeners down.
func (s *Server) Run(ctx context.Context) error {
	s.logStartup(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.poller.Run(ctx) })
	if s.bridge != nil {
		g.Go(func() error { s.bridge.Run(ctx); return nil })
	}
	for _, hs := range []*http.Server{s.httpServer, s.wsServer} {
		hs := hs
		g.Go(func() error {
			s.logger.Info().Str("addr", hs.Addr).Msg("listening")
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", hs.Addr, err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

func (s *Server) logStartup(ctx context.Context) {
	cfg := s.cfg
	s.logger.Info().
		Str("snapserver", net.JoinHostPort(cfg.SnapserverHost, fmt.Sprint(cfg.SnapserverPort))).
		Str("mpd", net.JoinHostPort(cfg.MPDHost, fmt.Sprint(cfg.MPDPort))).
		Str("external_host", cfg.ExternalHost).
		Int("http_port", cfg.HTTPPort).
		Int("ws_port", cfg.WSPort).
		Str("artwork_dir", cfg.ArtworkDir).
		Msg("snapmeta starting")

	if resolvesToLoopback(ctx, cfg.ExternalHost, net.DefaultResolver.LookupNetIP) {
		s.logger.Warn().Str("external_host", cfg.ExternalHost).
			Msg("external host resolves to loopback; set SNAPMETA_EXTERNAL_HOST if artwork fails on clients")
	}
}

type lookupNetIP func(ctx context.Context, network, host string) ([]netip.Addr, error)

// resolvesToLoopback reports whether host's first IPv4 address is loopback.
// Lookup failures report false.
func resolvesToLoopback(ctx context.Context, host string, lookup lookupNetIP) bool {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().IsLoopback()
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	addrs, err := lookup(ctx, "ip4", host)
	if err != nil || len(addrs) == 0 {
		return false
	}
	return addrs[0].Unmap().IsLoopback()
}

// Close releases resources in reverse order of acquisition.
func (s *Server) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers fn to run on Close.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}
