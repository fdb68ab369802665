/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package nowplaying runs the poll loop that turns stream-server topology
// and player state into enriched per-stream records.
package nowplaying

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/snapmeta/internal/events"
	"github.com/friendsincode/snapmeta/internal/metadata"
	"github.com/friendsincode/snapmeta/internal/mpd"
	"github.com/friendsincode/snapmeta/internal/snapcast"
	"github.com/friendsincode/snapmeta/internal/storage"
	"github.com/friendsincode/snapmeta/internal/telemetry"
	"github.com/friendsincode/snapmeta/internal/workers"
)

// Default cadences.
const (
	DefaultInterval = 2 * time.Second
	DefaultBackoff  = 5 * time.Second
)

// Topology reads the stream server state.
type Topology interface {
	GetServerStatus(ctx context.Context) (*snapcast.Server, error)
}

// Player answers the deep query for the MPD-fed stream.
type Player interface {
	NowPlaying(ctx context.Context) (status, song mpd.Attrs, err error)
}

// Enricher adds artwork to playing records.
type Enricher interface {
	Enrich(ctx context.Context, r *metadata.Record)
	ResetFailedDownloads()
}

// Broadcaster delivers records to subscribed displays.
type Broadcaster interface {
	UpdateZones(zones *snapcast.ZoneMap)
	Broadcast(ctx context.Context, streamID string, rec metadata.Record, server *snapcast.Server) int
}

// Options tunes the poll loop.
type Options struct {
	Interval time.Duration
	Backoff  time.Duration
	// MPDStreamID names the stream whose record comes from the player.
	MPDStreamID string
	// SnapHost replaces the "snapcast" host in stream artwork URLs.
	SnapHost string
}

// Deps are the collaborators of a Service. Player, Bus and Files may be nil.
type Deps struct {
	Topology    Topology
	Player      Player
	Enricher    Enricher
	Broadcaster Broadcaster
	Pool        *workers.Pool
	Files       *storage.Filesystem
	Bus         *events.Bus
}

// Service owns the current record of every stream.
type Service struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger

	mu       sync.RWMutex
	current  map[string]metadata.Record
	order    []string
	lastPoll time.Time
}

// New creates a poll service.
func New(deps Deps, opts Options, logger zerolog.Logger) *Service {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	return &Service{
		deps:    deps,
		opts:    opts,
		logger:  logger.With().Str("component", "nowplaying").Logger(),
		current: make(map[string]metadata.Record),
	}
}

// Run polls until ctx is cancelled. A failed topology fetch waits Backoff
// instead of Interval before the next attempt.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.opts.Interval).Msg("poll loop started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("poll loop stopped")
			return nil
		case <-timer.C:
		}

		wait := s.opts.Interval
		if err := s.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.logger.Warn().Err(err).Dur("retry_in", s.opts.Backoff).Msg("poll failed")
			wait = s.opts.Backoff
		}
		timer.Reset(wait)
	}
}

// Poll runs one cycle over every stream in the topology.
func (s *Service) Poll(ctx context.Context) error {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "nowplaying.poll")
	defer span.End()

	server, err := workers.Call(ctx, s.deps.Pool, s.deps.Topology.GetServerStatus)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.PollCycles.WithLabelValues("error").Inc()
		return fmt.Errorf("fetch topology: %w", err)
	}

	s.deps.Broadcaster.UpdateZones(snapcast.BuildZoneMap(server))

	for _, stream := range server.Streams {
		if stream.ID == "" {
			continue
		}
		if err := s.processStream(ctx, server, stream); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn().Err(err).Str("stream_id", stream.ID).Msg("stream update failed")
		}
	}

	s.mu.Lock()
	s.lastPoll = time.Now()
	s.mu.Unlock()
	telemetry.PollCycles.WithLabelValues("ok").Inc()
	telemetry.PollDuration.Observe(time.Since(start).Seconds())
	return nil
}

func (s *Service) processStream(ctx context.Context, server *snapcast.Server, stream snapcast.Stream) error {
	rec := metadata.FromSnapcast(stream, s.opts.SnapHost)

	if s.deps.Player != nil && stream.ID == s.opts.MPDStreamID {
		if deep, ok := s.queryPlayer(ctx, stream.ID); ok {
			rec = deep
		}
	}

	err := s.deps.Pool.Do(ctx, func(ctx context.Context) error {
		s.deps.Enricher.Enrich(ctx, &rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("enrich: %w", err)
	}

	s.mu.RLock()
	prev, known := s.current[stream.ID]
	s.mu.RUnlock()

	changed := !known || metadata.Changed(rec, prev)
	if !changed && !metadata.VolatileChanged(rec, prev) {
		return nil
	}

	if changed && metadata.TrackChanged(rec, prev) {
		s.deps.Enricher.ResetFailedDownloads()
		telemetry.TrackChanges.WithLabelValues(stream.ID).Inc()
		s.publish(events.EventTrackChange, stream.ID, rec)
	}
	if changed {
		s.logger.Info().Str("stream_id", stream.ID).Str("title", orNA(rec.Title)).Str("artist", orNA(rec.Artist)).Msg("updated")
	}

	s.store(stream.ID, rec)
	s.persist(ctx, stream.ID, rec)
	s.deps.Broadcaster.Broadcast(ctx, stream.ID, rec, server)
	s.publish(events.EventNowPlaying, stream.ID, rec)
	return nil
}

// queryPlayer returns the player's record when it is playing.
func (s *Service) queryPlayer(ctx context.Context, streamID string) (metadata.Record, bool) {
	var status, song mpd.Attrs
	err := s.deps.Pool.Do(ctx, func(ctx context.Context) error {
		var err error
		status, song, err = s.deps.Player.NowPlaying(ctx)
		return err
	})
	if err != nil {
		s.logger.Debug().Err(err).Msg("player query failed")
		return metadata.Record{}, false
	}
	rec := metadata.FromMPD(streamID, status, song)
	return rec, rec.Playing
}

func (s *Service) store(streamID string, rec metadata.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.current[streamID]; !ok {
		s.order = append(s.order, streamID)
	}
	s.current[streamID] = rec
}

// persist writes metadata_{stream}.json atomically.
func (s *Service) persist(ctx context.Context, streamID string, rec metadata.Record) {
	if s.deps.Files == nil {
		return
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		s.logger.Error().Err(err).Str("stream_id", streamID).Msg("encode metadata")
		return
	}
	if err := s.deps.Files.Put(ctx, MetadataFileName(streamID), data); err != nil {
		s.logger.Error().Err(err).Str("stream_id", streamID).Msg("failed to write metadata")
	}
}

func (s *Service) publish(eventType events.EventType, streamID string, rec metadata.Record) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(eventType, events.Payload{
		events.KeyStreamID: streamID,
		events.KeyRecord:   rec,
	})
}

// MetadataFileName is the per-stream snapshot written to the artwork dir.
func MetadataFileName(streamID string) string {
	return "metadata_" + streamID + ".json"
}

// Current returns the record last published for streamID.
func (s *Service) Current(streamID string) (metadata.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.current[streamID]
	return rec, ok
}

// Default returns the first playing stream's record, or the first known
// stream's record when none is playing.
func (s *Service) Default() (metadata.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		if rec := s.current[id]; rec.Playing {
			return rec, true
		}
	}
	if len(s.order) == 0 {
		return metadata.Record{}, false
	}
	return s.current[s.order[0]], true
}

// Streams returns the known stream ids in first-seen order.
func (s *Service) Streams() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// LastPoll returns the completion time of the last successful cycle.
func (s *Service) LastPoll() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPoll
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
