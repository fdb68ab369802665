/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package hub tracks display subscriptions, fans now-playing updates out to
// them and executes their control commands.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/snapmeta/internal/events"
	"github.com/friendsincode/snapmeta/internal/metadata"
	"github.com/friendsincode/snapmeta/internal/snapcast"
	"github.com/friendsincode/snapmeta/internal/telemetry"
)

const (
	// MaxClientIDLen bounds the client id accepted on subscribe.
	MaxClientIDLen = 256

	// DefaultSendTimeout bounds one write to a display. Broadcasts write to
	// all displays at once, so a stalled one costs the poll loop at most
	// this long.
	DefaultSendTimeout = 2 * time.Second
)

// Mixer reads topology and sets client volumes on the stream server.
type Mixer interface {
	GetServerStatus(ctx context.Context) (*snapcast.Server, error)
	SetClientVolume(ctx context.Context, clientID string, percent int) error
}

// Player controls local playback.
type Player interface {
	TogglePlayback(ctx context.Context) (bool, error)
}

// Sender delivers one text message to a connection.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// Subscriber is a connection subscribed as a display client id.
type Subscriber struct {
	ID       string
	ClientID string

	sender   Sender
	streamID string // guarded by Hub.mu
}

// Hub owns the subscriber set and the last record published per stream.
type Hub struct {
	mixer          Mixer
	player         Player
	bus            *events.Bus
	logger         zerolog.Logger
	sendTimeout    time.Duration
	originPatterns []string

	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	zones  *snapcast.ZoneMap
	latest map[string]metadata.Record
}

// New creates a hub. player and bus may be nil.
func New(mixer Mixer, player Player, bus *events.Bus, logger zerolog.Logger) *Hub {
	return &Hub{
		mixer:          mixer,
		player:         player,
		bus:            bus,
		logger:         logger.With().Str("component", "hub").Logger(),
		sendTimeout:    DefaultSendTimeout,
		originPatterns: []string{"*"},
		subs:           make(map[*Subscriber]struct{}),
		zones:          snapcast.BuildZoneMap(nil),
		latest:         make(map[string]metadata.Record),
	}
}

// SetOriginPatterns limits which browser origins may open a websocket.
// Call it before serving.
func (h *Hub) SetOriginPatterns(patterns []string) {
	h.originPatterns = append([]string(nil), patterns...)
}

// Subscribe registers sender as clientID, replacing prev when non-nil. When
// the client resolves to a stream with a known record, that record is sent
// right away with the client's current volume.
func (h *Hub) Subscribe(ctx context.Context, sender Sender, prev *Subscriber, clientID string) *Subscriber {
	clientID = truncateRunes(clientID, MaxClientIDLen)
	sub := &Subscriber{ID: uuid.NewString(), ClientID: clientID, sender: sender}

	h.mu.Lock()
	if prev != nil {
		delete(h.subs, prev)
	}
	streamID, ok := h.zones.Resolve(clientID)
	if ok {
		sub.streamID = streamID
	}
	h.subs[sub] = struct{}{}
	rec, haveRecord := h.latest[streamID]
	h.updateGaugeLocked()
	h.mu.Unlock()

	h.logger.Info().Str("client_id", clientID).Str("stream_id", streamID).Msg("client subscribed")

	if !ok || !haveRecord {
		return sub
	}

	vol := snapcast.DefaultVolume
	if server, err := h.mixer.GetServerStatus(ctx); err != nil {
		h.logger.Debug().Err(err).Msg("volume lookup for initial update failed")
	} else {
		vol = server.FindVolume(clientID)
	}
	if err := h.send(ctx, sub, rec, vol); err != nil {
		h.logger.Debug().Err(err).Str("client_id", clientID).Msg("initial update failed")
		h.Remove(sub)
	}
	return sub
}

// Remove drops sub from the subscriber set. It is safe to call more than once.
func (h *Hub) Remove(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	delete(h.subs, sub)
	h.updateGaugeLocked()
	h.mu.Unlock()
}

// StreamOf returns the stream sub is currently attached to.
func (h *Hub) StreamOf(sub *Subscriber) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sub.streamID
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// UpdateZones installs a new client map and re-resolves every subscriber.
// A subscriber that no longer resolves keeps its previous stream.
func (h *Hub) UpdateZones(zones *snapcast.ZoneMap) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.zones = zones
	for sub := range h.subs {
		if streamID, ok := zones.Resolve(sub.ClientID); ok {
			sub.streamID = streamID
		}
	}
}

// Resolve maps a client id to a stream using the current zone map.
func (h *Hub) Resolve(clientID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.zones.Resolve(clientID)
}

// Broadcast records rec as the stream's latest state and sends it to every
// subscriber of the stream with that subscriber's own volume. Sends run
// concurrently. Subscribers whose send fails are removed; the rest still
// receive the update.
func (h *Hub) Broadcast(ctx context.Context, streamID string, rec metadata.Record, server *snapcast.Server) int {
	h.mu.Lock()
	h.latest[streamID] = rec
	var targets []*Subscriber
	for sub := range h.subs {
		if sub.streamID == streamID {
			targets = append(targets, sub)
		}
	}
	h.mu.Unlock()

	var (
		wg   sync.WaitGroup
		sent atomic.Int64
	)
	for _, sub := range targets {
		wg.Add(1)
		go func(sub *Subscriber) {
			defer wg.Done()
			if err := h.send(ctx, sub, rec, server.FindVolume(sub.ClientID)); err != nil {
				telemetry.Broadcasts.WithLabelValues("dropped").Inc()
				h.logger.Debug().Err(err).Str("client_id", sub.ClientID).Msg("dropping subscriber")
				h.Remove(sub)
				return
			}
			telemetry.Broadcasts.WithLabelValues("sent").Inc()
			sent.Add(1)
		}(sub)
	}
	wg.Wait()
	return int(sent.Load())
}

func (h *Hub) send(ctx context.Context, sub *Subscriber, rec metadata.Record, vol snapcast.Volume) error {
	data, err := json.Marshal(metadata.Update{Record: rec, Volume: vol.Percent, Muted: vol.Muted})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	defer cancel()
	return sub.sender.Send(ctx, data)
}

func (h *Hub) updateGaugeLocked() {
	telemetry.Subscribers.Set(float64(len(h.subs)))
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
