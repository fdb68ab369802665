/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus forwards in-process now-playing, track change and volume
// events to NATS so that other services can follow streams without a
// websocket.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/snapmeta/internal/events"
	"github.com/friendsincode/snapmeta/internal/telemetry"
)

// Publisher sends raw messages to a subject.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Subject:       "snapmeta.nowplaying",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Connect opens a NATS connection with reconnect logging.
func Connect(cfg NATSConfig, logger zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("snapmeta"),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats connected")
	return nc, nil
}

// natsMessage represents a message published to NATS.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	StreamID  string           `json:"stream_id"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"` // For deduplication
}

// Bridge republishes bus events on "<subject>.<event>.<stream_id>".
type Bridge struct {
	bus     *events.Bus
	pub     Publisher
	subject string
	nodeID  string
	logger  zerolog.Logger
}

// NewBridge creates a bridge from bus to pub.
func NewBridge(bus *events.Bus, pub Publisher, subject string, logger zerolog.Logger) *Bridge {
	return &Bridge{
		bus:     bus,
		pub:     pub,
		subject: subject,
		nodeID:  generateNodeID(),
		logger:  logger.With().Str("component", "eventbus").Logger(),
	}
}

// Run forwards events until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	nowPlaying := b.bus.Subscribe(events.EventNowPlaying)
	trackChange := b.bus.Subscribe(events.EventTrackChange)
	volume := b.bus.Subscribe(events.EventVolume)
	defer b.bus.Unsubscribe(events.EventNowPlaying, nowPlaying)
	defer b.bus.Unsubscribe(events.EventTrackChange, trackChange)
	defer b.bus.Unsubscribe(events.EventVolume, volume)

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-nowPlaying:
			b.forward(events.EventNowPlaying, p)
		case p := <-trackChange:
			b.forward(events.EventTrackChange, p)
		case p := <-volume:
			b.forward(events.EventVolume, p)
		}
	}
}

func (b *Bridge) forward(eventType events.EventType, payload events.Payload) {
	streamID := payload.StreamID()
	data, err := json.Marshal(natsMessage{
		EventType: eventType,
		StreamID:  streamID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    b.nodeID,
		MessageID: uuid.NewString(),
	})
	if err != nil {
		telemetry.EventsPublished.WithLabelValues("error").Inc()
		b.logger.Error().Err(err).Str("stream_id", streamID).Msg("marshal event")
		return
	}

	subject := Subject(b.subject, eventType, streamID)
	if err := b.pub.Publish(subject, data); err != nil {
		telemetry.EventsPublished.WithLabelValues("error").Inc()
		b.logger.Warn().Err(err).Str("subject", subject).Msg("publish event")
		return
	}
	telemetry.EventsPublished.WithLabelValues("ok").Inc()
}

// Subject builds the subject for an event, replacing characters that NATS
// treats as token separators or wildcards.
func Subject(base string, eventType events.EventType, streamID string) string {
	token := func(s string) string {
		if s == "" {
			return "_"
		}
		return strings.Map(func(r rune) rune {
			switch r {
			case '.', '*', '>', ' ', '\t', '\r', '\n':
				return '_'
			}
			return r
		}, s)
	}
	return base + "." + token(string(eventType)) + "." + token(streamID)
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "snapmeta"
	}
	return host + "-" + uuid.NewString()[:8]
}
