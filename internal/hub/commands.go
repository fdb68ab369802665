/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/friendsincode/snapmeta/internal/events"
	"github.com/friendsincode/snapmeta/internal/telemetry"
)

// Control commands accepted from subscribed displays.
const (
	CmdTogglePlay = "toggle_play"
	CmdVolume     = "volume"
	CmdSeek       = "seek"
)

var (
	// ErrNotSubscribed is returned for commands sent before subscribing.
	ErrNotSubscribed = errors.New("hub: command requires a subscription")
	// ErrNoPlayer is returned for toggle_play when no player is configured.
	ErrNoPlayer = errors.New("hub: no player configured")
	// ErrUnknownCommand is returned for unrecognized cmd values.
	ErrUnknownCommand = errors.New("hub: unknown command")
)

// message is one inbound display message. Either field may be absent.
type message struct {
	Subscribe json.RawMessage `json:"subscribe"`
	Cmd       *string         `json:"cmd"`
	Delta     json.RawMessage `json:"delta"`
}

// Session is the per-connection state driven by Handle.
type Session struct {
	sender Sender
	sub    *Subscriber
}

// NewSession creates a session writing through sender.
func NewSession(sender Sender) *Session {
	return &Session{sender: sender}
}

// Subscriber returns the session's current subscription, or nil.
func (s *Session) Subscriber() *Subscriber {
	return s.sub
}

// Handle processes one inbound message for sess. Malformed messages are
// ignored; command errors are logged and returned.
func (h *Hub) Handle(ctx context.Context, sess *Session, data []byte) error {
	var msg message
	if len(data) == 0 || json.Unmarshal(data, &msg) != nil {
		return nil
	}

	if msg.Subscribe != nil {
		sess.sub = h.Subscribe(ctx, sess.sender, sess.sub, subscribeID(msg.Subscribe))
		return nil
	}
	if msg.Cmd == nil {
		return nil
	}
	if sess.sub == nil {
		return ErrNotSubscribed
	}

	err := h.Command(ctx, sess.sub.ClientID, *msg.Cmd, msg.Delta)
	if err != nil {
		h.logger.Warn().Err(err).Str("client_id", sess.sub.ClientID).Str("cmd", *msg.Cmd).Msg("control command failed")
	}
	return err
}

// Close drops the session's subscription.
func (h *Hub) Close(sess *Session) {
	h.Remove(sess.sub)
	sess.sub = nil
}

// Command runs a control command on behalf of clientID.
func (h *Hub) Command(ctx context.Context, clientID, cmd string, delta json.RawMessage) error {
	h.logger.Info().Str("client_id", clientID).Str("cmd", cmd).Msg("control command")

	switch cmd {
	case CmdTogglePlay:
		if h.player == nil {
			return ErrNoPlayer
		}
		_, err := h.player.TogglePlayback(ctx)
		return err

	case CmdVolume:
		d, ok := numericDelta(delta)
		if !ok {
			return nil
		}
		return h.adjustVolume(ctx, clientID, d)

	case CmdSeek:
		h.logger.Debug().RawJSON("delta", orNull(delta)).Msg("seek ignored")
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
}

func (h *Hub) adjustVolume(ctx context.Context, clientID string, delta float64) error {
	server, err := h.mixer.GetServerStatus(ctx)
	if err != nil {
		telemetry.VolumeCommands.WithLabelValues("error").Inc()
		return fmt.Errorf("volume: %w", err)
	}
	current := server.FindVolume(clientID).Percent
	percent := int(min(100, max(0, float64(current)+delta)))

	if err := h.mixer.SetClientVolume(ctx, clientID, percent); err != nil {
		telemetry.VolumeCommands.WithLabelValues("error").Inc()
		return fmt.Errorf("volume: %w", err)
	}
	telemetry.VolumeCommands.WithLabelValues("ok").Inc()

	if h.bus != nil {
		streamID, _ := h.Resolve(clientID)
		h.bus.Publish(events.EventVolume, events.Payload{
			events.KeyStreamID: streamID,
			events.KeyClientID: clientID,
			events.KeyPercent:  percent,
		})
	}
	return nil
}

// numericDelta accepts a non-zero JSON number.
func numericDelta(raw json.RawMessage) (float64, bool) {
	var d float64
	if len(raw) == 0 || json.Unmarshal(raw, &d) != nil || d == 0 {
		return 0, false
	}
	return d, true
}

// subscribeID renders the subscribe value as text; JSON strings are
// unquoted, other values keep their literal form.
func subscribeID(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func orNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
