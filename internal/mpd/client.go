/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mpd talks to the local MPD instance. Status and playback control go
// through gompd on a short-lived connection per call; embedded pictures are
// read with a bounded readpicture loop of our own.
package mpd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	gompd "github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog"

	"github.com/friendsincode/snapmeta/internal/telemetry"
)

// Default timings.
const (
	DefaultTimeout        = 5 * time.Second
	DefaultPictureTimeout = 10 * time.Second

	maxLineBytes = 64 * 1024
)

var (
	// ErrBadGreeting is returned when the peer does not greet with "OK MPD".
	ErrBadGreeting = errors.New("mpd: unexpected greeting")
	// ErrLineTooLong is returned when a response line exceeds the line buffer.
	ErrLineTooLong = errors.New("mpd: response line too long")
)

// AckError is an "ACK [code@index] {command} message" response.
type AckError struct {
	Line string
}

func (e *AckError) Error() string {
	return "mpd: " + e.Line
}

// Attrs is a flat key/value view of a command response. Repeated keys keep
// the last value.
type Attrs map[string]string

// Client issues commands against one MPD instance.
type Client struct {
	addr           string
	timeout        time.Duration
	pictureTimeout time.Duration
	dialer         net.Dialer
	logger         zerolog.Logger

	mu        sync.Mutex
	connected bool
}

// NewClient creates a client for host:port.
func NewClient(host string, port int, logger zerolog.Logger) *Client {
	return &Client{
		addr:           net.JoinHostPort(host, strconv.Itoa(port)),
		timeout:        DefaultTimeout,
		pictureTimeout: DefaultPictureTimeout,
		dialer:         net.Dialer{Timeout: DefaultTimeout},
		logger:         logger.With().Str("component", "mpd").Logger(),
	}
}

// Addr returns the host:port this client talks to.
func (c *Client) Addr() string {
	return c.addr
}

// NowPlaying returns status and, when MPD is playing, the current song, both
// read over one connection. song is nil unless state is "play".
func (c *Client) NowPlaying(ctx context.Context) (status, song Attrs, err error) {
	err = c.do(ctx, func(conn *gompd.Client) error {
		st, err := conn.Status()
		if err != nil {
			telemetry.PlayerRequests.WithLabelValues("status", "error").Inc()
			return fmt.Errorf("status: %w", err)
		}
		telemetry.PlayerRequests.WithLabelValues("status", "ok").Inc()
		status = Attrs(st)
		if status["state"] != "play" {
			return nil
		}

		cur, err := conn.CurrentSong()
		if err != nil {
			telemetry.PlayerRequests.WithLabelValues("currentsong", "error").Inc()
			return fmt.Errorf("currentsong: %w", err)
		}
		telemetry.PlayerRequests.WithLabelValues("currentsong", "ok").Inc()
		song = Attrs(cur)
		return nil
	})
	c.trackConnection(err)
	if err != nil {
		return nil, nil, err
	}
	return status, song, nil
}

// TogglePlayback pauses a playing MPD or starts a stopped/paused one. It
// returns the new playing state.
func (c *Client) TogglePlayback(ctx context.Context) (bool, error) {
	var playing bool
	err := c.do(ctx, func(conn *gompd.Client) error {
		st, err := conn.Status()
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		if st["state"] == "play" {
			playing = false
			return conn.Pause(true)
		}
		playing = true
		return conn.Play(-1)
	})
	if err != nil {
		telemetry.PlayerRequests.WithLabelValues("toggle", "error").Inc()
		return false, err
	}

	telemetry.PlayerRequests.WithLabelValues("toggle", "ok").Inc()
	c.logger.Info().Bool("playing", playing).Msg("playback toggled")
	return playing, nil
}

// do runs fn on a fresh gompd connection. gompd has no deadlines, so a
// watchdog closes the connection once ctx or the client timeout expires,
// which fails the pending read and bounds the call.
func (c *Client) do(ctx context.Context, fn func(conn *gompd.Client) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		mu        sync.Mutex
		conn      *gompd.Client
		abandoned bool
	)
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("mpd %s: protocol failure: %v", c.addr, r)
			}
		}()

		cl, err := gompd.Dial("tcp", c.addr)
		if err != nil {
			done <- fmt.Errorf("connect mpd %s: %w", c.addr, err)
			return
		}
		mu.Lock()
		if abandoned {
			mu.Unlock()
			_ = cl.Close()
			done <- ctx.Err()
			return
		}
		conn = cl
		mu.Unlock()

		err = fn(cl)

		mu.Lock()
		if !abandoned {
			_ = cl.Close()
		}
		mu.Unlock()
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		mu.Lock()
		abandoned = true
		if conn != nil {
			_ = conn.Close()
		}
		mu.Unlock()
		return fmt.Errorf("mpd %s: %w", c.addr, ctx.Err())
	}
}

// trackConnection logs reachability transitions once per change.
func (c *Client) trackConnection(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case err == nil && !c.connected:
		c.connected = true
		c.logger.Info().Str("addr", c.addr).Msg("mpd connected")
	case err != nil && c.connected:
		c.connected = false
		c.logger.Warn().Err(err).Str("addr", c.addr).Msg("mpd connection lost")
	}
}
