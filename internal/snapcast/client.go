/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package snapcast talks JSON-RPC 2.0 to a Snapserver control port over a
// single persistent TCP connection.
package snapcast

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/snapmeta/internal/telemetry"
)

// Default timings.
const (
	DefaultDialTimeout = 5 * time.Second
	DefaultIOTimeout   = 10 * time.Second
	DefaultStaleAfter  = 30 * time.Second

	// maxLineBytes bounds a single framed message; full status on a large
	// installation runs to a few hundred KB.
	maxLineBytes = 8 << 20
)

var (
	// ErrEmptyStatus is returned when Server.GetStatus carries no server object.
	ErrEmptyStatus = errors.New("snapcast: empty server status")
	// ErrClientNotFound is returned when no client matches an identifier.
	ErrClientNotFound = errors.New("snapcast: client not found")
	// ErrNoResult is returned when a response carries neither result nor error.
	ErrNoResult = errors.New("snapcast: response has no result")
	// ErrConnectionClosed is returned when the server closes the stream mid-request.
	ErrConnectionClosed = errors.New("snapcast: connection closed")
)

// RPCError is a JSON-RPC error object returned by the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("snapcast: rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	ID      uint64 `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcEnvelope struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Options tunes connection timing. Zero values take the defaults.
type Options struct {
	DialTimeout time.Duration
	IOTimeout   time.Duration
	StaleAfter  time.Duration
}

// RPCClient holds at most one connection to the Snapserver. All requests are
// serialized: one request/response exchange is in flight at a time.
type RPCClient struct {
	addr   string
	opts   Options
	logger zerolog.Logger
	dialer net.Dialer

	mu           sync.Mutex
	conn         net.Conn
	scanner      *bufio.Scanner
	lastResponse time.Time
	nextID       uint64
}

// NewClient creates a client for host:port. No connection is made until the
// first request.
func NewClient(host string, port int, opts Options, logger zerolog.Logger) *RPCClient {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = DefaultIOTimeout
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	return &RPCClient{
		addr:   net.JoinHostPort(host, strconv.Itoa(port)),
		opts:   opts,
		logger: logger.With().Str("component", "snapcast").Logger(),
		dialer: net.Dialer{Timeout: opts.DialTimeout},
	}
}

// Addr returns the host:port this client talks to.
func (c *RPCClient) Addr() string {
	return c.addr
}

// Close drops the connection, if any.
func (c *RPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

// GetServerStatus fetches the full topology. A failed, malformed or empty
// first attempt is retried once on a fresh connection.
func (c *RPCClient) GetServerStatus(ctx context.Context) (*Server, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	server, err := c.fetchStatusLocked(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("status request failed, reconnecting")
		_ = c.closeLocked()
		server, err = c.fetchStatusLocked(ctx)
	}
	if err != nil {
		_ = c.closeLocked()
		telemetry.RPCRequests.WithLabelValues("Server.GetStatus", "error").Inc()
		return nil, err
	}
	telemetry.RPCRequests.WithLabelValues("Server.GetStatus", "ok").Inc()
	return server, nil
}

// SetClientVolume sets the volume of the client matching clientID, clamped to
// [0,100] and unmuted.
func (c *RPCClient) SetClientVolume(ctx context.Context, clientID string, percent int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	server, err := c.fetchStatusLocked(ctx)
	if err != nil {
		_ = c.closeLocked()
		telemetry.RPCRequests.WithLabelValues("Client.SetVolume", "error").Inc()
		return fmt.Errorf("resolve client %q: %w", clientID, err)
	}

	client, ok := server.FindClient(clientID)
	if !ok {
		telemetry.RPCRequests.WithLabelValues("Client.SetVolume", "not_found").Inc()
		return fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}

	percent = max(0, min(100, percent))
	params := map[string]any{
		"id":     client.ID,
		"volume": Volume{Percent: percent, Muted: false},
	}
	if _, err := c.callLocked(ctx, "Client.SetVolume", params); err != nil {
		telemetry.RPCRequests.WithLabelValues("Client.SetVolume", "error").Inc()
		return fmt.Errorf("set volume for %q: %w", clientID, err)
	}

	telemetry.RPCRequests.WithLabelValues("Client.SetVolume", "ok").Inc()
	c.logger.Info().Str("client_id", clientID).Int("percent", percent).Msg("client volume set")
	return nil
}

func (c *RPCClient) fetchStatusLocked(ctx context.Context) (*Server, error) {
	raw, err := c.callLocked(ctx, "Server.GetStatus", nil)
	if err != nil {
		return nil, err
	}
	var res struct {
		Server *Server `json:"server"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	if res.Server == nil || (len(res.Server.Groups) == 0 && len(res.Server.Streams) == 0) {
		return nil, ErrEmptyStatus
	}
	return res.Server, nil
}

// callLocked sends one request and waits for the response carrying its id.
// Notifications and responses to other ids are discarded. A non-nil result
// is required for success.
func (c *RPCClient) callLocked(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := c.ensureConnLocked(ctx); err != nil {
		return nil, err
	}

	c.nextID++
	id := c.nextID
	if params == nil {
		params = struct{}{}
	}
	payload, err := json.Marshal(rpcRequest{ID: id, JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	payload = append(payload, '\r', '\n')

	deadline := time.Now().Add(c.opts.IOTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	if _, err := c.conn.Write(payload); err != nil {
		_ = c.closeLocked()
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	wantID := []byte(strconv.FormatUint(id, 10))
	for c.scanner.Scan() {
		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var env rpcEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			c.logger.Warn().Err(err).Str("line", truncate(line, 100)).Msg("malformed line from snapserver")
			continue
		}
		if len(env.ID) == 0 || bytes.Equal(env.ID, []byte("null")) {
			continue // notification
		}
		if !bytes.Equal(bytes.TrimSpace(env.ID), wantID) {
			continue
		}

		c.lastResponse = time.Now()
		if env.Error != nil {
			return nil, env.Error
		}
		if len(env.Result) == 0 || bytes.Equal(env.Result, []byte("null")) {
			return nil, ErrNoResult
		}
		return env.Result, nil
	}

	err = c.scanner.Err()
	_ = c.closeLocked()
	if err == nil {
		return nil, ErrConnectionClosed
	}
	return nil, fmt.Errorf("read %s response: %w", method, err)
}

// ensureConnLocked reuses a live connection or dials a new one. A connection
// with no successful response for StaleAfter is replaced first.
func (c *RPCClient) ensureConnLocked(ctx context.Context) error {
	if c.conn != nil && !c.lastResponse.IsZero() && time.Since(c.lastResponse) > c.opts.StaleAfter {
		c.logger.Warn().Dur("idle", time.Since(c.lastResponse)).Msg("snapserver connection stale, reconnecting")
		_ = c.closeLocked()
	}
	if c.conn != nil {
		return nil
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("connect snapserver %s: %w", c.addr, err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	c.conn = conn
	c.scanner = scanner
	c.lastResponse = time.Now()
	c.logger.Info().Str("addr", c.addr).Msg("connected to snapserver")
	return nil
}

func (c *RPCClient) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.scanner = nil
	return err
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
