/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package hub

import (
	"context"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/snapmeta/internal/telemetry"
)

// PingInterval is the keepalive period for display connections.
const PingInterval = 30 * time.Second

const maxMessageBytes = 64 * 1024

type wsSender struct {
	conn *ws.Conn
}

func (s wsSender) Send(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, ws.MessageText, data)
}

// ServeHTTP upgrades a display connection and runs its session until the
// peer disconnects or the request context ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")
	conn.SetReadLimit(maxMessageBytes)

	telemetry.WebSocketConnections.Inc()
	defer telemetry.WebSocketConnections.Dec()

	remote := r.RemoteAddr
	h.logger.Info().Str("remote", remote).Msg("websocket client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := NewSession(wsSender{conn: conn})
	defer h.Close(sess)

	go h.keepalive(ctx, cancel, conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ws.CloseStatus(err) != ws.StatusNormalClosure && ws.CloseStatus(err) != ws.StatusGoingAway {
				h.logger.Debug().Err(err).Str("remote", remote).Msg("websocket read ended")
			}
			break
		}
		_ = h.Handle(ctx, sess, data)
	}

	h.logger.Info().Str("remote", remote).Msg("websocket client disconnected")
	conn.Close(ws.StatusNormalClosure, "")
}

func (h *Hub) keepalive(ctx context.Context, cancel context.CancelFunc, conn *ws.Conn) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, done := context.WithTimeout(ctx, h.sendTimeout)
			err := conn.Ping(pingCtx)
			done()
			if err != nil {
				h.logger.Debug().Err(err).Msg("websocket ping failed")
				cancel()
				return
			}
		}
	}
}
