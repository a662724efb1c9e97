// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tomtom215/roomsync/internal/logging"
)

const (
	playerWriteWait    = 10 * time.Second
	playerPongWait     = 60 * time.Second
	playerPingInterval = 30 * time.Second
)

// WebSocketPoster carries envelopes to a player attached over a websocket.
type WebSocketPoster struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once

	log zerolog.Logger
}

// DialWebSocket connects to the player endpoint.
func DialWebSocket(ctx context.Context, endpoint string) (*WebSocketPoster, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("player websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("player websocket dial: %w", err)
	}
	return NewWebSocketPoster(conn), nil
}

// NewWebSocketPoster wraps an established connection.
func NewWebSocketPoster(conn *websocket.Conn) *WebSocketPoster {
	return &WebSocketPoster{
		conn: conn,
		log:  logging.WithComponent("player.websocket"),
	}
}

// Post writes one envelope.
func (p *WebSocketPoster) Post(ctx context.Context, env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(playerWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Serve feeds inbound messages to receive until ctx ends or the connection
// fails, pinging the peer to detect dead connections. Rejected messages are
// skipped.
func (p *WebSocketPoster) Serve(ctx context.Context, receive func([]byte) error) error {
	_ = p.conn.SetReadDeadline(time.Now().Add(playerPongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(playerPongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go p.pingLoop(stop)

	go func() {
		select {
		case <-ctx.Done():
			_ = p.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.log.Info().Msg("Player websocket closed normally")
				return nil
			}
			return fmt.Errorf("player websocket read: %w", err)
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(playerPongWait))

		if err := receive(data); err != nil && !errors.Is(err, ErrOriginNotAllowed) {
			p.log.Debug().Err(err).Msg("Ignoring player message")
		}
	}
}

func (p *WebSocketPoster) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(playerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.writeMu.Lock()
			err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(playerWriteWait))
			p.writeMu.Unlock()
			if err != nil {
				p.log.Debug().Err(err).Msg("Player websocket ping failed")
				return
			}
		}
	}
}

// Close sends a close frame and closes the connection.
func (p *WebSocketPoster) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.writeMu.Lock()
		_ = p.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		p.writeMu.Unlock()
		err = p.conn.Close()
	})
	return err
}
