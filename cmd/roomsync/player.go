// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package main

import (
	"context"
	"errors"
	"sync"

	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/player"
)

var errPlayerOffline = errors.New("player is not connected")

// playerLink is the bridge's poster. It forwards to whichever websocket
// connection is current, so a redialed player keeps the same bridge.
type playerLink struct {
	mu   sync.RWMutex
	conn *player.WebSocketPoster
}

func (l *playerLink) Post(ctx context.Context, env player.Envelope) error {
	l.mu.RLock()
	conn := l.conn
	l.mu.RUnlock()
	if conn == nil {
		return errPlayerOffline
	}
	return conn.Post(ctx, env)
}

func (l *playerLink) set(conn *player.WebSocketPoster) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
}

// playerService dials the player endpoint and feeds its messages to the
// bridge. A dropped connection fails Serve and the supervisor redials.
type playerService struct {
	url    string
	link   *playerLink
	bridge *player.Bridge
	dial   func(ctx context.Context, url string) (*player.WebSocketPoster, error)
}

func newPlayerService(url string, link *playerLink, bridge *player.Bridge) *playerService {
	return &playerService{url: url, link: link, bridge: bridge, dial: player.DialWebSocket}
}

func (s *playerService) Serve(ctx context.Context) error {
	conn, err := s.dial(ctx, s.url)
	if err != nil {
		return err
	}
	s.link.set(conn)
	defer func() {
		s.link.set(nil)
		_ = conn.Close()
	}()

	logging.Info().Str("url", s.url).Msg("Player connected")
	return conn.Serve(ctx, s.bridge.Receive)
}

func (s *playerService) String() string {
	return "player"
}
