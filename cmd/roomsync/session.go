// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/roomsync/internal/api"
	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/models"
	"github.com/tomtom215/roomsync/internal/store"
	roomsync "github.com/tomtom215/roomsync/internal/sync"
)

// joinFunc enters the configured room.
type joinFunc func(ctx context.Context) (*roomsync.Room, error)

// sessionService keeps the configured room joined under the session layer.
// When Serve fails the supervisor restarts it, which joins the room again.
type sessionService struct {
	join    joinFunc
	current atomic.Pointer[roomsync.Room]
	log     zerolog.Logger
}

func newSessionService(join joinFunc) *sessionService {
	return &sessionService{join: join, log: logging.WithComponent("session")}
}

// joinerFor picks Join or JoinByCode from the room configuration.
func joinerFor(deps roomsync.Deps, cfg *config.Config, user models.Profile) (joinFunc, error) {
	switch {
	case cfg.Room.ID != "":
		roomID, err := uuid.Parse(cfg.Room.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid room id %q: %w", cfg.Room.ID, err)
		}
		return func(ctx context.Context) (*roomsync.Room, error) {
			return roomsync.Join(ctx, deps, cfg.Sync, roomID, user)
		}, nil
	case cfg.Room.JoinCode != "":
		code := cfg.Room.JoinCode
		return func(ctx context.Context) (*roomsync.Room, error) {
			return roomsync.JoinByCode(ctx, deps, cfg.Sync, code, user)
		}, nil
	default:
		return nil, errors.New("either ROOM_ID or ROOM_JOIN_CODE must be set")
	}
}

// Current returns the joined room, or nil between joins.
func (s *sessionService) Current() api.RoomSession {
	if r := s.current.Load(); r != nil {
		return r
	}
	return nil
}

// Serve joins the room and logs its transcript until ctx ends.
func (s *sessionService) Serve(ctx context.Context) error {
	room, err := s.join(ctx)
	if err != nil {
		if permanentJoinError(err) {
			s.log.Error().Err(err).Msg("Cannot join room, shutting down")
			return fmt.Errorf("%w: %w", suture.ErrTerminateSupervisorTree, err)
		}
		return fmt.Errorf("join room: %w", err)
	}

	s.current.Store(room)
	defer func() {
		s.current.Store(nil)
		if err := room.Leave(); err != nil {
			s.log.Warn().Err(err).Msg("Room did not stop cleanly")
		}
		s.log.Info().Str("room_id", room.ID().String()).Msg("Left room")
	}()

	loaded := room.Loaded()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-loaded:
			loaded = nil
			snap := room.Snapshot()
			s.log.Info().
				Str("room", snap.Room.Name).
				Str("role", string(snap.Role)).
				Int("messages", len(snap.Messages)).
				Int("participants", len(snap.Participants)).
				Msg("Transcript loaded")
			for _, m := range snap.Messages {
				logMessage(s.log, m)
			}

		case m, ok := <-room.Arrivals():
			if !ok {
				return errors.New("room arrivals closed")
			}
			logMessage(s.log, m)

		case n, ok := <-room.Notices():
			if !ok {
				return errors.New("room notices closed")
			}
			s.log.Warn().Err(n.Err).Str("kind", string(n.Kind)).Msg(n.Text)
		}
	}
}

func (s *sessionService) String() string {
	return "room-session"
}

// permanentJoinError reports whether retrying the join cannot help.
func permanentJoinError(err error) bool {
	return errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, roomsync.ErrValidation) ||
		errors.Is(err, roomsync.ErrPermission)
}

func logMessage(log zerolog.Logger, m models.ViewMessage) {
	log.Info().
		Str("kind", string(m.Kind)).
		Str("author", m.Author.DisplayName).
		Time("at", m.CreatedAt).
		Msg(m.Body)
}
