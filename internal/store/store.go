// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package store provides the session store: rooms, participants, messages and
// profiles, persisted in Postgres (pgx) or embedded DuckDB through database/sql.
//
// Playback positions are stored in milliseconds and exposed in whole seconds;
// the conversion happens only in this package.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/tomtom215/roomsync/internal/models"
)

// ErrNotFound is returned when a room does not exist.
var ErrNotFound = errors.New("store: not found")

// SessionStore is the persistence boundary used by the synchronization engine.
type SessionStore interface {
	// Room returns the room with the given id or ErrNotFound.
	Room(ctx context.Context, id uuid.UUID) (*models.Room, error)
	// RoomByJoinCode returns the room with the given join code or ErrNotFound.
	RoomByJoinCode(ctx context.Context, code string) (*models.Room, error)
	// CreateRoom persists a new room. Zero ID and timestamps are assigned.
	CreateRoom(ctx context.Context, room models.Room) (*models.Room, error)
	// UpdateRoom applies a partial update and returns the updated room.
	UpdateRoom(ctx context.Context, id uuid.UUID, patch models.RoomPatch) (*models.Room, error)

	// UpsertParticipant inserts the membership row if absent. Existing rows are left unchanged.
	UpsertParticipant(ctx context.Context, p models.Participant) error
	// Participants lists a room's participants ordered by join time.
	Participants(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error)

	// InsertMessage persists a message; the store assigns ID and CreatedAt.
	InsertMessage(ctx context.Context, m models.NewMessage) (*models.Message, error)
	// RecentMessages returns up to limit of the most recent messages, oldest first.
	RecentMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]models.Message, error)

	// FetchProfiles resolves display metadata for a batch of users in one call.
	// Unknown ids are absent from the result.
	FetchProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error)
	// UpsertProfile creates or replaces a profile.
	UpsertProfile(ctx context.Context, p models.Profile) error

	// Ping performs a lightweight read to confirm the store is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// ChangeNotifier is told about committed writes so that a realtime feed can be
// produced for stores that do not emit change events themselves.
type ChangeNotifier interface {
	Notify(ctx context.Context, event models.Event) error
}
