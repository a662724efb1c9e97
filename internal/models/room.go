// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package models

import (
	"time"

	"github.com/google/uuid"
)

// Room is a shared viewing space. Rooms are created and owned by one user and
// are never deleted by the synchronization engine.
//
// PositionSeconds is the shared playback position in whole seconds. The
// store persists milliseconds and converts at its boundary, so every other
// package works in seconds.
type Room struct {
	ID              uuid.UUID `json:"id" validate:"required"`
	Name            string    `json:"name" validate:"required,max=120"`
	OwnerID         uuid.UUID `json:"owner_id" validate:"required"`
	VideoURL        *string   `json:"video_url,omitempty" validate:"omitempty,url"`
	PositionSeconds int       `json:"position_seconds" validate:"gte=0"`
	IsPlaying       bool      `json:"is_playing"`
	Capacity        int       `json:"capacity" validate:"gte=0"`
	IsPublic        bool      `json:"is_public"`
	JoinCode        string    `json:"join_code" validate:"omitempty,joincode"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasVideo reports whether a video is currently loaded in the room.
func (r *Room) HasVideo() bool {
	return r != nil && r.VideoURL != nil && *r.VideoURL != ""
}

// Video returns the loaded video URL or "" when none is loaded.
func (r *Room) Video() string {
	if !r.HasVideo() {
		return ""
	}
	return *r.VideoURL
}

// IsOwner reports whether userID owns the room.
func (r *Room) IsOwner(userID uuid.UUID) bool {
	return r != nil && r.OwnerID == userID
}

// RoomPatch is a partial update applied by the room owner. Nil fields are left unchanged.
type RoomPatch struct {
	Name            *string `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	VideoURL        *string `json:"video_url,omitempty" validate:"omitempty,url"`
	PositionSeconds *int    `json:"position_seconds,omitempty" validate:"omitempty,gte=0"`
	IsPlaying       *bool   `json:"is_playing,omitempty"`
}

// Participant is a user's membership in a room. There is at most one row per
// (RoomID, UserID) pair.
type Participant struct {
	RoomID      uuid.UUID `json:"room_id"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
	IsActive    bool      `json:"is_active"`
}

// Profile is the display metadata for a user, returned by batched lookups.
type Profile struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
}
