// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package authz

import (
	"github.com/google/uuid"

	"github.com/tomtom215/roomsync/internal/models"
)

// Role is a user's standing in one room.
type Role string

const (
	RoleOwner       Role = "owner"
	RoleParticipant Role = "participant"
	RoleVisitor     Role = "visitor"
)

// Action is something a user does in a room.
type Action string

const (
	ActionRead      Action = "read"
	ActionSend      Action = "send"
	ActionAsk       Action = "ask"
	ActionRename    Action = "rename"
	ActionLoadVideo Action = "load_video"
	// ActionSync updates the shared playback position and play state.
	ActionSync Action = "sync"
)

// RoleFor derives userID's role from room ownership and the roster.
func RoleFor(room *models.Room, roster []models.Participant, userID uuid.UUID) Role {
	if room.IsOwner(userID) {
		return RoleOwner
	}
	for i := range roster {
		if roster[i].UserID == userID {
			return RoleParticipant
		}
	}
	return RoleVisitor
}
