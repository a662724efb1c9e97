// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package sync

import (
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/tomtom215/roomsync/internal/models"
)

// View is the in-memory state of a joined room. The room loop is its only
// writer; any goroutine may read through the accessors, which return copies.
//
// Invariant: messages holds no two entries with the same ID, and applied
// holds exactly the IDs in messages.
type View struct {
	mu       sync.RWMutex
	room     models.Room
	roster   []models.Participant
	messages []models.ViewMessage
	applied  map[uuid.UUID]struct{}
	keys     map[string]struct{}
	thinking bool
}

// NewView creates an empty view of room.
func NewView(room models.Room) *View {
	return &View{
		room:    room,
		applied: make(map[uuid.UUID]struct{}),
		keys:    make(map[string]struct{}),
	}
}

// Room returns the latest known room row.
func (v *View) Room() models.Room {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.room
}

// Roster returns the room's participants.
func (v *View) Roster() []models.Participant {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.roster)
}

// Messages returns the transcript in display order.
func (v *View) Messages() []models.ViewMessage {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.messages)
}

// Len returns the number of messages.
func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.messages)
}

// Has reports whether a message has been applied.
func (v *View) Has(id uuid.UUID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.applied[id]
	return ok
}

// Thinking reports whether an assistant answer is pending.
func (v *View) Thinking() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.thinking
}

func (v *View) setRoom(room models.Room) {
	v.mu.Lock()
	v.room = room
	v.mu.Unlock()
}

func (v *View) setRoster(roster []models.Participant) {
	v.mu.Lock()
	v.roster = slices.Clone(roster)
	v.mu.Unlock()
}

func (v *View) setThinking(on bool) {
	v.mu.Lock()
	v.thinking = on
	v.mu.Unlock()
}
