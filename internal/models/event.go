// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package models

import "github.com/google/uuid"

// EventKind identifies the variant carried by an Event.
type EventKind string

const (
	EventMessageInserted     EventKind = "message_inserted"
	EventRoomUpdated         EventKind = "room_updated"
	EventParticipantsChanged EventKind = "participants_changed"
)

// Event is a change notification delivered on a room subscription. Exactly
// one payload field is set, selected by Kind.
type Event struct {
	Kind    EventKind `json:"kind"`
	RoomID  uuid.UUID `json:"room_id"`
	Message *Message  `json:"message,omitempty"`
	Room    *Room     `json:"room,omitempty"`
}

// Inserted builds a message-inserted event.
func Inserted(m Message) Event {
	return Event{Kind: EventMessageInserted, RoomID: m.RoomID, Message: &m}
}

// RoomUpdated builds a room-updated event.
func RoomUpdated(r Room) Event {
	return Event{Kind: EventRoomUpdated, RoomID: r.ID, Room: &r}
}

// ParticipantsChanged builds a roster-changed event.
func ParticipantsChanged(roomID uuid.UUID) Event {
	return Event{Kind: EventParticipantsChanged, RoomID: roomID}
}

// Valid reports whether the payload matches the kind.
func (e Event) Valid() bool {
	switch e.Kind {
	case EventMessageInserted:
		return e.Message != nil
	case EventRoomUpdated:
		return e.Room != nil
	case EventParticipantsChanged:
		return true
	}
	return false
}
