// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

/*
Package models defines the data structures shared by the RoomSync packages.

Persistent entities:

  - Room: a shared viewing space with its playback position (seconds)
  - Participant: a user's membership in a room, one row per (room, user)
  - Message: an immutable transcript entry, optionally carrying an idempotency key
  - Profile: display metadata returned by batched lookups

Engine types:

  - Event: the tagged union delivered on a room subscription
    (message inserted, room updated, participants changed)
  - ViewMessage: a message with its resolved Author, as held in a room's local view

Messages written by SystemAuthorID (the all-zero UUID) are attributed to the
"system" display name when their kind is system and to "assistant" otherwise.
*/
package models
