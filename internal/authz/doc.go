// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package authz decides what a user may do inside a room, using Casbin.
//
// A user's role is derived from the room, never stored:
//
//   - owner: the room's OwnerID
//   - participant: anyone on the room's roster
//   - visitor: everyone else
//
// Roles inherit downwards (owner includes participant, participant includes
// visitor). The built-in policy is:
//
//	p, visitor, room, read
//	p, visitor, room, send
//	p, participant, room, ask
//	p, owner, room, rename
//	p, owner, room, load_video
//	p, owner, room, sync
//
//	g, owner, participant
//	g, participant, visitor
//
// Decisions are served from Casbin's synced cached enforcer. A policy file
// may replace the built-in policy:
//
//	e, err := authz.NewEnforcer(&authz.EnforcerConfig{PolicyPath: "/etc/roomsync/policy.csv"})
//	role := authz.RoleFor(room, roster, userID)
//	ok, err := e.Can(role, authz.ActionAsk)
package authz
