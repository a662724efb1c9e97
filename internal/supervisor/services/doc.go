// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

/*
Package services provides suture.Service wrappers for RoomSync components.

Each wrapper implements the suture.Service interface:

	type Service interface {
	    Serve(ctx context.Context) error
	}

and fmt.Stringer so the supervisor can name it in log events.

# Available Services

PeriodicService:
  - Calls a function on a fixed ticker until canceled
  - Used for a room's liveness monitor, heartbeat and player position poll
  - A zero interval disables the service without restarts

HTTPServerService:
  - Wraps *http.Server with graceful shutdown
  - Converts the blocking ListenAndServe pattern to Serve

BrokerService:
  - Holds an embedded NATS server open for the life of the process tree
  - Shuts the server down when the tree stops

# Shutdown

Every service returns ctx.Err() after cancellation. Services that wrap a
server use a fresh context with their own timeout for Shutdown, since the
service context is already canceled at that point.
*/
package services
