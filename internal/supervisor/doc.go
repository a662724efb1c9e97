// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

/*
Package supervisor provides process supervision for RoomSync using suture v4.

# Process Tree

The headless client runs a three-layer tree:

	Tree ("roomsync")
	├── infra-layer
	│   └── BrokerService (embedded NATS, when enabled)
	├── session-layer
	│   └── one service per joined room
	└── api-layer
	    └── HTTPServerService (/metrics, /healthz)

A room that fails repeatedly backs off inside the session layer while the
broker and listener keep running.

# Room Trees

Each joined room owns a RoomTree that hosts its periodic work:

	RoomTree ("room-<id>")
	├── liveness  (every 10s)
	├── heartbeat (every 30s)
	└── poll      (every 2s, only when the player does not push positions)

RoomTree.Stop cancels the supervisor and waits for Serve to return, so by the
time a room's Leave returns none of its timers can fire again.

# Configuration

TreeConfig carries suture's restart policy:

	FailureThreshold: 5     failures before backoff
	FailureDecay:     30    seconds for the failure count to decay
	FailureBackoff:   15s   pause once the threshold is crossed
	ShutdownTimeout:  10s   per-service stop deadline

# Logging

Supervisor events (service panics, terminations, backoff) are logged through
sutureslog into the slog adapter of internal/logging, so they land in the
same zerolog stream as everything else:

	logger := logging.NewSlogLogger("supervisor")
	tree, err := supervisor.NewTree(logger, supervisor.DefaultTreeConfig())

Services that did not stop within ShutdownTimeout are listed by
UnstoppedServiceReport after Serve returns.
*/
package supervisor
