// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package sync

import "github.com/tomtom215/roomsync/internal/metrics"

// ConnState is the connection state of a room session.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnected
	// StateError is terminal until an explicit Reconnect.
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s ConnState) metricValue() int {
	switch s {
	case StateConnected:
		return metrics.StateConnected
	case StateDisconnected:
		return metrics.StateDisconnected
	case StateError:
		return metrics.StateError
	default:
		return metrics.StateConnecting
	}
}
