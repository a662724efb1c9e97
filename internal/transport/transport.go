// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package transport delivers room change events from a publish/subscribe
// backend to the sync engine.
//
// A Transport opens one Subscription per call. Each Subscription owns its own
// network connection, so a reconnect always starts from a fresh socket and
// never resumes a session the backend has already torn down. Events for a
// subscription arrive in order on a single channel:
//
//	sub, err := t.Subscribe(ctx, transport.RoomTopic(roomID), transport.RoomFilters(roomID), onStatus)
//	for ev := range sub.Events() {
//	    // models.EventMessageInserted, models.EventRoomUpdated, models.EventParticipantsChanged
//	}
//
// Two implementations are provided:
//
//   - WebSocketTransport speaks the Phoenix channel protocol used by hosted
//     Postgres realtime services (join, reply, postgres_changes, broadcast,
//     heartbeat).
//   - NATSTransport consumes events published by NATSNotifier through
//     Watermill on core NATS, optionally served by an EmbeddedServer.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/roomsync/internal/models"
)

// Status is the lifecycle signal of a subscription.
type Status string

const (
	// StatusSubscribed means the backend confirmed the subscription.
	StatusSubscribed Status = "subscribed"
	// StatusClosed means the channel or its connection closed.
	StatusClosed Status = "closed"
	// StatusChannelError means the backend rejected or failed the channel.
	StatusChannelError Status = "channel_error"
)

// StatusFunc receives status changes. It is called from transport goroutines
// and must not block.
type StatusFunc func(status Status, err error)

// Filter restricts a subscription to rows of a table matching column = value.
type Filter struct {
	Table  string
	Column string
	Value  string
}

// Transport opens subscriptions.
type Transport interface {
	// Subscribe opens a new subscription on topic. Status changes, including
	// the initial StatusSubscribed, are reported through onStatus.
	Subscribe(ctx context.Context, topic string, filters []Filter, onStatus StatusFunc) (Subscription, error)
}

// Subscription is one open channel.
type Subscription interface {
	// Events returns the ordered event stream. It is closed after Unsubscribe
	// or when the underlying connection ends.
	Events() <-chan models.Event
	// Send publishes an ad-hoc payload on the channel. A Heartbeat value is
	// sent as the protocol's keepalive.
	Send(ctx context.Context, payload any) error
	// Unsubscribe leaves the channel and closes the connection. No status is
	// reported for a closure it causes. Safe to call more than once.
	Unsubscribe() error
}

// Heartbeat is the keepalive payload sent while a subscription is open.
type Heartbeat struct {
	At time.Time `json:"at"`
}

// ErrNotSubscribed is returned by Send after the subscription has ended.
var ErrNotSubscribed = errors.New("transport: subscription is not open")

// Table names carried in realtime row events.
const (
	TableMessages     = "messages"
	TableRooms        = "rooms"
	TableParticipants = "participants"
)

// RoomTopic is the channel name for a room.
func RoomTopic(roomID uuid.UUID) string {
	return "room:" + roomID.String()
}

// RoomFilters subscribes to every table that affects a room view.
func RoomFilters(roomID uuid.UUID) []Filter {
	id := roomID.String()
	return []Filter{
		{Table: TableMessages, Column: "room_id", Value: id},
		{Table: TableRooms, Column: "id", Value: id},
		{Table: TableParticipants, Column: "room_id", Value: id},
	}
}
