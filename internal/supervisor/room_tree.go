// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// ErrRoomTreeStarted is returned by Start when the tree is already running
// or has been stopped.
var ErrRoomTreeStarted = errors.New("room tree already started")

// RoomTree supervises the periodic services of one joined room: liveness
// monitor, heartbeat and position poll. Stop cancels all of them and returns
// only once every service has exited, so no timer of the room outlives it.
type RoomTree struct {
	sup *suture.Supervisor

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    <-chan error
}

// NewRoomTree creates a room supervisor named after the room.
func NewRoomTree(logger *slog.Logger, roomID string, config TreeConfig) *RoomTree {
	config.applyDefaults()
	hook := (&sutureslog.Handler{Logger: logger.With("room_id", roomID)}).MustHook()
	return &RoomTree{
		sup: suture.New("room-"+roomID, config.spec(hook)),
	}
}

// Add registers a service. Services added after Start are started at once.
func (t *RoomTree) Add(svc suture.Service) suture.ServiceToken {
	return t.sup.Add(svc)
}

// Start runs the supervisor in the background. The tree stops when ctx is
// canceled or Stop is called, whichever comes first.
func (t *RoomTree) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return ErrRoomTreeStarted
	}
	t.started = true

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = t.sup.ServeBackground(ctx)
	return nil
}

// Stop cancels every service and waits for the supervisor to return.
// It is safe to call more than once and before Start.
func (t *RoomTree) Stop() error {
	t.mu.Lock()
	if !t.started {
		t.started = true
		t.mu.Unlock()
		return nil
	}
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := <-done
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// UnstoppedServiceReport lists services that ignored cancellation during Stop.
func (t *RoomTree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.sup.UnstoppedServiceReport()
}
