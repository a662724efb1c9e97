// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/roomsync/internal/supervisor/services"
)

func TestRoomTree_StopWaitsForServices(t *testing.T) {
	tree := NewRoomTree(testLogger(), "room-1", TreeConfig{ShutdownTimeout: time.Second})

	slow := newStubService("liveness")
	slow.stopDelay = 50 * time.Millisecond
	tree.Add(slow)

	if err := tree.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !waitFor(2*time.Second, slow.running.Load) {
		t.Fatal("service did not start")
	}

	if err := tree.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if slow.running.Load() {
		t.Error("Stop returned before the service exited")
	}
	if slow.stops.Load() != 1 {
		t.Errorf("stops = %d, want 1", slow.stops.Load())
	}
}

func TestRoomTree_NoTickAfterStop(t *testing.T) {
	tree := NewRoomTree(testLogger(), "room-2", TreeConfig{ShutdownTimeout: time.Second})

	var ticks [3]atomic.Int32
	names := []string{"liveness", "heartbeat", "poll"}
	for i, name := range names {
		i := i
		tree.Add(services.NewPeriodicService(name, 5*time.Millisecond, func(context.Context) {
			ticks[i].Add(1)
		}))
	}

	if err := tree.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !waitFor(2*time.Second, func() bool {
		return ticks[0].Load() > 0 && ticks[1].Load() > 0 && ticks[2].Load() > 0
	}) {
		t.Fatal("periodic services did not tick")
	}

	if err := tree.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	var before [3]int32
	for i := range ticks {
		before[i] = ticks[i].Load()
	}
	time.Sleep(50 * time.Millisecond)
	for i := range ticks {
		if got := ticks[i].Load(); got != before[i] {
			t.Errorf("%s ticked after Stop: %d -> %d", names[i], before[i], got)
		}
	}
}

func TestRoomTree_StartTwice(t *testing.T) {
	tree := NewRoomTree(testLogger(), "room-3", TreeConfig{})
	if err := tree.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tree.Stop()

	if err := tree.Start(context.Background()); !errors.Is(err, ErrRoomTreeStarted) {
		t.Errorf("second Start = %v, want ErrRoomTreeStarted", err)
	}
}

func TestRoomTree_StopIsIdempotent(t *testing.T) {
	tree := NewRoomTree(testLogger(), "room-4", TreeConfig{})

	if err := tree.Stop(); err != nil {
		t.Errorf("Stop before Start = %v", err)
	}
	if err := tree.Start(context.Background()); !errors.Is(err, ErrRoomTreeStarted) {
		t.Errorf("Start after Stop = %v, want ErrRoomTreeStarted", err)
	}

	started := NewRoomTree(testLogger(), "room-5", TreeConfig{})
	if err := started.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := started.Stop(); err != nil {
		t.Errorf("first Stop = %v", err)
	}
	if err := started.Stop(); err != nil {
		t.Errorf("second Stop = %v", err)
	}
}

func TestRoomTree_ParentCancelStopsServices(t *testing.T) {
	tree := NewRoomTree(testLogger(), "room-6", TreeConfig{ShutdownTimeout: time.Second})
	svc := newStubService("heartbeat")
	tree.Add(svc)

	ctx, cancel := context.WithCancel(context.Background())
	if err := tree.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !waitFor(2*time.Second, svc.running.Load) {
		t.Fatal("service did not start")
	}

	cancel()
	if !waitFor(2*time.Second, func() bool { return !svc.running.Load() }) {
		t.Error("service still running after parent cancel")
	}
	if err := tree.Stop(); err != nil {
		t.Errorf("Stop after parent cancel = %v", err)
	}
}
