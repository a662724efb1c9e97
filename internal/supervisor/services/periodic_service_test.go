// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

func TestPeriodicService_Ticks(t *testing.T) {
	var ticks atomic.Int32
	svc := NewPeriodicService("heartbeat", 10*time.Millisecond, func(context.Context) {
		ticks.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v, want context.Canceled", err)
	}
	if ticks.Load() < 3 {
		t.Errorf("ticks = %d, want at least 3", ticks.Load())
	}
}

func TestPeriodicService_NoTickAfterServeReturns(t *testing.T) {
	var ticks atomic.Int32
	svc := NewPeriodicService("poll", 5*time.Millisecond, func(context.Context) {
		ticks.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	<-errCh

	after := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	if ticks.Load() != after {
		t.Errorf("tick ran after Serve returned: %d -> %d", after, ticks.Load())
	}
}

func TestPeriodicService_DisabledInterval(t *testing.T) {
	called := false
	svc := NewPeriodicService("poll", 0, func(context.Context) { called = true })

	err := svc.Serve(context.Background())
	if !errors.Is(err, suture.ErrDoNotRestart) {
		t.Errorf("Serve() = %v, want ErrDoNotRestart", err)
	}
	if called {
		t.Error("disabled service ticked")
	}
}

func TestPeriodicService_String(t *testing.T) {
	svc := NewPeriodicService("liveness", time.Second, func(context.Context) {})
	if svc.String() != "liveness" {
		t.Errorf("String() = %q", svc.String())
	}
	if svc.Interval() != time.Second {
		t.Errorf("Interval() = %v", svc.Interval())
	}
}

type fakeBroker struct {
	running   atomic.Bool
	shutdowns atomic.Int32
}

func (b *fakeBroker) IsRunning() bool { return b.running.Load() }

func (b *fakeBroker) Shutdown(context.Context) error {
	b.shutdowns.Add(1)
	b.running.Store(false)
	return nil
}

func TestBrokerService_ShutsDownOnCancel(t *testing.T) {
	broker := &fakeBroker{}
	broker.running.Store(true)
	svc := NewBrokerService(broker, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v, want context.Canceled", err)
	}
	if broker.shutdowns.Load() != 1 {
		t.Errorf("Shutdown calls = %d, want 1", broker.shutdowns.Load())
	}
	if svc.String() != "embedded-nats" {
		t.Errorf("String() = %q", svc.String())
	}
}

func TestBrokerService_DeadBrokerIsNotRestarted(t *testing.T) {
	broker := &fakeBroker{}
	svc := NewBrokerService(broker, time.Second)
	svc.checkInterval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := svc.Serve(ctx)
	if !errors.Is(err, suture.ErrDoNotRestart) {
		t.Errorf("Serve() = %v, want ErrDoNotRestart", err)
	}
}
