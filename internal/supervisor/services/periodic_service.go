// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package services

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"
)

// PeriodicService calls a function on a fixed interval until its context is
// canceled. The liveness monitor, heartbeat and player poll of a room each
// run as one.
//
// The function is never called after Serve has returned, and Serve returns
// only after an in-flight call has finished.
type PeriodicService struct {
	name     string
	interval time.Duration
	tick     func(ctx context.Context)
}

// NewPeriodicService creates a periodic service. A non-positive interval
// disables it: Serve returns suture.ErrDoNotRestart immediately.
func NewPeriodicService(name string, interval time.Duration, tick func(ctx context.Context)) *PeriodicService {
	return &PeriodicService{
		name:     name,
		interval: interval,
		tick:     tick,
	}
}

// Serve implements suture.Service.
func (p *PeriodicService) Serve(ctx context.Context) error {
	if p.interval <= 0 || p.tick == nil {
		return suture.ErrDoNotRestart
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// A tick that raced with cancellation is dropped.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.tick(ctx)
		}
	}
}

// Interval returns the tick interval.
func (p *PeriodicService) Interval() time.Duration {
	return p.interval
}

// String implements fmt.Stringer.
func (p *PeriodicService) String() string {
	return p.name
}
