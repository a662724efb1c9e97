// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thejerf/suture/v4"
)

// Broker is an in-process message broker that is already running when it
// is handed to the supervisor. transport.EmbeddedServer satisfies it.
type Broker interface {
	IsRunning() bool
	Shutdown(ctx context.Context) error
}

// BrokerService owns the lifetime of an embedded broker: it holds the broker
// open until the tree stops and then shuts it down.
//
// A broker found dead is not restarted here; its listeners and clients are
// gone with it, so the service reports ErrDoNotRestart and leaves recovery
// to whoever created the broker.
type BrokerService struct {
	broker          Broker
	checkInterval   time.Duration
	shutdownTimeout time.Duration
	name            string
}

// NewBrokerService wraps broker.
func NewBrokerService(broker Broker, shutdownTimeout time.Duration) *BrokerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &BrokerService{
		broker:          broker,
		checkInterval:   5 * time.Second,
		shutdownTimeout: shutdownTimeout,
		name:            "embedded-nats",
	}
}

// Serve implements suture.Service.
func (s *BrokerService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
			defer cancel()
			if err := s.broker.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("%s shutdown failed: %w", s.name, err)
			}
			return ctx.Err()

		case <-ticker.C:
			if !s.broker.IsRunning() {
				return errors.Join(fmt.Errorf("%s stopped unexpectedly", s.name), suture.ErrDoNotRestart)
			}
		}
	}
}

// String implements fmt.Stringer.
func (s *BrokerService) String() string {
	return s.name
}
