// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// stubService counts its runs. It fails its first failures runs, then
// blocks until canceled and lingers for stopDelay before returning.
type stubService struct {
	name      string
	failures  int32
	stopDelay time.Duration

	starts  atomic.Int32
	stops   atomic.Int32
	running atomic.Bool
}

func newStubService(name string) *stubService {
	return &stubService{name: name}
}

func (s *stubService) Serve(ctx context.Context) error {
	n := s.starts.Add(1)
	defer s.stops.Add(1)

	if n <= s.failures {
		return errors.New("stub failure")
	}

	s.running.Store(true)
	<-ctx.Done()
	if s.stopDelay > 0 {
		time.Sleep(s.stopDelay)
	}
	s.running.Store(false)
	return ctx.Err()
}

func (s *stubService) String() string {
	return s.name
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
