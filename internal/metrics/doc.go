// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

/*
Package metrics provides Prometheus metrics for RoomSync.

Metrics are registered with promauto on the default registry and exposed by
the headless client at /metrics.

# Overview

  - Connection: per-room state gauge, reconnect attempts by trigger, terminal
    errors, heartbeat failures, liveness pings
  - Reconciler: messages applied, duplicates discarded by reason, bulk-load duration
  - Dispatch: outcomes and analysis service latency
  - Store: operation latency and errors, profile cache hit rates
  - Circuit breaker: state, requests, transitions
  - Transport: received and dropped events

Record helpers keep label values consistent across call sites:

	metrics.RecordDedup("idempotency_key")
	metrics.RecordStoreOperation("insert_message", time.Since(start), err)
*/
package metrics
