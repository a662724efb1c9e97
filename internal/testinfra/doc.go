// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package testinfra provides container-backed infrastructure for integration tests.
//
// It uses testcontainers-go to run the services a production deployment of
// RoomSync talks to:
//
//   - PostgresContainer: a real Postgres for the SQL session store
//   - RedisContainer: a real Redis for the shared profile cache
//
// Every file in this package carries the integration build tag, so the
// containers are only compiled into runs started with:
//
//	go test -tags integration ./...
//
// Tests call SkipIfNoDocker first and are skipped when no Docker daemon is
// reachable. The first run pulls the images; later runs use the local cache.
package testinfra
