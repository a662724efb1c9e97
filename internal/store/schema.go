// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package store

// Identifiers are stored as text in both dialects so that uuid.UUID can be
// bound and scanned the same way through database/sql.
//
// DuckDB uses plain TIMESTAMP: TIMESTAMPTZ needs the ICU extension, which is
// not guaranteed to be installable at runtime.

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		owner_id    TEXT NOT NULL,
		video_url   TEXT,
		position_ms BIGINT NOT NULL DEFAULT 0,
		is_playing  BOOLEAN NOT NULL DEFAULT FALSE,
		capacity    INTEGER NOT NULL DEFAULT 0,
		is_public   BOOLEAN NOT NULL DEFAULT FALSE,
		join_code   TEXT UNIQUE,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS participants (
		room_id      TEXT NOT NULL,
		user_id      TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		avatar_url   TEXT NOT NULL DEFAULT '',
		joined_at    TIMESTAMPTZ NOT NULL,
		is_active    BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (room_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		room_id         TEXT NOT NULL,
		author_id       TEXT NOT NULL,
		body            TEXT NOT NULL,
		kind            TEXT NOT NULL,
		idempotency_key TEXT,
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages (room_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		user_id      TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		avatar_url   TEXT NOT NULL DEFAULT ''
	)`,
}

var duckdbSchema = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id          VARCHAR PRIMARY KEY,
		name        VARCHAR NOT NULL,
		owner_id    VARCHAR NOT NULL,
		video_url   VARCHAR,
		position_ms BIGINT NOT NULL DEFAULT 0,
		is_playing  BOOLEAN NOT NULL DEFAULT FALSE,
		capacity    INTEGER NOT NULL DEFAULT 0,
		is_public   BOOLEAN NOT NULL DEFAULT FALSE,
		join_code   VARCHAR UNIQUE,
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS participants (
		room_id      VARCHAR NOT NULL,
		user_id      VARCHAR NOT NULL,
		display_name VARCHAR NOT NULL DEFAULT '',
		avatar_url   VARCHAR NOT NULL DEFAULT '',
		joined_at    TIMESTAMP NOT NULL,
		is_active    BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (room_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              VARCHAR PRIMARY KEY,
		room_id         VARCHAR NOT NULL,
		author_id       VARCHAR NOT NULL,
		body            VARCHAR NOT NULL,
		kind            VARCHAR NOT NULL,
		idempotency_key VARCHAR,
		created_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages (room_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		user_id      VARCHAR PRIMARY KEY,
		display_name VARCHAR NOT NULL,
		avatar_url   VARCHAR NOT NULL DEFAULT ''
	)`,
}
