// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

//go:build integration

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/models"
	"github.com/tomtom215/roomsync/internal/testinfra"
)

func TestIntegration_PostgresStore(t *testing.T) {
	testinfra.SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg, err := testinfra.NewPostgresContainer(ctx)
	if err != nil {
		t.Fatalf("Failed to start postgres: %v", err)
	}
	defer testinfra.CleanupContainer(t, ctx, pg)

	notifier := &recordingNotifier{}
	s, err := Open(ctx, &config.StoreConfig{
		Driver:       DriverPostgres,
		DSN:          pg.DSN,
		MaxOpenConns: 4,
		Bootstrap:    true,
	}, WithNotifier(notifier))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	room, err := s.CreateRoom(ctx, models.Room{Name: "pg room", OwnerID: uuid.New(), JoinCode: "PGROOM"})
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	position := 150
	updated, err := s.UpdateRoom(ctx, room.ID, models.RoomPatch{PositionSeconds: &position})
	if err != nil {
		t.Fatalf("UpdateRoom failed: %v", err)
	}
	if updated.PositionSeconds != 150 {
		t.Errorf("PositionSeconds = %d, want 150", updated.PositionSeconds)
	}

	byCode, err := s.RoomByJoinCode(ctx, "pgroom")
	if err != nil || byCode.ID != room.ID {
		t.Fatalf("RoomByJoinCode = %v, %v", byCode, err)
	}

	user := uuid.New()
	for i := 0; i < 2; i++ {
		if err := s.UpsertParticipant(ctx, models.Participant{RoomID: room.ID, UserID: user, DisplayName: "Ada"}); err != nil {
			t.Fatalf("UpsertParticipant failed: %v", err)
		}
	}
	participants, err := s.Participants(ctx, room.ID)
	if err != nil || len(participants) != 1 {
		t.Fatalf("Participants = %v, %v", participants, err)
	}

	for _, body := range []string{"one", "two", "three"} {
		if _, err := s.InsertMessage(ctx, models.NewMessage{RoomID: room.ID, AuthorID: user, Body: body, Kind: models.KindText}); err != nil {
			t.Fatalf("InsertMessage failed: %v", err)
		}
	}
	recent, err := s.RecentMessages(ctx, room.ID, 2)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Body != "two" || recent[1].Body != "three" {
		t.Errorf("unexpected recent messages: %+v", recent)
	}

	name := "missing"
	if _, err := s.UpdateRoom(ctx, uuid.New(), models.RoomPatch{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateRoom error = %v, want ErrNotFound", err)
	}

	// room_updated + participants_changed + three message_inserted
	if got := len(notifier.kinds()); got != 5 {
		t.Errorf("notifications = %d, want 5", got)
	}
}

func TestIntegration_RedisProfileCache(t *testing.T) {
	testinfra.SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rc, err := testinfra.NewRedisContainer(ctx)
	if err != nil {
		t.Fatalf("Failed to start redis: %v", err)
	}
	defer testinfra.CleanupContainer(t, ctx, rc)

	err = testinfra.WaitForReady(ctx, func(ctx context.Context) error {
		c, cerr := NewRedisClient(ctx, rc.URL)
		if cerr != nil {
			return cerr
		}
		return c.Close()
	}, 30*time.Second)
	if err != nil {
		t.Fatalf("redis not ready: %v", err)
	}

	rdb, err := NewRedisClient(ctx, rc.URL)
	if err != nil {
		t.Fatalf("NewRedisClient failed: %v", err)
	}
	defer rdb.Close()

	id := uuid.New()
	loader := &countingLoader{profiles: map[uuid.UUID]models.Profile{
		id: {UserID: id, DisplayName: "Ada"},
	}}

	// Two caches share Redis; the second must not reach the loader.
	first := NewProfileCache(rdb, 16, time.Minute)
	if _, err := first.Fetch(ctx, []uuid.UUID{id}, loader.load); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	second := NewProfileCache(rdb, 16, time.Minute)
	got, err := second.Fetch(ctx, []uuid.UUID{id}, loader.load)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got[id].DisplayName != "Ada" {
		t.Errorf("DisplayName = %q, want Ada", got[id].DisplayName)
	}
	if loader.calls() != 1 {
		t.Errorf("loader calls = %d, want 1", loader.calls())
	}

	second.Invalidate(ctx, id)
	third := NewProfileCache(rdb, 16, time.Minute)
	if _, err := third.Fetch(ctx, []uuid.UUID{id}, loader.load); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if loader.calls() != 2 {
		t.Errorf("loader calls after invalidate = %d, want 2", loader.calls())
	}
}
