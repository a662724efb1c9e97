// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package transport

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/roomsync/internal/models"
)

// recordTime accepts the timestamp layouts Postgres emits in realtime
// payloads, with or without a zone offset.
type recordTime struct {
	time.Time
}

var recordTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

func (t *recordTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range recordTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

type messageRecord struct {
	ID             uuid.UUID  `json:"id"`
	RoomID         uuid.UUID  `json:"room_id"`
	AuthorID       uuid.UUID  `json:"author_id"`
	Body           string     `json:"body"`
	Kind           string     `json:"kind"`
	IdempotencyKey *string    `json:"idempotency_key"`
	CreatedAt      recordTime `json:"created_at"`
}

type roomRecord struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	OwnerID    uuid.UUID  `json:"owner_id"`
	VideoURL   *string    `json:"video_url"`
	PositionMS int64      `json:"position_ms"`
	IsPlaying  bool       `json:"is_playing"`
	Capacity   int        `json:"capacity"`
	IsPublic   bool       `json:"is_public"`
	JoinCode   *string    `json:"join_code"`
	CreatedAt  recordTime `json:"created_at"`
	UpdatedAt  recordTime `json:"updated_at"`
}

// decodeRecord turns a changed row into an event. The rooms table keeps
// positions in milliseconds; events carry whole seconds.
func decodeRecord(table string, roomID uuid.UUID, record json.RawMessage) (models.Event, error) {
	switch table {
	case TableMessages:
		var r messageRecord
		if err := json.Unmarshal(record, &r); err != nil {
			return models.Event{}, fmt.Errorf("decode message record: %w", err)
		}
		m := models.Message{
			ID:        r.ID,
			RoomID:    r.RoomID,
			AuthorID:  r.AuthorID,
			Body:      r.Body,
			Kind:      models.MessageKind(r.Kind),
			CreatedAt: r.CreatedAt.Time,
		}
		if r.IdempotencyKey != nil {
			m.IdempotencyKey = *r.IdempotencyKey
		}
		if m.ID == uuid.Nil {
			return models.Event{}, fmt.Errorf("message record without id")
		}
		return models.Inserted(m), nil

	case TableRooms:
		var r roomRecord
		if err := json.Unmarshal(record, &r); err != nil {
			return models.Event{}, fmt.Errorf("decode room record: %w", err)
		}
		room := models.Room{
			ID:              r.ID,
			Name:            r.Name,
			OwnerID:         r.OwnerID,
			PositionSeconds: int(r.PositionMS / 1000),
			IsPlaying:       r.IsPlaying,
			Capacity:        r.Capacity,
			IsPublic:        r.IsPublic,
			CreatedAt:       r.CreatedAt.Time,
			UpdatedAt:       r.UpdatedAt.Time,
		}
		if r.VideoURL != nil && *r.VideoURL != "" {
			v := *r.VideoURL
			room.VideoURL = &v
		}
		if r.JoinCode != nil {
			room.JoinCode = *r.JoinCode
		}
		return models.RoomUpdated(room), nil

	case TableParticipants:
		var r struct {
			RoomID uuid.UUID `json:"room_id"`
		}
		if len(record) > 0 {
			if err := json.Unmarshal(record, &r); err == nil && r.RoomID != uuid.Nil {
				roomID = r.RoomID
			}
		}
		return models.ParticipantsChanged(roomID), nil
	}
	return models.Event{}, fmt.Errorf("unexpected table %q", table)
}
