// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind classifies a chat message.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindSystem      MessageKind = "system"
	KindVideoAction MessageKind = "video_action"
	KindAIResponse  MessageKind = "ai_response"
)

// Valid reports whether k is one of the known message kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindSystem, KindVideoAction, KindAIResponse:
		return true
	}
	return false
}

// SystemAuthorID is the reserved author for system and assistant messages.
// It is the all-zero UUID and never belongs to a real user.
var SystemAuthorID = uuid.Nil

// Display names used for messages written by SystemAuthorID.
const (
	SystemDisplayName    = "system"
	AssistantDisplayName = "assistant"
)

// Message is an immutable chat transcript entry. ID is assigned by the store
// and never reused.
//
// IdempotencyKey is set by writers that may deliver the same logical message
// more than once (the analysis service echoes the key the dispatcher sent).
type Message struct {
	ID             uuid.UUID   `json:"id"`
	RoomID         uuid.UUID   `json:"room_id" validate:"required"`
	AuthorID       uuid.UUID   `json:"author_id"`
	Body           string      `json:"body" validate:"required,max=4000"`
	Kind           MessageKind `json:"kind" validate:"required,messagekind"`
	IdempotencyKey string      `json:"idempotency_key,omitempty" validate:"omitempty,max=64"`
	CreatedAt      time.Time   `json:"created_at"`
}

// FromSystemAuthor reports whether the message was written by the reserved author.
func (m *Message) FromSystemAuthor() bool {
	return m.AuthorID == SystemAuthorID
}

// NewMessage is the input for persisting a message. The store assigns ID and CreatedAt.
type NewMessage struct {
	RoomID         uuid.UUID   `json:"room_id" validate:"required"`
	AuthorID       uuid.UUID   `json:"author_id"`
	Body           string      `json:"body" validate:"required,max=4000"`
	Kind           MessageKind `json:"kind" validate:"required,messagekind"`
	IdempotencyKey string      `json:"idempotency_key,omitempty" validate:"omitempty,max=64"`
}

// Author is the resolved display identity of a message author.
type Author struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
}

// ViewMessage is a message in a room's local view together with its resolved author.
type ViewMessage struct {
	Message
	Author Author `json:"author"`
}
