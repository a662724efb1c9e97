// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tomtom215/roomsync/internal/models"
)

var (
	// ErrUnavailable is returned while the circuit breaker rejects calls.
	ErrUnavailable = errors.New("analysis service unavailable")

	// ErrInvalidRequest is returned when a request fails validation before
	// it is sent.
	ErrInvalidRequest = errors.New("invalid analysis request")
)

// Analyzer answers questions about a room's video.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Response, error)
}

// Request is one question about a video.
type Request struct {
	RoomID      uuid.UUID
	RequesterID uuid.UUID
	Question    string
	VideoURL    string
	// Timestamp is the position the question refers to in seconds, or nil
	// when the question is about the whole video.
	Timestamp *int
	// IdempotencyKey is echoed on the message the service creates.
	IdempotencyKey string
}

// Response is the service's verdict. When Blocked is false the answer is
// delivered as a room message; Message is set if the service also returned
// it inline.
type Response struct {
	Blocked bool
	Reason  string
	Message *models.Message
}

// StatusError is a non-2xx reply from the service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("analysis service returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("analysis service returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the failure is on the service side.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// FormatTimestamp renders whole seconds as MM:SS. Minutes are not wrapped
// into hours.
func FormatTimestamp(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
