// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package sync

import (
	"errors"
	"fmt"
	"time"
)

// Error categories. Every error returned by a room session wraps exactly one
// of them; test with errors.Is.
var (
	// ErrTransport means the subscription failed or closed.
	ErrTransport = errors.New("transport error")
	// ErrPersistence means a session store read or write failed.
	ErrPersistence = errors.New("persistence error")
	// ErrDispatch means the analysis service was unreachable or failed.
	ErrDispatch = errors.New("dispatch error")
	// ErrValidation means user input was rejected before any network call.
	ErrValidation = errors.New("validation error")
	// ErrPermission means the user may not perform the action.
	ErrPermission = errors.New("permission denied")
)

// ErrLeft is returned by operations on a room that has been left.
var ErrLeft = errors.New("room session has been left")

// SyncError carries the category, the operation and the underlying cause.
type SyncError struct {
	Kind error
	Op   string
	Err  error
}

func newError(kind error, op string, err error) *SyncError {
	return &SyncError{Kind: kind, Op: op, Err: err}
}

func (e *SyncError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the category and the cause to errors.Is and errors.As.
func (e *SyncError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NoticeKind groups user-visible notices.
type NoticeKind string

const (
	NoticeConnection  NoticeKind = "connection"
	NoticePersistence NoticeKind = "persistence"
	NoticeDispatch    NoticeKind = "dispatch"
	NoticeBlocked     NoticeKind = "blocked"
	NoticeValidation  NoticeKind = "validation"
	NoticePermission  NoticeKind = "permission"
)

// Notice is a message meant for the user, emitted on a room's notice channel.
type Notice struct {
	Kind NoticeKind
	Text string
	Err  error
	At   time.Time
}
