// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package models

import (
	"time"
)

// APIResponse is the envelope returned by every control API endpoint.
//
// Status is "success" with Data populated, or "error" with Error populated.
//
// Example successful response:
//
//	{
//	  "status": "success",
//	  "data": {"state": "connected", "position": 150},
//	  "metadata": {"timestamp": "2026-03-01T20:00:00Z", "query_time_ms": 2}
//	}
//
// Example error response:
//
//	{
//	  "status": "error",
//	  "error": {"code": "FORBIDDEN", "message": "Only the room owner can do that."},
//	  "metadata": {"timestamp": "2026-03-01T20:00:00Z"}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata describes how a response was produced.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
	Cached      bool      `json:"cached,omitempty"`
}

// APIError is a machine-readable error code with a message for people.
// Details carries per-field information, e.g. validation failures.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
