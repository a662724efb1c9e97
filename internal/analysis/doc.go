// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

/*
Package analysis is the client of the external video analysis service.

A room participant's question about the loaded video is sent together with
the video reference and an optional MM:SS timestamp. The service either
refuses the question (Blocked, with a reason) or answers it by writing an
ai_response message into the room on its own. When it also returns the
created message in the response body, the message carries the idempotency
key the client sent so that the room can discard the second delivery.

# Resilience

Client wraps every call in:

  - a token-bucket limiter (golang.org/x/time/rate) so a chatty room cannot
    flood the service
  - a circuit breaker (sony/gobreaker/v2) that opens after consecutive
    server-side failures and rejects calls until its timeout elapses

Client errors (HTTP 4xx) are returned to the caller but do not count against
the breaker. Nothing is retried automatically.

# Metrics

  - roomsync_analysis_duration_seconds{result}
  - circuit_breaker_state{name="analysis"}
  - circuit_breaker_requests_total{name="analysis",result}
  - circuit_breaker_state_transitions_total{name="analysis",...}
*/
package analysis
