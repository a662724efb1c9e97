// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

/*
Package api serves the local control surface of a roomsync client.

The client joins exactly one room. This package exposes that session over
HTTP so scripts and an embedding UI can drive it without linking the sync
package directly.

# Routes

	GET  /healthz                 liveness, always 200 while the process runs
	GET  /readyz                  200 once the store answers and the room is connected
	GET  /metrics                 Prometheus exposition
	GET  /api/v1/room             snapshot of the local view (?limit=N trims the transcript)
	POST /api/v1/room/messages    {"text": "..."} send chat or a question
	POST /api/v1/room/seek        {"position": "2:30"} seek the player
	PUT  /api/v1/room/name        {"name": "..."} rename the room (owner only)
	PUT  /api/v1/room/video       {"url": "..."} load a video (owner only)
	POST /api/v1/room/reconnect   leave the Error state

Every /api/v1 response uses the models.APIResponse envelope.

# Middleware

The router is built on go-chi/chi with the ecosystem middleware: chi's
RequestID, RealIP and Recoverer, go-chi/cors for cross-origin access and
go-chi/httprate for per-IP rate limiting. Each request carries a correlation
ID in its context so room log lines can be traced back to the API call that
caused them.

# Errors

Session errors map onto status codes by category:

	validation  400 VALIDATION_ERROR
	permission  403 FORBIDDEN
	dispatch    502 DISPATCH_FAILED
	persistence 503 STORE_UNAVAILABLE
	left        503 ROOM_LEFT
	no session  503 NOT_JOINED
*/
package api
