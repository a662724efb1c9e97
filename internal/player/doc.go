// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

/*
Package player is the boundary to the embedded video player.

The player lives in another context (an iframe in the browser, or a remote
process reached over a websocket) and the two sides exchange JSON envelopes.
Commands go out; position reports, state changes and replies come back.

Every inbound envelope names the origin it came from. Envelopes from an
origin that is not explicitly allowed are dropped before they are decoded
any further, so a page embedding foreign frames cannot steer playback.

Bridge implements Player on top of any Poster. WebSocketPoster is a Poster
for players attached over a websocket.
*/
package player
