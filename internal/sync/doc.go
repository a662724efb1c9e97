// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

/*
Package sync keeps one user's view of a watch room consistent with the
shared room state.

A Room is created by Join or JoinByCode and lives until Leave. It combines:

  - ConnectionManager: the single realtime subscription and its state
    machine (Connecting, Connected, Disconnected, Error) with a bounded
    number of fixed-delay retries. Only a manual Reconnect leaves Error.
  - LivenessMonitor: pings the store when a connected channel has gone
    quiet and forces a reconnect when the session has been down too long.
  - Reconciler and View: apply bulk-loaded history and incremental events
    exactly once, deduplicating by message ID, by idempotency key, and by
    body for assistant messages that carry no key.
  - PlaybackSynchronizer: tracks the local playback position and resolves
    which moment a question refers to.
  - Classifier and Dispatcher: decide whether a chat message is a question
    for the assistant, persist it, and forward permitted questions to the
    analysis service.

Room state is written by one loop goroutine. Transport events, the
transcript load, roster refreshes and locally sent messages are all handed
to that loop, so concurrent arrivals cannot interleave inside the view.
Periodic work (liveness checks, heartbeats, player polling) runs as
services under a per-room supervisor tree that Leave stops before
returning:

	room, err := sync.Join(ctx, deps, cfg.Sync, roomID, profile)
	if err != nil {
		return err
	}
	defer room.Leave()

	<-room.Loaded()
	res, err := room.Send(ctx, "@ai what happens at 2:30?")

Errors returned by Room operations wrap one of ErrTransport,
ErrPersistence, ErrDispatch, ErrValidation or ErrPermission and can be
tested with errors.Is. Failures the user should see are also published on
Notices.
*/
package sync
