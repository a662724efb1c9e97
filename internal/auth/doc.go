// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

/*
Package auth resolves the identity of the local user.

Sessions are issued elsewhere. The client only holds the realtime access
token the issuer handed out, and reads the user id (the "sub" claim) and the
expiry from it without verifying the signature. Verification is the job of
the services the token is presented to.

Usage Example:

	id, err := auth.Resolve(&cfg.Identity)
	if err != nil {
	    return fmt.Errorf("resolve identity: %w", err)
	}
	if id.Expired(time.Now()) {
	    logging.Warn().Time("expires_at", id.ExpiresAt).Msg("Access token expired")
	}

When no token is configured, IDENTITY_USER_ID must name the user directly.
*/
package auth
