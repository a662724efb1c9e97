// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tomtom215/roomsync/internal/config"
)

var (
	// ErrNoIdentity is returned when neither a token nor a user id is configured.
	ErrNoIdentity = errors.New("no access token or user id configured")

	// ErrInvalidSubject is returned when the token subject is not a user id.
	ErrInvalidSubject = errors.New("token subject is not a valid user id")
)

// Claims represents the realtime access token claims the client reads.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the local user.
type Identity struct {
	UserID uuid.UUID
	Email  string
	// Role is the issuer's role claim, unrelated to room roles.
	Role string
	// ExpiresAt is zero when the token carries no expiry or no token is used.
	ExpiresAt time.Time
	// Token is the raw access token, empty when the id was configured directly.
	Token string
}

// Expired reports whether the token has expired at now.
func (i *Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// ParseToken reads the identity from an access token without verifying its
// signature.
func ParseToken(tokenString string) (*Identity, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, ErrNoIdentity
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSubject, claims.Subject)
	}

	id := &Identity{
		UserID: userID,
		Email:  claims.Email,
		Role:   claims.Role,
		Token:  tokenString,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// Resolve builds the local identity from configuration. A configured user id
// takes precedence over the token subject; the token is kept either way.
func Resolve(cfg *config.IdentityConfig) (*Identity, error) {
	var id *Identity
	if cfg.AccessToken != "" {
		parsed, err := ParseToken(cfg.AccessToken)
		if err != nil && cfg.UserID == "" {
			return nil, err
		}
		if parsed != nil {
			id = parsed
		}
	}

	if cfg.UserID != "" {
		userID, err := uuid.Parse(cfg.UserID)
		if err != nil || userID == uuid.Nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSubject, cfg.UserID)
		}
		if id == nil {
			id = &Identity{Token: strings.TrimSpace(cfg.AccessToken)}
		}
		id.UserID = userID
	}

	if id == nil {
		return nil, ErrNoIdentity
	}
	return id, nil
}
