// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package player

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
)

// Envelope types.
const (
	TypeCommand = "command"
	TypeEvent   = "event"
	TypeReply   = "reply"
)

// Commands sent to the player.
const (
	CommandSeekTo         = "seekTo"
	CommandPlay           = "play"
	CommandPause          = "pause"
	CommandGetCurrentTime = "getCurrentTime"
)

var (
	// ErrOriginNotAllowed is returned for envelopes from an unlisted origin.
	ErrOriginNotAllowed = errors.New("player origin not allowed")

	// ErrMalformedEnvelope is returned for envelopes that cannot be decoded.
	ErrMalformedEnvelope = errors.New("malformed player envelope")
)

// Envelope is one message between the client and the player.
type Envelope struct {
	Type      string   `json:"type"`
	Origin    string   `json:"origin,omitempty"`
	Command   string   `json:"command,omitempty"`
	Event     string   `json:"event,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
	Seconds   *float64 `json:"seconds,omitempty"`
	Playing   *bool    `json:"playing,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// OriginPolicy validates envelope origins against an allow list. An empty
// list allows nothing.
//
// The origin checked is the one the player declares in its own envelope.
// It filters messages from embeds the client did not expect on a shared
// channel; it does not authenticate the sender, since anything that can
// write to the channel can claim an allowed origin.
type OriginPolicy struct {
	allowed map[string]struct{}
}

// NewOriginPolicy builds a policy. Entries are normalized to scheme://host[:port].
func NewOriginPolicy(origins []string) (*OriginPolicy, error) {
	p := &OriginPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		n, err := normalizeOrigin(o)
		if err != nil {
			return nil, fmt.Errorf("allowed origin %q: %w", o, err)
		}
		p.allowed[n] = struct{}{}
	}
	return p, nil
}

// Allows reports whether origin is on the list.
func (p *OriginPolicy) Allows(origin string) bool {
	n, err := normalizeOrigin(origin)
	if err != nil {
		return false
	}
	_, ok := p.allowed[n]
	return ok
}

func normalizeOrigin(origin string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("origin must be scheme://host")
	}
	if u.Path != "" && u.Path != "/" {
		return "", fmt.Errorf("origin must not carry a path")
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}

// Decode parses an inbound envelope and checks its declared origin before
// any other field is read.
func (p *OriginPolicy) Decode(data []byte) (*Envelope, error) {
	var head struct {
		Origin string `json:"origin"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if !p.Allows(head.Origin) {
		return nil, fmt.Errorf("%w: %q", ErrOriginNotAllowed, head.Origin)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if env.Type != TypeEvent && env.Type != TypeReply {
		return nil, fmt.Errorf("%w: unexpected type %q", ErrMalformedEnvelope, env.Type)
	}
	return &env, nil
}

// Encode serializes an outbound envelope.
func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode player envelope: %w", err)
	}
	return data, nil
}
