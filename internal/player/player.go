// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/roomsync/internal/logging"
)

// ErrClosed is returned by a Bridge after Close.
var ErrClosed = errors.New("player bridge closed")

// EventKind identifies an inbound player event.
type EventKind string

const (
	EventReady    EventKind = "ready"
	EventPosition EventKind = "position"
	EventState    EventKind = "state"
	EventError    EventKind = "error"
)

// Event is a validated report from the player. Seconds is whole seconds,
// truncated; it is meaningful only when HasPosition is set.
type Event struct {
	Kind        EventKind
	Seconds     int
	HasPosition bool
	Playing     bool
	Err         string
}

// Player is the embedded video player as seen by the playback synchronizer.
type Player interface {
	SeekTo(ctx context.Context, seconds int) error
	Play(ctx context.Context) error
	CurrentTime(ctx context.Context) (int, error)
	Events() <-chan Event
}

// Poster delivers an outbound envelope to the player.
type Poster interface {
	Post(ctx context.Context, env Envelope) error
}

type reply struct {
	seconds float64
	err     string
}

// Bridge implements Player over a Poster. Inbound envelopes are fed to
// Receive by whatever carries them.
type Bridge struct {
	poster Poster
	policy *OriginPolicy
	events chan Event

	mu      sync.Mutex
	pending map[string]chan reply
	closed  bool

	log zerolog.Logger
}

// NewBridge creates a bridge. buffer sizes the event channel; events that do
// not fit are dropped since newer position reports supersede them.
func NewBridge(poster Poster, policy *OriginPolicy, buffer int) *Bridge {
	if buffer <= 0 {
		buffer = 32
	}
	return &Bridge{
		poster:  poster,
		policy:  policy,
		events:  make(chan Event, buffer),
		pending: make(map[string]chan reply),
		log:     logging.WithComponent("player"),
	}
}

// Events returns inbound player events. The channel is closed by Close.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// SeekTo asks the player to jump to seconds. It does not wait for the player.
func (b *Bridge) SeekTo(ctx context.Context, seconds int) error {
	if seconds < 0 {
		return fmt.Errorf("negative seek position %d", seconds)
	}
	s := float64(seconds)
	return b.post(ctx, Envelope{Type: TypeCommand, Command: CommandSeekTo, Seconds: &s})
}

// Play starts playback.
func (b *Bridge) Play(ctx context.Context) error {
	return b.post(ctx, Envelope{Type: TypeCommand, Command: CommandPlay})
}

// Pause pauses playback.
func (b *Bridge) Pause(ctx context.Context) error {
	return b.post(ctx, Envelope{Type: TypeCommand, Command: CommandPause})
}

// CurrentTime asks the player for its position and waits for the reply or ctx.
func (b *Bridge) CurrentTime(ctx context.Context) (int, error) {
	id := uuid.NewString()
	ch := make(chan reply, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, ErrClosed
	}
	b.pending[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	if err := b.post(ctx, Envelope{Type: TypeCommand, Command: CommandGetCurrentTime, RequestID: id}); err != nil {
		return 0, err
	}

	select {
	case r, ok := <-ch:
		if !ok {
			return 0, ErrClosed
		}
		if r.err != "" {
			return 0, fmt.Errorf("player: %s", r.err)
		}
		return toSeconds(r.seconds), nil
	case <-ctx.Done():
		return 0, fmt.Errorf("waiting for player position: %w", ctx.Err())
	}
}

func (b *Bridge) post(ctx context.Context, env Envelope) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := b.poster.Post(ctx, env); err != nil {
		return fmt.Errorf("post %s: %w", env.Command, err)
	}
	return nil
}

// Receive validates and applies one inbound envelope.
func (b *Bridge) Receive(data []byte) error {
	env, err := b.policy.Decode(data)
	if err != nil {
		b.log.Debug().Err(err).Msg("Rejected player message")
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	if env.Type == TypeReply {
		ch, ok := b.pending[env.RequestID]
		if !ok {
			return nil
		}
		delete(b.pending, env.RequestID)
		r := reply{err: env.Error}
		if env.Seconds != nil {
			r.seconds = *env.Seconds
		} else if r.err == "" {
			r.err = "reply without position"
		}
		ch <- r
		return nil
	}

	ev := Event{Kind: EventKind(env.Event), Err: env.Error}
	switch ev.Kind {
	case EventReady, EventPosition, EventState, EventError:
	default:
		return fmt.Errorf("%w: unknown event %q", ErrMalformedEnvelope, env.Event)
	}
	if env.Seconds != nil {
		ev.Seconds = toSeconds(*env.Seconds)
		ev.HasPosition = true
	}
	if env.Playing != nil {
		ev.Playing = *env.Playing
	}

	select {
	case b.events <- ev:
	default:
		b.log.Debug().Str("event", string(ev.Kind)).Msg("Player event buffer full, dropping event")
	}
	return nil
}

// Close fails pending position requests and closes the event channel.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
	close(b.events)
}

func toSeconds(v float64) int {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int(v)
}
