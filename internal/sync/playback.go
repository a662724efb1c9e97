// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package sync

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/roomsync/internal/models"
	"github.com/tomtom215/roomsync/internal/player"
	"github.com/tomtom215/roomsync/internal/validation"
)

// inlineTimestamp finds an MM:SS reference inside free text. Longer
// colon-separated runs such as 1:02:03 do not match.
var inlineTimestamp = regexp.MustCompile(`(?:^|[^\d:])(\d{1,3}):([0-5]\d)(?:$|[^\d:])`)

// Phrases that make a question refer to the whole video rather than the
// current moment.
var wholeVideoPhrases = []string{
	"whole video",
	"entire video",
	"full video",
	"whole thing",
	"whole movie",
	"entire movie",
	"from start to finish",
	"beginning to end",
	"overall",
	"summary",
	"summarize",
	"summarise",
	"recap",
}

// ParseTimestamp parses MM:SS into seconds. Minutes may exceed 59.
func ParseTimestamp(s string) (int, error) {
	s = strings.TrimSpace(s)
	if !validation.IsTimestamp(s) {
		return 0, newError(ErrValidation, "parse timestamp", fmt.Errorf("%q is not MM:SS", s))
	}
	mm, ss, _ := strings.Cut(s, ":")
	minutes, _ := strconv.Atoi(mm)
	seconds, _ := strconv.Atoi(ss)
	return minutes*60 + seconds, nil
}

// explicitTimestamp returns the first MM:SS mentioned in text.
func explicitTimestamp(text string) (int, bool) {
	m := inlineTimestamp.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	minutes, _ := strconv.Atoi(m[1])
	seconds, _ := strconv.Atoi(m[2])
	return minutes*60 + seconds, true
}

func mentionsWholeVideo(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range wholeVideoPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// PlaybackSynchronizer tracks the local playback position in whole seconds
// and drives the embedded player.
//
// The local position is updated by seeks (optimistically, before the player
// confirms), by the player's own reports and by polling. The room's shared
// position is kept apart and only used when nothing local is known.
type PlaybackSynchronizer struct {
	player   player.Player
	fallback int
	log      zerolog.Logger

	mu       sync.Mutex
	local    int
	room     int
	playing  bool
	observed bool
}

// NewPlaybackSynchronizer creates a synchronizer. p may be nil when no
// player is attached; fallback is used when no position is known at all.
func NewPlaybackSynchronizer(p player.Player, fallback int, log zerolog.Logger) *PlaybackSynchronizer {
	return &PlaybackSynchronizer{player: p, fallback: fallback, log: log}
}

// Position returns the best known position: local, then room, then zero.
func (s *PlaybackSynchronizer) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local > 0 {
		return s.local
	}
	return s.room
}

// Seek parses an MM:SS input and seeks to it.
func (s *PlaybackSynchronizer) Seek(ctx context.Context, input string) (int, error) {
	seconds, err := ParseTimestamp(input)
	if err != nil {
		return 0, err
	}
	s.SeekTo(ctx, seconds)
	return seconds, nil
}

// SeekTo moves the local position and commands the player without waiting
// for its confirmation. A player error is logged only; the next position
// report overwrites the optimistic value either way.
func (s *PlaybackSynchronizer) SeekTo(ctx context.Context, seconds int) {
	if seconds < 0 {
		seconds = 0
	}
	s.mu.Lock()
	s.local = seconds
	s.observed = true
	s.mu.Unlock()

	if s.player == nil {
		return
	}
	if err := s.player.SeekTo(ctx, seconds); err != nil {
		s.log.Warn().Err(err).Int("seconds", seconds).Msg("Player seek failed")
	}
}

// ObservePlayer applies a validated player event.
func (s *PlaybackSynchronizer) ObservePlayer(ev player.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.HasPosition {
		s.local = ev.Seconds
		s.observed = true
	}
	if ev.Kind == player.EventState {
		s.playing = ev.Playing
	}
}

// Poll asks the player for its position. It is used only for players that
// do not push position events.
func (s *PlaybackSynchronizer) Poll(ctx context.Context) {
	if s.player == nil {
		return
	}
	seconds, err := s.player.CurrentTime(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Debug().Err(err).Msg("Player position poll failed")
		}
		return
	}
	s.mu.Lock()
	s.local = seconds
	s.observed = true
	s.mu.Unlock()
}

// ObserveRoom records the room's shared position.
func (s *PlaybackSynchronizer) ObserveRoom(room models.Room) {
	s.mu.Lock()
	s.room = room.PositionSeconds
	if !s.observed {
		s.playing = room.IsPlaying
	}
	s.mu.Unlock()
}

// Playing reports the last known play state.
func (s *PlaybackSynchronizer) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// ResolveTimestamp picks the position a question refers to:
//
//  1. an MM:SS written in the question
//  2. nil, when the question is about the whole video
//  3. the local position
//  4. the room's shared position
//  5. the fallback
func (s *PlaybackSynchronizer) ResolveTimestamp(question string) *int {
	if seconds, ok := explicitTimestamp(question); ok {
		return &seconds
	}
	if mentionsWholeVideo(question) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seconds := s.fallback
	switch {
	case s.local > 0:
		seconds = s.local
	case s.room > 0:
		seconds = s.room
	}
	return &seconds
}
