// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package sync

import (
	"context"
	"errors"
	"io"
	"slices"
	"sort"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/roomsync/internal/analysis"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/models"
	"github.com/tomtom215/roomsync/internal/player"
	"github.com/tomtom215/roomsync/internal/store"
	"github.com/tomtom215/roomsync/internal/transport"
)

func testLog() zerolog.Logger {
	return logging.NewTestLogger(io.Discard)
}

// waitFor polls cond until it holds or timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// clock is a manually advanced time source.
type clock struct {
	mu gosync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memStore is an in-memory store.SessionStore.
type memStore struct {
	mu           gosync.Mutex
	rooms        map[uuid.UUID]models.Room
	participants map[uuid.UUID][]models.Participant
	messages     []models.Message
	profiles     map[uuid.UUID]models.Profile
	seq          int

	insertErr error
	updateErr error
	recentErr error
	pingErr   error
	fetchErr  error

	// fetchGate, when set, holds FetchProfiles until it is closed.
	fetchGate chan struct{}

	inserts      atomic.Int32
	pings        atomic.Int32
	fetchBatches atomic.Int32
}

var _ store.SessionStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		rooms:        make(map[uuid.UUID]models.Room),
		participants: make(map[uuid.UUID][]models.Participant),
		profiles:     make(map[uuid.UUID]models.Profile),
	}
}

func (s *memStore) addRoom(r models.Room) models.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	s.rooms[r.ID] = r
	return r
}

// seed stores a message as if another client had written it.
func (s *memStore) seed(m models.Message) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		s.seq++
		m.CreatedAt = time.Date(2026, 3, 1, 19, 0, s.seq, 0, time.UTC)
	}
	s.messages = append(s.messages, m)
	return m
}

func (s *memStore) setErr(target *error, err error) {
	s.mu.Lock()
	*target = err
	s.mu.Unlock()
}

func (s *memStore) Room(_ context.Context, id uuid.UUID) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s *memStore) RoomByJoinCode(_ context.Context, code string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if r.JoinCode == code {
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memStore) CreateRoom(_ context.Context, room models.Room) (*models.Room, error) {
	r := s.addRoom(room)
	return &r, nil
}

func (s *memStore) UpdateRoom(_ context.Context, id uuid.UUID, patch models.RoomPatch) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	r, ok := s.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.Name != nil {
		r.Name = *patch.Name
	}
	if patch.VideoURL != nil {
		v := *patch.VideoURL
		r.VideoURL = &v
	}
	if patch.PositionSeconds != nil {
		r.PositionSeconds = *patch.PositionSeconds
	}
	if patch.IsPlaying != nil {
		r.IsPlaying = *patch.IsPlaying
	}
	s.rooms[id] = r
	return &r, nil
}

func (s *memStore) UpsertParticipant(_ context.Context, p models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.participants[p.RoomID] {
		if existing.UserID == p.UserID {
			return nil
		}
	}
	s.participants[p.RoomID] = append(s.participants[p.RoomID], p)
	return nil
}

func (s *memStore) Participants(_ context.Context, roomID uuid.UUID) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.participants[roomID]), nil
}

func (s *memStore) InsertMessage(_ context.Context, m models.NewMessage) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	s.inserts.Add(1)
	s.seq++
	msg := models.Message{
		ID:             uuid.New(),
		RoomID:         m.RoomID,
		AuthorID:       m.AuthorID,
		Body:           m.Body,
		Kind:           m.Kind,
		IdempotencyKey: m.IdempotencyKey,
		CreatedAt:      time.Date(2026, 3, 1, 19, 0, s.seq, 0, time.UTC),
	}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *memStore) RecentMessages(_ context.Context, roomID uuid.UUID, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	var out []models.Message
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) FetchProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error) {
	s.fetchBatches.Add(1)
	s.mu.Lock()
	gate := s.fetchGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	out := make(map[uuid.UUID]models.Profile, len(ids))
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *memStore) holdFetches() chan struct{} {
	gate := make(chan struct{})
	s.mu.Lock()
	s.fetchGate = gate
	s.mu.Unlock()
	return gate
}

func (s *memStore) UpsertProfile(_ context.Context, p models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
	return nil
}

func (s *memStore) Ping(context.Context) error {
	s.pings.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *memStore) Close() error { return nil }

// Subscription behaviors of fakeTransport.
const (
	subConfirm = iota
	subClose
	subFail
	// subPending never reports a status.
	subPending
)

// fakeTransport hands out fakeSubs and reports status synchronously.
type fakeTransport struct {
	mu       gosync.Mutex
	mode     int
	subs     []*fakeSub
	attempts atomic.Int32
}

func newFakeTransport(mode int) *fakeTransport {
	return &fakeTransport{mode: mode}
}

func (t *fakeTransport) setMode(mode int) {
	t.mu.Lock()
	t.mode = mode
	t.mu.Unlock()
}

func (t *fakeTransport) Subscribe(_ context.Context, _ string, _ []transport.Filter, onStatus transport.StatusFunc) (transport.Subscription, error) {
	t.attempts.Add(1)
	t.mu.Lock()
	mode := t.mode
	sub := &fakeSub{events: make(chan models.Event, 16), onStatus: onStatus}
	if mode != subFail {
		t.subs = append(t.subs, sub)
	}
	t.mu.Unlock()

	switch mode {
	case subFail:
		return nil, errors.New("dial refused")
	case subClose:
		onStatus(transport.StatusClosed, errors.New("socket closed"))
	case subPending:
	default:
		onStatus(transport.StatusSubscribed, nil)
	}
	return sub, nil
}

func (t *fakeTransport) last() *fakeSub {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subs) == 0 {
		return nil
	}
	return t.subs[len(t.subs)-1]
}

type fakeSub struct {
	mu       gosync.Mutex
	events   chan models.Event
	onStatus transport.StatusFunc
	closed   bool
	sendErr  error
	sends    atomic.Int32
}

func (s *fakeSub) Events() <-chan models.Event { return s.events }

func (s *fakeSub) push(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.events <- ev
	}
}

func (s *fakeSub) Send(context.Context, any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return transport.ErrNotSubscribed
	}
	s.sends.Add(1)
	return s.sendErr
}

func (s *fakeSub) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeAnalyzer records requests and replies with a canned response.
type fakeAnalyzer struct {
	mu    gosync.Mutex
	reqs  []analysis.Request
	resp  *analysis.Response
	err   error
	calls atomic.Int32
}

func (a *fakeAnalyzer) Analyze(_ context.Context, req analysis.Request) (*analysis.Response, error) {
	a.calls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reqs = append(a.reqs, req)
	if a.err != nil {
		return nil, a.err
	}
	if a.resp == nil {
		return &analysis.Response{}, nil
	}
	return a.resp, nil
}

func (a *fakeAnalyzer) lastRequest() analysis.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reqs[len(a.reqs)-1]
}

// fakePlayer counts commands and never pushes events unless told to.
type fakePlayer struct {
	events   chan player.Event
	position atomic.Int32
	seeks    atomic.Int32
	polls    atomic.Int32
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{events: make(chan player.Event, 8)}
}

func (p *fakePlayer) SeekTo(_ context.Context, seconds int) error {
	p.seeks.Add(1)
	p.position.Store(int32(seconds))
	return nil
}

func (p *fakePlayer) Play(context.Context) error { return nil }

func (p *fakePlayer) CurrentTime(context.Context) (int, error) {
	p.polls.Add(1)
	return int(p.position.Load()), nil
}

func (p *fakePlayer) Events() <-chan player.Event { return p.events }

func ptr[T any](v T) *T { return &v }
