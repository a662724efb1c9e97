// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/roomsync/internal/analysis"
	"github.com/tomtom215/roomsync/internal/authz"
	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/metrics"
	"github.com/tomtom215/roomsync/internal/models"
	"github.com/tomtom215/roomsync/internal/player"
	"github.com/tomtom215/roomsync/internal/store"
	"github.com/tomtom215/roomsync/internal/supervisor"
	"github.com/tomtom215/roomsync/internal/supervisor/services"
	"github.com/tomtom215/roomsync/internal/transport"
	"github.com/tomtom215/roomsync/internal/validation"
)

// Deps are the collaborators of a room session.
type Deps struct {
	Store     store.SessionStore
	Transport transport.Transport
	// Analyzer answers questions; nil saves questions as plain chat.
	Analyzer analysis.Analyzer
	// Authorizer decides permissions; nil applies the built-in roles.
	Authorizer authz.Authorizer
	// Player is the embedded player; nil when none is attached.
	Player player.Player
}

// authorLookupTimeout bounds a profile lookup for a message's author.
const authorLookupTimeout = 5 * time.Second

// Snapshot is a consistent copy of a room's local view.
type Snapshot struct {
	Room         models.Room
	Participants []models.Participant
	Messages     []models.ViewMessage
	State        ConnState
	Role         authz.Role
	Position     int
	Playing      bool
	Thinking     bool
}

// Room is a joined room: one subscription, one local view, one loop.
//
// The loop goroutine is the only writer of the transcript. Transport
// events, bulk loads, roster refreshes and locally sent messages all reach
// it in order through channels. Leave tears everything down synchronously.
type Room struct {
	id   uuid.UUID
	user models.Profile
	deps Deps
	cfg  config.SyncConfig
	log  zerolog.Logger

	view       *View
	reconciler *Reconciler
	playback   *PlaybackSynchronizer
	dispatcher *Dispatcher
	conn       *ConnectionManager
	liveness   *LivenessMonitor
	tree       *supervisor.RoomTree

	ctx      context.Context
	cancel   context.CancelFunc
	ops      chan func()
	loopDone chan struct{}
	wg       sync.WaitGroup

	// pending holds incoming messages in arrival order while the author of
	// the first one is looked up. Owned by the loop.
	pending   []models.Message
	resolving bool

	arrivals  chan models.ViewMessage
	loaded    chan struct{}
	loadOnce  sync.Once
	connected atomic.Bool

	noticeMu     sync.RWMutex
	notices      chan Notice
	noticeClosed bool

	thinkMu    sync.Mutex
	thinkTimer *time.Timer
	thinkGen   uint64
	left       bool

	leaveOnce sync.Once
	leaveErr  error
}

// Join enters the room with the given id as user. The participant row is
// upserted, so joining again never duplicates it.
func Join(ctx context.Context, deps Deps, cfg config.SyncConfig, roomID uuid.UUID, user models.Profile) (*Room, error) {
	if deps.Store == nil || deps.Transport == nil {
		return nil, errors.New("sync: store and transport are required")
	}
	room, err := deps.Store.Room(ctx, roomID)
	if err != nil {
		return nil, newError(ErrPersistence, "join", err)
	}
	return join(ctx, deps, cfg, room, user)
}

// JoinByCode enters the room with the given join code.
func JoinByCode(ctx context.Context, deps Deps, cfg config.SyncConfig, code string, user models.Profile) (*Room, error) {
	if deps.Store == nil || deps.Transport == nil {
		return nil, errors.New("sync: store and transport are required")
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if err := validation.ValidateVar(code, "joincode"); err != nil {
		return nil, newError(ErrValidation, "join", err)
	}
	room, err := deps.Store.RoomByJoinCode(ctx, code)
	if err != nil {
		return nil, newError(ErrPersistence, "join", err)
	}
	return join(ctx, deps, cfg, room, user)
}

func join(ctx context.Context, deps Deps, cfg config.SyncConfig, room *models.Room, user models.Profile) (*Room, error) {
	err := deps.Store.UpsertParticipant(ctx, models.Participant{
		RoomID:      room.ID,
		UserID:      user.UserID,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
		JoinedAt:    time.Now().UTC(),
		IsActive:    true,
	})
	if err != nil {
		return nil, newError(ErrPersistence, "join", err)
	}

	log := logging.WithRoom("room", room.ID.String(), user.UserID.String(), cfg.Debug)

	if user.DisplayName != "" {
		if err := deps.Store.UpsertProfile(ctx, user); err != nil {
			log.Warn().Err(err).Msg("Could not save profile")
		}
	}

	roster, err := deps.Store.Participants(ctx, room.ID)
	if err != nil {
		return nil, newError(ErrPersistence, "join", err)
	}

	if cfg.ThinkingTimeout <= 0 {
		cfg.ThinkingTimeout = 30 * time.Second
	}
	if cfg.BulkLoadLimit <= 0 {
		cfg.BulkLoadLimit = 100
	}
	if cfg.NoticeBuffer <= 0 {
		cfg.NoticeBuffer = 32
	}

	r := &Room{
		id:       room.ID,
		user:     user,
		deps:     deps,
		cfg:      cfg,
		log:      log,
		ops:      make(chan func(), 64),
		loopDone: make(chan struct{}),
		arrivals: make(chan models.ViewMessage, 256),
		loaded:   make(chan struct{}),
		notices:  make(chan Notice, cfg.NoticeBuffer),
	}
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))

	r.view = NewView(*room)
	r.view.setRoster(roster)
	r.reconciler = NewReconciler(r.view, log)
	r.reconciler.Learn(roster)
	r.playback = NewPlaybackSynchronizer(deps.Player, cfg.FallbackTimestamp, log)
	r.playback.ObserveRoom(*room)
	r.dispatcher = NewDispatcher(deps.Store, deps.Analyzer, deps.Authorizer, NewClassifier(cfg.MentionToken), r.playback, r, log)

	r.conn = NewConnectionManager(deps.Transport, room.ID.String(),
		transport.RoomTopic(room.ID), transport.RoomFilters(room.ID),
		ConnectionConfigFrom(cfg),
		ConnectionHooks{OnStateChange: r.onStateChange, OnNotice: r.notify},
		log)
	r.liveness = NewLivenessMonitor(r.conn, deps.Store, LivenessConfig{
		IdleThreshold:     cfg.IdleThreshold,
		RecoveryThreshold: cfg.RecoveryThreshold,
		RecoveryCooldown:  cfg.RecoveryCooldown,
	}, log)

	r.tree = supervisor.NewRoomTree(logging.NewSlogLogger("room-supervisor"), room.ID.String(), supervisor.TreeConfig{
		ShutdownTimeout: 5 * time.Second,
	})
	r.tree.Add(services.NewPeriodicService("liveness", cfg.LivenessInterval, r.liveness.Check))
	r.tree.Add(services.NewPeriodicService("heartbeat", cfg.HeartbeatInterval, func(ctx context.Context) {
		_ = r.conn.SendHeartbeat(ctx)
	}))
	if deps.Player != nil {
		r.tree.Add(services.NewPeriodicService("player-poll", cfg.PollInterval, r.playback.Poll))
	}

	go r.loop()
	if err := r.conn.Start(r.ctx); err != nil {
		r.cancel()
		<-r.loopDone
		return nil, err
	}
	if err := r.tree.Start(r.ctx); err != nil {
		log.Error().Err(err).Msg("Room supervisor did not start")
	}

	r.wg.Add(1)
	go r.loadTranscript(true)

	log.Info().Str("room_name", room.Name).Int("participants", len(roster)).Msg("Joined room")
	return r, nil
}

// ID returns the room id.
func (r *Room) ID() uuid.UUID {
	return r.id
}

// Arrivals delivers messages as they are applied after the initial load.
// Messages are dropped if the channel is not drained. It is closed by Leave.
func (r *Room) Arrivals() <-chan models.ViewMessage {
	return r.arrivals
}

// Notices delivers user-visible notices. It is closed by Leave.
func (r *Room) Notices() <-chan Notice {
	return r.notices
}

// Loaded is closed once the initial transcript has been merged.
func (r *Room) Loaded() <-chan struct{} {
	return r.loaded
}

// State returns the connection state.
func (r *Room) State() ConnState {
	return r.conn.State()
}

// Role returns the local user's current role in the room.
func (r *Room) Role() authz.Role {
	room := r.view.Room()
	return authz.RoleFor(&room, r.view.Roster(), r.user.UserID)
}

// Snapshot returns a copy of the local view.
func (r *Room) Snapshot() Snapshot {
	return Snapshot{
		Room:         r.view.Room(),
		Participants: r.view.Roster(),
		Messages:     r.view.Messages(),
		State:        r.conn.State(),
		Role:         r.Role(),
		Position:     r.playback.Position(),
		Playing:      r.playback.Playing(),
		Thinking:     r.view.Thinking(),
	}
}

// Reconnect opens a fresh subscription, leaving the Error state if needed.
func (r *Room) Reconnect() {
	r.conn.Reconnect()
}

// Send posts a chat message and, if it is a permitted question about the
// loaded video, dispatches it to the analysis service.
func (r *Room) Send(ctx context.Context, text string) (*SendResult, error) {
	if r.ctx.Err() != nil {
		return nil, ErrLeft
	}
	return r.dispatcher.Send(ctx, SendRequest{
		Room:     r.view.Room(),
		Role:     r.Role(),
		AuthorID: r.user.UserID,
		Text:     text,
	})
}

// Seek moves the local player to an MM:SS position. The owner's seeks are
// also shared with the room.
func (r *Room) Seek(ctx context.Context, input string) error {
	if r.ctx.Err() != nil {
		return ErrLeft
	}
	seconds, err := r.playback.Seek(ctx, input)
	if err != nil {
		r.notify(Notice{Kind: NoticeValidation, Text: "Enter a time as MM:SS.", Err: err, At: time.Now()})
		return err
	}
	if !r.may(r.Role(), authz.ActionSync) {
		return nil
	}

	playing := r.playback.Playing()
	updated, err := r.deps.Store.UpdateRoom(ctx, r.id, models.RoomPatch{PositionSeconds: &seconds, IsPlaying: &playing})
	if err != nil {
		return r.persistenceFailed("seek", err)
	}
	r.roomChanged(*updated)
	r.recordVideoAction(ctx, fmt.Sprintf("%s jumped to %s", r.displayName(), analysis.FormatTimestamp(seconds)))
	return nil
}

// RenameRoom changes the room's display name. Only the owner may rename.
func (r *Room) RenameRoom(ctx context.Context, name string) error {
	if r.ctx.Err() != nil {
		return ErrLeft
	}
	if err := r.authorize(authz.ActionRename, "rename"); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	patch := models.RoomPatch{Name: &name}
	if name == "" {
		return r.invalid("rename", errors.New("name is required"), "Room names can't be empty.")
	}
	if verr := validation.ValidateStruct(patch); verr != nil {
		return r.invalid("rename", verr, "Room names can be at most 120 characters.")
	}

	updated, err := r.deps.Store.UpdateRoom(ctx, r.id, patch)
	if err != nil {
		return r.persistenceFailed("rename", err)
	}
	r.roomChanged(*updated)
	r.log.Info().Str("room_name", name).Msg("Room renamed")
	return nil
}

// LoadVideo replaces the room's video and rewinds it. Only the owner may
// load a video.
func (r *Room) LoadVideo(ctx context.Context, videoURL string) error {
	if r.ctx.Err() != nil {
		return ErrLeft
	}
	if err := r.authorize(authz.ActionLoadVideo, "load video"); err != nil {
		return err
	}
	videoURL = strings.TrimSpace(videoURL)
	zero, paused := 0, false
	patch := models.RoomPatch{VideoURL: &videoURL, PositionSeconds: &zero, IsPlaying: &paused}
	if videoURL == "" {
		return r.invalid("load video", errors.New("video url is required"), "Enter a video link.")
	}
	if verr := validation.ValidateStruct(patch); verr != nil {
		return r.invalid("load video", verr, "That doesn't look like a video link.")
	}

	updated, err := r.deps.Store.UpdateRoom(ctx, r.id, patch)
	if err != nil {
		return r.persistenceFailed("load video", err)
	}
	r.roomChanged(*updated)
	r.playback.SeekTo(ctx, 0)
	r.recordVideoAction(ctx, fmt.Sprintf("%s loaded a new video: %s", r.displayName(), videoURL))
	return nil
}

// Leave unsubscribes, stops every periodic task and the thinking timeout,
// and waits for the room's goroutines. Safe to call more than once.
func (r *Room) Leave() error {
	r.leaveOnce.Do(func() {
		r.thinkMu.Lock()
		r.left = true
		if r.thinkTimer != nil {
			r.thinkTimer.Stop()
			r.thinkTimer = nil
		}
		r.thinkMu.Unlock()

		var errs []error
		if err := r.tree.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop room supervisor: %w", err))
		}
		r.conn.Stop()

		r.cancel()
		<-r.loopDone
		r.wg.Wait()

		close(r.arrivals)
		r.noticeMu.Lock()
		r.noticeClosed = true
		close(r.notices)
		r.noticeMu.Unlock()

		metrics.RoomConnectionState.DeleteLabelValues(r.id.String())
		r.leaveErr = errors.Join(errs...)
		r.log.Info().Msg("Left room")
	})
	return r.leaveErr
}

func (r *Room) loop() {
	defer close(r.loopDone)

	events := r.conn.Events()
	var playerEvents <-chan player.Event
	if r.deps.Player != nil {
		playerEvents = r.deps.Player.Events()
	}

	for {
		select {
		case <-r.ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.handleEvent(ev)

		case op := <-r.ops:
			op()

		case pev, ok := <-playerEvents:
			if !ok {
				playerEvents = nil
				continue
			}
			r.playback.ObservePlayer(pev)
			if pev.Kind == player.EventError {
				r.log.Warn().Str("error", pev.Err).Msg("Player reported an error")
			}
		}
	}
}

func (r *Room) handleEvent(ev models.Event) {
	if ev.RoomID != r.id || !ev.Valid() {
		return
	}
	switch ev.Kind {
	case models.EventMessageInserted:
		r.enqueue(*ev.Message)
	case models.EventRoomUpdated:
		r.view.setRoom(*ev.Room)
		r.playback.ObserveRoom(*ev.Room)
	case models.EventParticipantsChanged:
		r.wg.Add(1)
		go r.refreshRoster()
	}
}

// enqueue queues an incoming message and applies whatever is ready. A
// message whose author is unknown waits for a lookup that runs off the loop,
// and the messages behind it wait too, so arrival order is kept.
func (r *Room) enqueue(m models.Message) {
	r.pending = append(r.pending, m)
	r.drain()
}

func (r *Room) drain() {
	for len(r.pending) > 0 && !r.resolving {
		m := r.pending[0]
		if id, missing := r.reconciler.MissingAuthor(m); missing {
			r.resolving = true
			r.wg.Add(1)
			go r.lookupAuthor(id)
			return
		}
		r.pending = r.pending[1:]
		r.apply(m)
	}
}

func (r *Room) lookupAuthor(id uuid.UUID) {
	defer r.wg.Done()
	ctx, cancel := context.WithTimeout(r.ctx, authorLookupTimeout)
	author, err := LookupAuthor(ctx, r.deps.Store, id)
	cancel()

	r.post(func() {
		r.resolving = false
		if err != nil {
			r.log.Warn().Err(err).Str("author_id", id.String()).Msg("Author lookup failed")
			// Show the waiting message with a placeholder and retry the
			// lookup on the author's next message.
			m := r.pending[0]
			r.pending = r.pending[1:]
			r.apply(m)
		} else {
			r.reconciler.Remember(author)
		}
		r.drain()
	})
}

// apply runs on the loop.
func (r *Room) apply(m models.Message) {
	vm, res := r.reconciler.Apply(m)
	if res != Applied {
		return
	}
	if m.Kind == models.KindAIResponse {
		r.stopThinking()
	}
	select {
	case r.arrivals <- vm:
	default:
		r.log.Debug().Str("message_id", m.ID.String()).Msg("Arrivals channel full, message not published")
	}
}

// post hands op to the loop. It reports false once the room is left.
func (r *Room) post(op func()) bool {
	select {
	case r.ops <- op:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *Room) loadTranscript(initial bool) {
	defer r.wg.Done()
	start := time.Now()

	msgs, err := r.deps.Store.RecentMessages(r.ctx, r.id, r.cfg.BulkLoadLimit)
	if err != nil {
		if r.ctx.Err() != nil {
			return
		}
		r.log.Error().Err(err).Msg("Could not load chat history")
		r.notify(Notice{Kind: NoticePersistence, Text: "Couldn't load the chat history.", Err: newError(ErrPersistence, "load history", err), At: time.Now()})
		return
	}
	authors, err := ResolveAuthors(r.ctx, r.deps.Store, msgs)
	if err != nil && r.ctx.Err() == nil {
		r.log.Warn().Err(err).Msg("Could not resolve message authors")
	}
	if initial {
		metrics.BulkLoadDuration.Observe(time.Since(start).Seconds())
	}

	r.post(func() {
		added := r.reconciler.Merge(msgs, authors)
		r.log.Debug().Int("loaded", len(msgs)).Int("added", added).Bool("initial", initial).Msg("Transcript merged")
		if initial {
			r.loadOnce.Do(func() { close(r.loaded) })
		}
	})
}

func (r *Room) refreshRoster() {
	defer r.wg.Done()
	roster, err := r.deps.Store.Participants(r.ctx, r.id)
	if err != nil {
		if r.ctx.Err() == nil {
			r.log.Warn().Err(err).Msg("Could not refresh participants")
		}
		return
	}
	r.post(func() {
		r.view.setRoster(roster)
		r.reconciler.Learn(roster)
	})
}

// onStateChange runs on the connection goroutine and must not block.
func (r *Room) onStateChange(from, to ConnState) {
	if to != StateConnected {
		return
	}
	// Messages sent while disconnected are picked up by re-reading the
	// transcript after every reconnect.
	if r.connected.Swap(true) && r.ctx.Err() == nil {
		r.wg.Add(1)
		go r.loadTranscript(false)
	}
}

// deliver implements dispatchSink.
func (r *Room) deliver(m models.Message) {
	r.post(func() { r.enqueue(m) })
}

// startThinking implements dispatchSink.
func (r *Room) startThinking() {
	r.thinkMu.Lock()
	defer r.thinkMu.Unlock()
	if r.left {
		return
	}
	if r.thinkTimer != nil {
		r.thinkTimer.Stop()
	}
	r.thinkGen++
	gen := r.thinkGen
	r.view.setThinking(true)
	r.thinkTimer = time.AfterFunc(r.cfg.ThinkingTimeout, func() { r.thinkingExpired(gen) })
}

// stopThinking implements dispatchSink.
func (r *Room) stopThinking() {
	r.thinkMu.Lock()
	defer r.thinkMu.Unlock()
	if r.thinkTimer != nil {
		r.thinkTimer.Stop()
		r.thinkTimer = nil
	}
	r.thinkGen++
	r.view.setThinking(false)
}

func (r *Room) thinkingExpired(gen uint64) {
	r.thinkMu.Lock()
	defer r.thinkMu.Unlock()
	if r.left || gen != r.thinkGen {
		return
	}
	r.thinkTimer = nil
	r.view.setThinking(false)
	r.log.Warn().Dur("timeout", r.cfg.ThinkingTimeout).Msg("No answer from the assistant, clearing thinking indicator")
}

// notify implements dispatchSink. Notices are dropped, not queued, when
// nobody is reading.
func (r *Room) notify(n Notice) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	r.noticeMu.RLock()
	defer r.noticeMu.RUnlock()
	if r.noticeClosed {
		return
	}
	select {
	case r.notices <- n:
	default:
		r.log.Warn().Str("kind", string(n.Kind)).Str("text", n.Text).Msg("Notice dropped")
	}
}

func (r *Room) may(role authz.Role, action authz.Action) bool {
	return permitted(r.deps.Authorizer, role, action, r.log)
}

func (r *Room) authorize(action authz.Action, op string) error {
	role := r.Role()
	if r.may(role, action) {
		return nil
	}
	err := newError(ErrPermission, op, fmt.Errorf("role %s may not %s", role, action))
	r.notify(Notice{Kind: NoticePermission, Text: "Only the room owner can do that.", Err: err, At: time.Now()})
	return err
}

func (r *Room) invalid(op string, cause error, text string) error {
	err := newError(ErrValidation, op, cause)
	r.notify(Notice{Kind: NoticeValidation, Text: text, Err: err, At: time.Now()})
	return err
}

func (r *Room) persistenceFailed(op string, cause error) error {
	err := newError(ErrPersistence, op, cause)
	r.log.Error().Err(cause).Str("op", op).Msg("Store write failed")
	r.notify(Notice{Kind: NoticePersistence, Text: "Couldn't save your change. Please try again.", Err: err, At: time.Now()})
	return err
}

func (r *Room) roomChanged(room models.Room) {
	r.post(func() {
		r.view.setRoom(room)
		r.playback.ObserveRoom(room)
	})
}

// recordVideoAction writes a video_action entry to the transcript. Failure
// is logged only; the action itself already succeeded.
func (r *Room) recordVideoAction(ctx context.Context, body string) {
	m, err := r.deps.Store.InsertMessage(ctx, models.NewMessage{
		RoomID:   r.id,
		AuthorID: r.user.UserID,
		Body:     body,
		Kind:     models.KindVideoAction,
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("Could not record video action")
		return
	}
	r.deliver(*m)
}

func (r *Room) displayName() string {
	if r.user.DisplayName != "" {
		return r.user.DisplayName
	}
	return "Someone"
}

// defaultPermissions mirror the built-in Casbin policy for callers that run
// without an enforcer.
var defaultPermissions = map[authz.Role][]authz.Action{
	authz.RoleVisitor:     {authz.ActionRead, authz.ActionSend},
	authz.RoleParticipant: {authz.ActionRead, authz.ActionSend, authz.ActionAsk},
	authz.RoleOwner: {
		authz.ActionRead, authz.ActionSend, authz.ActionAsk,
		authz.ActionRename, authz.ActionLoadVideo, authz.ActionSync,
	},
}

func permitted(a authz.Authorizer, role authz.Role, action authz.Action, log zerolog.Logger) bool {
	if a == nil {
		for _, allowed := range defaultPermissions[role] {
			if allowed == action {
				return true
			}
		}
		return false
	}
	ok, err := a.Can(role, action)
	if err != nil {
		log.Error().Err(err).Str("role", string(role)).Str("action", string(action)).Msg("Permission check failed")
		return false
	}
	return ok
}
