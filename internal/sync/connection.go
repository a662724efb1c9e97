// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/metrics"
	"github.com/tomtom215/roomsync/internal/models"
	"github.com/tomtom215/roomsync/internal/transport"
)

// Reconnect triggers, used as metric labels.
const (
	triggerInitial = "initial"
	triggerRetry   = "retry"
	triggerManual  = "manual"
	triggerForced  = "forced"
)

// ConnectionConfig tunes the connection state machine.
type ConnectionConfig struct {
	// MaxRetries bounds automatic reconnects after a closed channel.
	MaxRetries int
	// RetryDelay is the fixed delay before each automatic reconnect.
	RetryDelay time.Duration
	// EventBuffer sizes the room-level event channel.
	EventBuffer int
	// Debug enables debug logging for this connection only.
	Debug bool
}

// ConnectionConfigFrom extracts the connection settings from sync config.
func ConnectionConfigFrom(cfg config.SyncConfig) ConnectionConfig {
	return ConnectionConfig{
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Debug:      cfg.Debug,
	}
}

// ConnectionHooks are called from the manager goroutine and must not block.
type ConnectionHooks struct {
	OnStateChange func(from, to ConnState)
	OnNotice      func(Notice)
}

type commandKind int

const (
	cmdStatus commandKind = iota
	cmdReconnect
	cmdDemote
	cmdForce
)

type command struct {
	kind   commandKind
	gen    uint64
	status transport.Status
	err    error
}

// ConnectionManager owns the single subscription of a room and drives
//
//	Connecting -> Connected -> Disconnected -> Connecting (retry) -> Error
//
// All transitions happen on one goroutine. Transport status callbacks,
// liveness demotions and reconnect requests are queued to it without
// blocking, so a transport can report status from inside its own read loop.
//
// Every attempt opens a fresh subscription after tearing down the previous
// one. Events of the current subscription are forwarded, in order, to the
// channel returned by Events.
type ConnectionManager struct {
	transport transport.Transport
	topic     string
	filters   []transport.Filter
	roomID    string
	cfg       ConnectionConfig
	hooks     ConnectionHooks
	log       zerolog.Logger
	now       func() time.Time

	events chan models.Event

	mu                sync.RWMutex
	state             ConnState
	sub               transport.Subscription
	retries           int
	attempts          int
	lastActivity      time.Time
	disconnectedSince time.Time

	cmdMu sync.Mutex
	cmds  []command
	wake  chan struct{}

	// Owned by the run goroutine.
	gen         uint64
	forwardDone chan struct{}
	retryTimer  *time.Timer
	retryC      <-chan time.Time

	lifeMu  sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewConnectionManager creates a manager for the room's topic. It does not
// connect until Start.
func NewConnectionManager(t transport.Transport, roomID string, topic string, filters []transport.Filter, cfg ConnectionConfig, hooks ConnectionHooks, log zerolog.Logger) *ConnectionManager {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.Debug {
		log = log.Level(zerolog.DebugLevel)
	}
	return &ConnectionManager{
		transport: t,
		topic:     topic,
		filters:   filters,
		roomID:    roomID,
		cfg:       cfg,
		hooks:     hooks,
		log:       log,
		now:       time.Now,
		events:    make(chan models.Event, cfg.EventBuffer),
		state:     StateConnecting,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Events returns the ordered event stream across all attempts. It is closed
// after Stop.
func (m *ConnectionManager) Events() <-chan models.Event {
	return m.events
}

// Start begins the first connection attempt.
func (m *ConnectionManager) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.started || m.stopped {
		return errors.New("connection manager already started")
	}
	m.started = true

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.run(ctx)
	return nil
}

// Stop tears down the subscription, stops the retry timer and waits for the
// manager goroutine to exit. Safe to call more than once.
func (m *ConnectionManager) Stop() {
	m.lifeMu.Lock()
	if m.stopped {
		m.lifeMu.Unlock()
		<-m.done
		return
	}
	m.stopped = true
	if !m.started {
		m.lifeMu.Unlock()
		close(m.events)
		close(m.done)
		return
	}
	cancel := m.cancel
	m.lifeMu.Unlock()

	cancel()
	<-m.done
}

// State returns the current connection state.
func (m *ConnectionManager) State() ConnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Retries returns the automatic reconnects made since the last success.
func (m *ConnectionManager) Retries() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retries
}

// Attempts returns the number of subscriptions opened so far.
func (m *ConnectionManager) Attempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts
}

// LastActivity returns when the connection last showed signs of life.
func (m *ConnectionManager) LastActivity() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastActivity
}

// Touch records activity now.
func (m *ConnectionManager) Touch() {
	m.mu.Lock()
	m.lastActivity = m.now()
	m.mu.Unlock()
}

// DisconnectedFor returns how long the session has been without a
// confirmed subscription, or zero while connected or in Error.
func (m *ConnectionManager) DisconnectedFor(now time.Time) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == StateConnected || m.state == StateError || m.disconnectedSince.IsZero() {
		return 0
	}
	return now.Sub(m.disconnectedSince)
}

// Reconnect opens a fresh subscription and resets the retry counter. It is
// the only way out of StateError.
func (m *ConnectionManager) Reconnect() {
	m.enqueue(command{kind: cmdReconnect})
}

// Demote moves a connected session to Disconnected, entering the bounded
// retry path. It is ignored in any other state.
func (m *ConnectionManager) Demote(cause error) {
	m.enqueue(command{kind: cmdDemote, err: cause})
}

// ForceReconnect reconnects a Disconnected or Connecting session without
// consuming a retry. It is ignored while connected or in Error.
func (m *ConnectionManager) ForceReconnect() {
	m.enqueue(command{kind: cmdForce})
}

// SendHeartbeat sends a keepalive on the open subscription. It is a no-op
// unless connected.
func (m *ConnectionManager) SendHeartbeat(ctx context.Context) error {
	m.mu.RLock()
	state, sub := m.state, m.sub
	m.mu.RUnlock()
	if state != StateConnected || sub == nil {
		return nil
	}

	if err := sub.Send(ctx, transport.Heartbeat{At: m.now()}); err != nil {
		metrics.HeartbeatFailures.Inc()
		m.log.Warn().Err(err).Msg("Heartbeat failed")
		return newError(ErrTransport, "heartbeat", err)
	}
	m.log.Debug().Msg("Heartbeat sent")
	return nil
}

func (m *ConnectionManager) enqueue(c command) {
	m.cmdMu.Lock()
	m.cmds = append(m.cmds, c)
	m.cmdMu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *ConnectionManager) drain() []command {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()
	cmds := m.cmds
	m.cmds = nil
	return cmds
}

func (m *ConnectionManager) statusFunc(gen uint64) transport.StatusFunc {
	return func(status transport.Status, err error) {
		m.enqueue(command{kind: cmdStatus, gen: gen, status: status, err: err})
	}
}

func (m *ConnectionManager) run(ctx context.Context) {
	defer func() {
		m.stopRetry()
		m.teardown()
		close(m.events)
		close(m.done)
	}()

	m.connect(ctx, triggerInitial)

	for {
		select {
		case <-ctx.Done():
			return

		case <-m.retryC:
			m.retryTimer, m.retryC = nil, nil
			m.connect(ctx, triggerRetry)

		case <-m.wake:
			for _, c := range m.drain() {
				if ctx.Err() != nil {
					return
				}
				m.handle(ctx, c)
			}
		}
	}
}

func (m *ConnectionManager) handle(ctx context.Context, c command) {
	switch c.kind {
	case cmdStatus:
		if c.gen != m.gen {
			m.log.Debug().Str("status", string(c.status)).Msg("Ignoring status of a previous subscription")
			return
		}
		switch c.status {
		case transport.StatusSubscribed:
			if m.State() != StateConnecting {
				return
			}
			m.mu.Lock()
			m.retries = 0
			m.lastActivity = m.now()
			m.mu.Unlock()
			m.setState(StateConnected)
			m.log.Info().Str("topic", m.topic).Msg("Subscribed")
		case transport.StatusClosed:
			m.teardown()
			m.disconnected(c.err)
		case transport.StatusChannelError:
			m.fail("channel_error", c.err)
		}

	case cmdReconnect:
		m.stopRetry()
		m.mu.Lock()
		m.retries = 0
		// A manual attempt starts a new outage; time spent in Error does
		// not count toward forced recovery.
		m.disconnectedSince = m.now()
		m.mu.Unlock()
		m.connect(ctx, triggerManual)

	case cmdDemote:
		if m.State() != StateConnected {
			return
		}
		m.log.Warn().Err(c.err).Msg("Liveness check failed, treating channel as closed")
		m.teardown()
		m.disconnected(c.err)

	case cmdForce:
		if s := m.State(); s != StateDisconnected && s != StateConnecting {
			return
		}
		m.log.Warn().Msg("Disconnected too long, forcing reconnect")
		m.stopRetry()
		m.connect(ctx, triggerForced)
	}
}

// connect tears down the previous subscription and opens a new one.
func (m *ConnectionManager) connect(ctx context.Context, trigger string) {
	m.teardown()
	m.gen++
	gen := m.gen

	if trigger != triggerInitial {
		metrics.ReconnectAttempts.WithLabelValues(trigger).Inc()
	}
	m.setState(StateConnecting)
	m.log.Debug().Str("trigger", trigger).Uint64("attempt", gen).Msg("Subscribing")

	sub, err := m.transport.Subscribe(ctx, m.topic, m.filters, m.statusFunc(gen))

	m.mu.Lock()
	m.attempts++
	m.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.log.Warn().Err(err).Str("trigger", trigger).Msg("Subscribe failed")
		m.disconnected(err)
		return
	}

	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()

	done := make(chan struct{})
	m.forwardDone = done
	go m.forward(ctx, sub, done)
}

// forward copies one subscription's events to the room-level channel.
func (m *ConnectionManager) forward(ctx context.Context, sub transport.Subscription, done chan struct{}) {
	defer close(done)
	for ev := range sub.Events() {
		m.Touch()
		select {
		case m.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// teardown unsubscribes the current subscription and waits for its
// forwarder. Unsubscribe reports no status for the closure it causes.
func (m *ConnectionManager) teardown() {
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			m.log.Debug().Err(err).Msg("Unsubscribe failed")
		}
	}
	if m.forwardDone != nil {
		<-m.forwardDone
		m.forwardDone = nil
	}
}

func (m *ConnectionManager) disconnected(cause error) {
	if m.State() == StateError {
		return
	}
	m.setState(StateDisconnected)

	m.mu.Lock()
	retries := m.retries
	if retries < m.cfg.MaxRetries {
		m.retries++
	}
	m.mu.Unlock()

	if retries >= m.cfg.MaxRetries {
		m.fail("retries_exhausted", cause)
		return
	}

	m.log.Info().
		Err(cause).
		Int("retry", retries+1).
		Int("max_retries", m.cfg.MaxRetries).
		Dur("delay", m.cfg.RetryDelay).
		Msg("Channel closed, reconnecting")
	m.retryTimer = time.NewTimer(m.cfg.RetryDelay)
	m.retryC = m.retryTimer.C
}

func (m *ConnectionManager) fail(reason string, cause error) {
	m.stopRetry()
	m.teardown()
	// Statuses still queued from the failed subscription are stale now.
	m.gen++
	m.setState(StateError)

	metrics.ConnectionErrors.WithLabelValues(reason).Inc()
	m.log.Error().Err(cause).Str("reason", reason).Msg("Connection failed, manual reconnect required")

	if m.hooks.OnNotice != nil {
		m.hooks.OnNotice(Notice{
			Kind: NoticeConnection,
			Text: "Lost connection to the room. Reload to reconnect.",
			Err:  newError(ErrTransport, "connect", fmt.Errorf("%s: %w", reason, causeOrClosed(cause))),
			At:   m.now(),
		})
	}
}

func causeOrClosed(err error) error {
	if err == nil {
		return errors.New("channel closed")
	}
	return err
}

func (m *ConnectionManager) stopRetry() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer, m.retryC = nil, nil
	}
}

func (m *ConnectionManager) setState(to ConnState) {
	m.mu.Lock()
	from := m.state
	m.state = to
	switch {
	case to == StateConnected:
		m.disconnectedSince = time.Time{}
	case m.disconnectedSince.IsZero():
		m.disconnectedSince = m.now()
	}
	m.mu.Unlock()

	metrics.SetConnectionState(m.roomID, to.metricValue())
	if from != to {
		m.log.Debug().Stringer("from", from).Stringer("to", to).Msg("Connection state changed")
		if m.hooks.OnStateChange != nil {
			m.hooks.OnStateChange(from, to)
		}
	}
}
