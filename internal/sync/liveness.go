// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package sync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/roomsync/internal/metrics"
)

// Pinger performs a lightweight read against the session store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LivenessConfig tunes the liveness monitor.
type LivenessConfig struct {
	// IdleThreshold is how long a connected session may be silent before
	// the store is pinged.
	IdleThreshold time.Duration
	// RecoveryThreshold is how long a session may stay without a confirmed
	// subscription before a reconnect is forced.
	RecoveryThreshold time.Duration
	// RecoveryCooldown is the minimum gap between forced reconnects.
	RecoveryCooldown time.Duration
	// PingTimeout bounds each store ping.
	PingTimeout time.Duration
}

// LivenessMonitor is the periodic self-check of a room session. Check is
// called by a PeriodicService every liveness interval.
//
// While connected and idle it pings the store: success counts as activity,
// failure demotes the connection into the bounded retry path. While
// disconnected for too long it forces a reconnect that ignores the retry
// bound, at most once per cool-down.
type LivenessMonitor struct {
	conn   *ConnectionManager
	pinger Pinger
	cfg    LivenessConfig
	log    zerolog.Logger
	now    func() time.Time

	mu         sync.Mutex
	lastForced time.Time
}

// NewLivenessMonitor creates a monitor for conn.
func NewLivenessMonitor(conn *ConnectionManager, pinger Pinger, cfg LivenessConfig, log zerolog.Logger) *LivenessMonitor {
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = 30 * time.Second
	}
	if cfg.RecoveryThreshold <= 0 {
		cfg.RecoveryThreshold = 60 * time.Second
	}
	if cfg.RecoveryCooldown <= 0 {
		cfg.RecoveryCooldown = 60 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}
	return &LivenessMonitor{
		conn:   conn,
		pinger: pinger,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// Check runs one liveness pass.
func (l *LivenessMonitor) Check(ctx context.Context) {
	now := l.now()

	switch l.conn.State() {
	case StateConnected:
		idle := now.Sub(l.conn.LastActivity())
		if idle <= l.cfg.IdleThreshold {
			return
		}
		l.pingStore(ctx, idle)

	case StateDisconnected, StateConnecting:
		down := l.conn.DisconnectedFor(now)
		if down <= l.cfg.RecoveryThreshold {
			return
		}

		l.mu.Lock()
		if !l.lastForced.IsZero() && now.Sub(l.lastForced) < l.cfg.RecoveryCooldown {
			l.mu.Unlock()
			return
		}
		l.lastForced = now
		l.mu.Unlock()

		l.log.Warn().Dur("disconnected_for", down).Msg("Forcing reconnect")
		l.conn.ForceReconnect()
	}
}

func (l *LivenessMonitor) pingStore(ctx context.Context, idle time.Duration) {
	pingCtx, cancel := context.WithTimeout(ctx, l.cfg.PingTimeout)
	defer cancel()

	if err := l.pinger.Ping(pingCtx); err != nil {
		// A ping cut short by leaving the room says nothing about the link.
		if ctx.Err() != nil {
			return
		}
		metrics.LivenessPings.WithLabelValues("failure").Inc()
		l.conn.Demote(newError(ErrTransport, "liveness", err))
		return
	}

	metrics.LivenessPings.WithLabelValues("success").Inc()
	l.log.Debug().Dur("idle", idle).Msg("Idle connection confirmed by store ping")
	l.conn.Touch()
}
