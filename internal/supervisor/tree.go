// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds configuration for supervisor trees.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	// Default: 5
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay (in seconds).
	// Default: 30
	FailureDecay float64

	// FailureBackoff is how long to wait when threshold is exceeded.
	// Default: 15s
	FailureBackoff time.Duration

	// ShutdownTimeout is how long to wait for each service to stop.
	// Default: 10s
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns production-ready defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

func (c *TreeConfig) applyDefaults() {
	d := DefaultTreeConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.FailureDecay == 0 {
		c.FailureDecay = d.FailureDecay
	}
	if c.FailureBackoff == 0 {
		c.FailureBackoff = d.FailureBackoff
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
}

func (c TreeConfig) spec(hook suture.EventHook) suture.Spec {
	return suture.Spec{
		EventHook:        hook,
		FailureThreshold: c.FailureThreshold,
		FailureDecay:     c.FailureDecay,
		FailureBackoff:   c.FailureBackoff,
		Timeout:          c.ShutdownTimeout,
	}
}

// Tree is the process-level supervisor of the headless client.
//
//	roomsync
//	├── infra-layer     embedded NATS server, notifier
//	├── session-layer   joined rooms
//	└── api-layer       metrics and health listener
//
// A failing room restarts inside the session layer without touching the
// listener or the message broker.
type Tree struct {
	root    *suture.Supervisor
	infra   *suture.Supervisor
	session *suture.Supervisor
	api     *suture.Supervisor
	logger  *slog.Logger
	config  TreeConfig
}

// NewTree creates the process tree. The tree is not started.
func NewTree(logger *slog.Logger, config TreeConfig) (*Tree, error) {
	config.applyDefaults()

	hook := (&sutureslog.Handler{Logger: logger}).MustHook()

	// Child supervisors report through the root's hook.
	root := suture.New("roomsync", config.spec(hook))
	infra := suture.New("infra-layer", config.spec(nil))
	session := suture.New("session-layer", config.spec(nil))
	api := suture.New("api-layer", config.spec(nil))

	root.Add(infra)
	root.Add(session)
	root.Add(api)

	return &Tree{
		root:    root,
		infra:   infra,
		session: session,
		api:     api,
		logger:  logger,
		config:  config,
	}, nil
}

// Root returns the root supervisor.
func (t *Tree) Root() *suture.Supervisor {
	return t.root
}

// AddInfraService adds a service to the infrastructure layer.
func (t *Tree) AddInfraService(svc suture.Service) suture.ServiceToken {
	return t.infra.Add(svc)
}

// AddSessionService adds a room session to the session layer.
func (t *Tree) AddSessionService(svc suture.Service) suture.ServiceToken {
	return t.session.Add(svc)
}

// RemoveSessionService stops a room session and waits for it to exit.
func (t *Tree) RemoveSessionService(token suture.ServiceToken) error {
	return t.session.RemoveAndWait(token, t.config.ShutdownTimeout)
}

// AddAPIService adds a service to the API layer.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that did not stop within the
// shutdown timeout. Call it after Serve returns.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
