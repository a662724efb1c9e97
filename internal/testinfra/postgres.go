// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
)

const (
	// DefaultPostgresImage is the Postgres image used for store integration tests.
	DefaultPostgresImage = "postgres:16-alpine"

	// DefaultPostgresPort is the port Postgres listens on inside the container.
	DefaultPostgresPort = "5432"
)

// PostgresContainer is a running Postgres instance with a ready-to-use DSN.
type PostgresContainer struct {
	testcontainers.Container
	DSN string
}

// PostgresOption configures the Postgres container.
type PostgresOption func(*postgresConfig)

type postgresConfig struct {
	image        string
	database     string
	user         string
	password     string
	startTimeout time.Duration
}

// WithPostgresImage sets a custom Postgres image.
func WithPostgresImage(image string) PostgresOption {
	return func(c *postgresConfig) {
		c.image = image
	}
}

// WithDatabase sets the database name created at startup.
func WithDatabase(name string) PostgresOption {
	return func(c *postgresConfig) {
		c.database = name
	}
}

// WithPostgresStartTimeout sets the startup timeout.
func WithPostgresStartTimeout(timeout time.Duration) PostgresOption {
	return func(c *postgresConfig) {
		c.startTimeout = timeout
	}
}

// NewPostgresContainer starts Postgres and returns its DSN.
//
//	pg, err := testinfra.NewPostgresContainer(ctx)
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer testinfra.CleanupContainer(t, ctx, pg)
//
//	s, err := store.Open(ctx, &config.StoreConfig{Driver: "postgres", DSN: pg.DSN, Bootstrap: true})
func NewPostgresContainer(ctx context.Context, opts ...PostgresOption) (*PostgresContainer, error) {
	cfg := &postgresConfig{
		image:        DefaultPostgresImage,
		database:     "roomsync",
		user:         "roomsync",
		password:     "roomsync",
		startTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	// The entrypoint restarts the server once after init, so the ready line appears twice.
	container, addr, err := startService(ctx, serviceSpec{
		image: cfg.image,
		port:  DefaultPostgresPort,
		env: map[string]string{
			"POSTGRES_DB":       cfg.database,
			"POSTGRES_USER":     cfg.user,
			"POSTGRES_PASSWORD": cfg.password,
		},
		readyLog:     "database system is ready to accept connections",
		readyCount:   2,
		startTimeout: cfg.startTimeout,
	})
	if err != nil {
		return nil, err
	}

	return &PostgresContainer{
		Container: container,
		DSN:       fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", cfg.user, cfg.password, addr, cfg.database),
	}, nil
}
