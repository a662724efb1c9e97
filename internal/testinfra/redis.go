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
	// DefaultRedisImage is the Redis image used for profile cache integration tests.
	DefaultRedisImage = "redis:7-alpine"

	// DefaultRedisPort is the port Redis listens on inside the container.
	DefaultRedisPort = "6379"
)

// RedisContainer is a running Redis instance.
type RedisContainer struct {
	testcontainers.Container
	URL string
}

// NewRedisContainer starts Redis and returns a redis:// URL for it.
func NewRedisContainer(ctx context.Context) (*RedisContainer, error) {
	container, addr, err := startService(ctx, serviceSpec{
		image:        DefaultRedisImage,
		port:         DefaultRedisPort,
		readyLog:     "Ready to accept connections",
		startTimeout: 30 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	return &RedisContainer{
		Container: container,
		URL:       fmt.Sprintf("redis://%s/0", addr),
	}, nil
}
