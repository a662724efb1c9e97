// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

//go:build integration

package testinfra

import (
	"context"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SkipIfNoDocker skips the test if Docker is not available.
func SkipIfNoDocker(t *testing.T) {
	t.Helper()

	if !IsDockerAvailable() {
		t.Skip("Skipping test: Docker not available")
	}
}

// IsDockerAvailable checks if Docker daemon is running and accessible.
func IsDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "info")
	return cmd.Run() == nil
}

// WaitForReady polls check until it succeeds, ctx ends or timeout elapses.
// Log-based wait strategies report readiness slightly before some services
// accept client commands, so tests use this for a final round-trip.
func WaitForReady(ctx context.Context, check func(context.Context) error, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	var lastErr error
	for time.Now().Before(deadline) {
		if lastErr = check(ctx); lastErr == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}

	return fmt.Errorf("service not ready after %s: %w", timeout, lastErr)
}

// CleanupContainer terminates a container and logs rather than fails on error.
func CleanupContainer(t *testing.T, ctx context.Context, container testcontainers.Container) {
	t.Helper()

	if container != nil {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	}
}

// serviceSpec describes a single-port service container.
type serviceSpec struct {
	image        string
	port         string
	env          map[string]string
	readyLog     string
	readyCount   int
	startTimeout time.Duration
}

// startService starts the container and returns it with its mapped host:port.
func startService(ctx context.Context, spec serviceSpec) (testcontainers.Container, string, error) {
	occurrences := spec.readyCount
	if occurrences < 1 {
		occurrences = 1
	}

	req := testcontainers.ContainerRequest{
		Image:        spec.image,
		ExposedPorts: []string{spec.port + "/tcp"},
		Env:          spec.env,
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(spec.port+"/tcp"),
			wait.ForLog(spec.readyLog).WithOccurrence(occurrences),
		).WithStartupTimeout(spec.startTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("create %s container: %w", spec.image, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, "", fmt.Errorf("get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, spec.port)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, "", fmt.Errorf("get mapped port: %w", err)
	}

	return container, fmt.Sprintf("%s:%s", host, port.Port()), nil
}
