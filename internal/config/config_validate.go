// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package config

import (
	"fmt"
	"time"

	"github.com/tomtom215/roomsync/internal/validation"
)

// Validate checks ranges, enums and cross-field requirements.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}

	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateTransport(); err != nil {
		return err
	}
	if err := c.validateAnalysis(); err != nil {
		return err
	}
	if err := c.validatePlayer(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateIdentity()
}

func (c *Config) validateSync() error {
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"SYNC_RETRY_DELAY", c.Sync.RetryDelay},
		{"SYNC_LIVENESS_INTERVAL", c.Sync.LivenessInterval},
		{"SYNC_IDLE_THRESHOLD", c.Sync.IdleThreshold},
		{"SYNC_RECOVERY_THRESHOLD", c.Sync.RecoveryThreshold},
		{"SYNC_RECOVERY_COOLDOWN", c.Sync.RecoveryCooldown},
		{"SYNC_HEARTBEAT_INTERVAL", c.Sync.HeartbeatInterval},
		{"SYNC_THINKING_TIMEOUT", c.Sync.ThinkingTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %v", d.name, d.value)
		}
	}
	if c.Sync.PollInterval < 0 {
		return fmt.Errorf("SYNC_POLL_INTERVAL must not be negative, got %v", c.Sync.PollInterval)
	}
	return nil
}

func (c *Config) validateStore() error {
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("STORE_DSN is required when STORE_DRIVER=postgres")
	}
	if c.Store.MaxIdleConns > c.Store.MaxOpenConns && c.Store.MaxOpenConns > 0 {
		return fmt.Errorf("STORE_MAX_IDLE_CONNS (%d) must not exceed STORE_MAX_OPEN_CONNS (%d)",
			c.Store.MaxIdleConns, c.Store.MaxOpenConns)
	}
	return nil
}

func (c *Config) validateTransport() error {
	switch c.Transport.Kind {
	case "websocket":
		if c.Transport.URL == "" {
			return fmt.Errorf("TRANSPORT_URL is required when TRANSPORT_KIND=websocket")
		}
		if err := validateWebSocketURL(c.Transport.URL); err != nil {
			return fmt.Errorf("TRANSPORT_URL is invalid: %w", err)
		}
	case "nats":
		if c.Transport.EmbeddedNATS {
			return nil
		}
		if err := validateNATSURL(c.Transport.URL); err != nil {
			return fmt.Errorf("NATS_URL is invalid: %w", err)
		}
	}
	return nil
}

func (c *Config) validateAnalysis() error {
	if c.Analysis.URL == "" {
		return nil
	}
	if err := validateHTTPURL(c.Analysis.URL, "ANALYSIS_URL"); err != nil {
		return err
	}
	if c.Analysis.Timeout <= 0 {
		return fmt.Errorf("ANALYSIS_TIMEOUT must be positive, got %v", c.Analysis.Timeout)
	}
	return nil
}

func (c *Config) validatePlayer() error {
	for _, origin := range c.Player.AllowedOrigins {
		if err := validateHTTPURL(origin, "PLAYER_ALLOWED_ORIGINS"); err != nil {
			return err
		}
	}
	if c.Player.URL != "" {
		if err := validateWebSocketURL(c.Player.URL); err != nil {
			return fmt.Errorf("PLAYER_URL is invalid: %w", err)
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %v", c.Server.ShutdownTimeout)
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow <= 0 {
		return fmt.Errorf("API_RATE_WINDOW must be positive when API_RATE_LIMIT is set, got %v", c.Server.RateWindow)
	}
	for _, origin := range c.Server.CORSOrigins {
		if origin == "*" {
			continue
		}
		if err := validateHTTPURL(origin, "CORS_ORIGINS"); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateIdentity() error {
	if c.Identity.AccessToken == "" && c.Identity.UserID == "" {
		return fmt.Errorf("either ACCESS_TOKEN or USER_ID is required")
	}
	return nil
}
