// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
var DefaultConfigPaths = []string{
	"roomsync.yaml",
	"roomsync.yml",
	"/etc/roomsync/roomsync.yaml",
	"/etc/roomsync/roomsync.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			MaxRetries:        5,
			RetryDelay:        2 * time.Second,
			LivenessInterval:  10 * time.Second,
			IdleThreshold:     30 * time.Second,
			RecoveryThreshold: 60 * time.Second,
			RecoveryCooldown:  60 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			PollInterval:      2 * time.Second,
			ThinkingTimeout:   30 * time.Second,
			BulkLoadLimit:     100,
			FallbackTimestamp: 30,
			MentionToken:      "@ai",
			NoticeBuffer:      32,
			Debug:             false,
		},
		Store: StoreConfig{
			Driver:          "duckdb",
			DSN:             "",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			Bootstrap:       true,
		},
		Transport: TransportConfig{
			Kind:             "nats",
			URL:              "nats://127.0.0.1:4222",
			HandshakeTimeout: 10 * time.Second,
			EmbeddedNATS:     true,
			NATSHost:         "127.0.0.1",
			NATSPort:         4222,
			SubjectPrefix:    "roomsync.rooms",
			EventBuffer:      256,
		},
		Redis: RedisConfig{
			URL:            "",
			ProfileTTL:     10 * time.Minute,
			LocalCacheSize: 1024,
		},
		Analysis: AnalysisConfig{
			URL:                     "",
			Timeout:                 60 * time.Second,
			RateLimit:               1,
			Burst:                   3,
			BreakerMaxRequests:      1,
			BreakerInterval:         time.Minute,
			BreakerTimeout:          30 * time.Second,
			BreakerFailureThreshold: 5,
		},
		Player: PlayerConfig{
			AllowedOrigins: []string{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Server: ServerConfig{
			Addr:            ":9464",
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{},
			RateLimit:       60,
			RateWindow:      time.Minute,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any mapped setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// SYNC_RETRY_DELAY -> sync.retry_delay
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, or "" if none is found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"player.allowed_origins",
	"server.cors_origins",
}

// processSliceFields converts comma-separated env values to slices for known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Unmapped variables are ignored so unrelated environment does not leak into config.
var envMappings = map[string]string{
	// Sync
	"sync_max_retries":        "sync.max_retries",
	"sync_retry_delay":        "sync.retry_delay",
	"sync_liveness_interval":  "sync.liveness_interval",
	"sync_idle_threshold":     "sync.idle_threshold",
	"sync_recovery_threshold": "sync.recovery_threshold",
	"sync_recovery_cooldown":  "sync.recovery_cooldown",
	"sync_heartbeat_interval": "sync.heartbeat_interval",
	"sync_poll_interval":      "sync.poll_interval",
	"sync_thinking_timeout":   "sync.thinking_timeout",
	"sync_bulk_load_limit":    "sync.bulk_load_limit",
	"sync_fallback_timestamp": "sync.fallback_timestamp",
	"sync_mention_token":      "sync.mention_token",
	"sync_notice_buffer":      "sync.notice_buffer",
	"sync_debug":              "sync.debug",

	// Store
	"store_driver":            "store.driver",
	"store_dsn":               "store.dsn",
	"database_url":            "store.dsn",
	"store_max_open_conns":    "store.max_open_conns",
	"store_max_idle_conns":    "store.max_idle_conns",
	"store_conn_max_lifetime": "store.conn_max_lifetime",
	"store_bootstrap":         "store.bootstrap",

	// Transport
	"transport_kind":              "transport.kind",
	"transport_url":               "transport.url",
	"transport_api_key":           "transport.api_key",
	"transport_handshake_timeout": "transport.handshake_timeout",
	"transport_subject_prefix":    "transport.subject_prefix",
	"transport_event_buffer":      "transport.event_buffer",
	"nats_url":                    "transport.url",
	"nats_embedded":               "transport.embedded_nats",
	"nats_host":                   "transport.nats_host",
	"nats_port":                   "transport.nats_port",

	// Redis
	"redis_url":              "redis.url",
	"redis_profile_ttl":      "redis.profile_ttl",
	"profile_cache_size":     "redis.local_cache_size",
	"redis_local_cache_size": "redis.local_cache_size",

	// Analysis
	"analysis_url":                       "analysis.url",
	"analysis_timeout":                   "analysis.timeout",
	"analysis_rate_limit":                "analysis.rate_limit",
	"analysis_burst":                     "analysis.burst",
	"analysis_breaker_max_requests":      "analysis.breaker_max_requests",
	"analysis_breaker_interval":          "analysis.breaker_interval",
	"analysis_breaker_timeout":           "analysis.breaker_timeout",
	"analysis_breaker_failure_threshold": "analysis.breaker_failure_threshold",

	// Player
	"player_allowed_origins": "player.allowed_origins",
	"player_url":             "player.url",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Server
	"http_addr":        "server.addr",
	"metrics_addr":     "server.addr",
	"shutdown_timeout": "server.shutdown_timeout",
	"cors_origins":     "server.cors_origins",
	"api_rate_limit":   "server.rate_limit",
	"api_rate_window":  "server.rate_window",

	// Identity and room
	"access_token":   "identity.access_token",
	"user_id":        "identity.user_id",
	"display_name":   "identity.display_name",
	"room_id":        "room.id",
	"room_join_code": "room.join_code",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - SYNC_RETRY_DELAY -> sync.retry_delay
//   - DATABASE_URL -> store.dsn
//   - NATS_EMBEDDED -> transport.embedded_nats
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
