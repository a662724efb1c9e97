// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package config

import "time"

// Config holds all RoomSync configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in values from defaultConfig()
//  2. Config File: Optional YAML file (CONFIG_PATH, roomsync.yaml, /etc/roomsync/roomsync.yaml)
//  3. Environment Variables: Mapped explicitly in envTransformFunc
//
// Config is immutable after Load() and safe for concurrent reads.
type Config struct {
	Sync      SyncConfig      `koanf:"sync"`
	Store     StoreConfig     `koanf:"store"`
	Transport TransportConfig `koanf:"transport"`
	Redis     RedisConfig     `koanf:"redis"`
	Analysis  AnalysisConfig  `koanf:"analysis"`
	Player    PlayerConfig    `koanf:"player"`
	Logging   LoggingConfig   `koanf:"logging"`
	Server    ServerConfig    `koanf:"server"`
	Identity  IdentityConfig  `koanf:"identity"`
	Room      RoomConfig      `koanf:"room"`
}

// SyncConfig holds the timing and sizing parameters of a room session.
//
// Environment Variables:
//   - SYNC_MAX_RETRIES: Reconnect attempts after a closed channel before giving up (default: 5)
//   - SYNC_RETRY_DELAY: Fixed delay between reconnect attempts (default: 2s)
//   - SYNC_LIVENESS_INTERVAL: How often the liveness monitor runs (default: 10s)
//   - SYNC_IDLE_THRESHOLD: Idle time after which a connected session pings the store (default: 30s)
//   - SYNC_RECOVERY_THRESHOLD: Disconnected time after which a reconnect is forced (default: 60s)
//   - SYNC_RECOVERY_COOLDOWN: Minimum gap between forced reconnects (default: 60s)
//   - SYNC_HEARTBEAT_INTERVAL: Heartbeat period while connected (default: 30s)
//   - SYNC_POLL_INTERVAL: Player position poll period, 0 when the player pushes positions (default: 2s)
//   - SYNC_THINKING_TIMEOUT: Safety timeout for the assistant thinking indicator (default: 30s)
//   - SYNC_BULK_LOAD_LIMIT: Messages loaded on room entry (default: 100)
//   - SYNC_FALLBACK_TIMESTAMP: Seconds used when no position is known (default: 30)
//   - SYNC_MENTION_TOKEN: Token that addresses the assistant directly (default: @ai)
//   - SYNC_DEBUG: Per-session debug logging (default: false)
type SyncConfig struct {
	MaxRetries        int           `koanf:"max_retries" validate:"gte=0,lte=100"`
	RetryDelay        time.Duration `koanf:"retry_delay"`
	LivenessInterval  time.Duration `koanf:"liveness_interval"`
	IdleThreshold     time.Duration `koanf:"idle_threshold"`
	RecoveryThreshold time.Duration `koanf:"recovery_threshold"`
	RecoveryCooldown  time.Duration `koanf:"recovery_cooldown"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	PollInterval      time.Duration `koanf:"poll_interval"`
	ThinkingTimeout   time.Duration `koanf:"thinking_timeout"`
	BulkLoadLimit     int           `koanf:"bulk_load_limit" validate:"gte=1,lte=1000"`
	FallbackTimestamp int           `koanf:"fallback_timestamp" validate:"gte=0"`
	MentionToken      string        `koanf:"mention_token" validate:"required"`
	NoticeBuffer      int           `koanf:"notice_buffer" validate:"gte=1"`
	Debug             bool          `koanf:"debug"`
}

// StoreConfig selects and tunes the SQL session store.
//
// Environment Variables:
//   - STORE_DRIVER: postgres or duckdb (default: duckdb)
//   - STORE_DSN / DATABASE_URL: Connection string; empty duckdb DSN means in-memory
//   - STORE_MAX_OPEN_CONNS, STORE_MAX_IDLE_CONNS, STORE_CONN_MAX_LIFETIME: Pool sizing
type StoreConfig struct {
	Driver          string        `koanf:"driver" validate:"oneof=postgres duckdb"`
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	Bootstrap       bool          `koanf:"bootstrap"`
}

// TransportConfig selects the realtime transport.
//
// Environment Variables:
//   - TRANSPORT_KIND: websocket or nats (default: nats)
//   - TRANSPORT_URL: Realtime websocket endpoint or NATS URL
//   - TRANSPORT_API_KEY: API key sent when joining websocket channels
//   - NATS_EMBEDDED: Start an in-process NATS server (default: true)
//   - NATS_PORT: Port for the embedded server, -1 for random (default: 4222)
type TransportConfig struct {
	Kind             string        `koanf:"kind" validate:"oneof=websocket nats"`
	URL              string        `koanf:"url"`
	APIKey           string        `koanf:"api_key"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	EmbeddedNATS     bool          `koanf:"embedded_nats"`
	NATSHost         string        `koanf:"nats_host"`
	NATSPort         int           `koanf:"nats_port"`
	SubjectPrefix    string        `koanf:"subject_prefix" validate:"required"`
	EventBuffer      int           `koanf:"event_buffer" validate:"gte=1"`
}

// RedisConfig configures the shared profile cache. An empty URL keeps the
// cache in-process only.
type RedisConfig struct {
	URL            string        `koanf:"url"`
	ProfileTTL     time.Duration `koanf:"profile_ttl"`
	LocalCacheSize int           `koanf:"local_cache_size" validate:"gte=1"`
}

// AnalysisConfig configures the external analysis service client.
//
// Environment Variables:
//   - ANALYSIS_URL: Base URL of the analysis service (empty disables dispatch)
//   - ANALYSIS_TIMEOUT: Per-request timeout (default: 60s)
//   - ANALYSIS_RATE_LIMIT / ANALYSIS_BURST: Client-side request rate (default: 1/s, burst 3)
//   - ANALYSIS_BREAKER_*: Circuit breaker tuning
type AnalysisConfig struct {
	URL                     string        `koanf:"url"`
	Timeout                 time.Duration `koanf:"timeout"`
	RateLimit               float64       `koanf:"rate_limit" validate:"gte=0"`
	Burst                   int           `koanf:"burst" validate:"gte=1"`
	BreakerMaxRequests      uint32        `koanf:"breaker_max_requests"`
	BreakerInterval         time.Duration `koanf:"breaker_interval"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold" validate:"gte=1"`
}

// PlayerConfig configures the embedded player boundary.
type PlayerConfig struct {
	// AllowedOrigins lists the origins whose player messages are accepted.
	AllowedOrigins []string `koanf:"allowed_origins"`
	// URL is an optional websocket endpoint the player is attached to.
	URL string `koanf:"url"`
}

// LoggingConfig mirrors logging.Config for file and env loading.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// ServerConfig configures the headless client's HTTP listener, which serves
// metrics, health and the local room control API.
//
// Environment Variables:
//   - HTTP_ADDR / METRICS_ADDR: Listen address (default: :9464)
//   - SHUTDOWN_TIMEOUT: Graceful shutdown budget (default: 10s)
//   - CORS_ORIGINS: Comma-separated origins allowed to call the control API
//   - API_RATE_LIMIT / API_RATE_WINDOW: Control API requests per window per IP (default: 60/1m)
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       int           `koanf:"rate_limit" validate:"gte=0"`
	RateWindow      time.Duration `koanf:"rate_window"`
}

// IdentityConfig identifies the local user.
type IdentityConfig struct {
	// AccessToken is the realtime access token; the user id is read from its subject.
	AccessToken string `koanf:"access_token"`
	// UserID overrides the token subject, required when no token is configured.
	UserID      string `koanf:"user_id" validate:"omitempty,uuid"`
	DisplayName string `koanf:"display_name"`
}

// RoomConfig selects the room the headless client joins.
type RoomConfig struct {
	ID       string `koanf:"id" validate:"omitempty,uuid"`
	JoinCode string `koanf:"join_code" validate:"omitempty,joincode"`
}

// Load loads configuration using Koanf with layered sources.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
