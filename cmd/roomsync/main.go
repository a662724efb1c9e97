// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

// Package main is the headless roomsync client.
//
// It joins one watch room as the configured user, keeps the local transcript
// in sync with the realtime transport, logs every message, and serves a
// control API with /healthz, /readyz and /metrics.
//
// # Startup
//
//  1. Configuration: defaults, optional config.yaml, environment (Koanf v2)
//  2. Identity: user id from the access token or USER_ID
//  3. Session store: Postgres (pgx) or DuckDB, optional Redis profile cache
//  4. Transport: realtime websocket, or NATS (optionally embedded)
//  5. Analysis client, permission enforcer and optional player bridge
//  6. Supervisor tree: infra layer, session layer, API layer
//
// # Example Usage
//
// Against a hosted realtime endpoint:
//
//	export STORE_DSN=postgres://roomsync@db/roomsync
//	export TRANSPORT_URL=wss://realtime.example.com/realtime/v1/websocket
//	export TRANSPORT_API_KEY=anon-key
//	export ACCESS_TOKEN=eyJ...
//	export ROOM_JOIN_CODE=MOVIE42
//	./roomsync
//
// Single node with an embedded NATS server and DuckDB:
//
//	export STORE_DRIVER=duckdb STORE_BOOTSTRAP=true
//	export TRANSPORT_KIND=nats NATS_EMBEDDED=true
//	export USER_ID=3f0c... ROOM_ID=9a1e...
//	./roomsync
//
// # Signal Handling
//
// SIGINT and SIGTERM leave the room, stop the listener and shut the
// embedded broker down, each within SHUTDOWN_TIMEOUT.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/roomsync/internal/analysis"
	"github.com/tomtom215/roomsync/internal/api"
	"github.com/tomtom215/roomsync/internal/auth"
	"github.com/tomtom215/roomsync/internal/authz"
	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/models"
	"github.com/tomtom215/roomsync/internal/player"
	"github.com/tomtom215/roomsync/internal/store"
	"github.com/tomtom215/roomsync/internal/supervisor"
	"github.com/tomtom215/roomsync/internal/supervisor/services"
	roomsync "github.com/tomtom215/roomsync/internal/sync"
	"github.com/tomtom215/roomsync/internal/transport"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Msg("Starting roomsync with supervisor tree")

	identity, err := auth.Resolve(&cfg.Identity)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to resolve identity")
	}
	if identity.Expired(time.Now()) {
		logging.Warn().Time("expired_at", identity.ExpiresAt).Msg("Access token has expired, the realtime server may reject it")
	}
	user := profileFor(identity, &cfg.Identity)
	logging.Info().Str("user_id", user.UserID.String()).Str("display_name", user.DisplayName).Msg("Identity resolved")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree, err := supervisor.NewTree(logging.NewSlogLogger("supervisor"), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// === TRANSPORT ===
	var (
		rt       transport.Transport
		notifier *transport.NATSNotifier
		storeOps []store.Option
	)
	switch cfg.Transport.Kind {
	case "nats":
		natsURL := cfg.Transport.URL
		if cfg.Transport.EmbeddedNATS {
			broker, err := transport.NewEmbeddedServer(transport.EmbeddedServerConfig{
				Host: cfg.Transport.NATSHost,
				Port: cfg.Transport.NATSPort,
			})
			if err != nil {
				logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
			}
			tree.AddInfraService(services.NewBrokerService(broker, cfg.Server.ShutdownTimeout))
			natsURL = broker.ClientURL()
		}
		natsCfg := transport.NATSConfig{
			URL:            natsURL,
			SubjectPrefix:  cfg.Transport.SubjectPrefix,
			EventBuffer:    cfg.Transport.EventBuffer,
			ConnectTimeout: cfg.Transport.HandshakeTimeout,
		}
		rt = transport.NewNATSTransport(natsCfg)

		// Over NATS the store announces its own writes.
		notifier, err = transport.NewNATSNotifier(natsCfg)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect NATS notifier")
		}
		defer func() {
			if err := notifier.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing NATS notifier")
			}
		}()
		storeOps = append(storeOps, store.WithNotifier(notifier))
		logging.Info().Str("url", natsURL).Bool("embedded", cfg.Transport.EmbeddedNATS).Msg("NATS transport configured")
	default:
		rt = transport.NewWebSocketTransport(transport.WebSocketConfig{
			URL:              cfg.Transport.URL,
			APIKey:           cfg.Transport.APIKey,
			AccessToken:      identity.Token,
			HandshakeTimeout: cfg.Transport.HandshakeTimeout,
			EventBuffer:      cfg.Transport.EventBuffer,
		})
		logging.Info().Str("url", cfg.Transport.URL).Msg("Realtime websocket transport configured")
	}

	// === SESSION STORE ===
	sqlStore, err := store.Open(ctx, &cfg.Store, storeOps...)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open session store")
	}
	defer func() {
		if err := sqlStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing session store")
		}
	}()

	// Profiles are cached in process, and in Redis when it is reachable.
	var profileRedis *redis.Client
	if cfg.Redis.URL != "" {
		profileRedis, err = store.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			logging.Warn().Err(err).Msg("Redis unavailable, caching profiles in memory only")
		} else {
			defer func() { _ = profileRedis.Close() }()
		}
	}
	profileCache := store.NewProfileCache(profileRedis, cfg.Redis.LocalCacheSize, cfg.Redis.ProfileTTL)
	sessionStore := store.NewCachingStore(sqlStore, profileCache)
	tree.AddInfraService(services.NewPeriodicService("profile-cache-sweep", profileCache.TTL(), profileCache.Sweep))

	// === ANALYSIS, PERMISSIONS, PLAYER ===
	deps := roomsync.Deps{Store: sessionStore, Transport: rt}

	if cfg.Analysis.URL != "" {
		client, err := analysis.NewClient(&cfg.Analysis)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create analysis client")
		}
		deps.Analyzer = client
		logging.Info().Str("url", cfg.Analysis.URL).Msg("Analysis service configured")
	} else {
		logging.Info().Msg("No analysis service configured, questions are saved as chat")
	}

	enforcer, err := authz.NewEnforcer(nil)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create permission enforcer")
	}
	deps.Authorizer = enforcer

	if cfg.Player.URL != "" {
		policy, err := player.NewOriginPolicy(cfg.Player.AllowedOrigins)
		if err != nil {
			logging.Fatal().Err(err).Msg("Invalid player origin allow-list")
		}
		link := &playerLink{}
		bridge := player.NewBridge(link, policy, 0)
		defer bridge.Close()
		deps.Player = bridge
		tree.AddInfraService(newPlayerService(cfg.Player.URL, link, bridge))
		logging.Info().Str("url", cfg.Player.URL).Int("allowed_origins", len(cfg.Player.AllowedOrigins)).Msg("Player bridge configured")
	}

	// === ROOM SESSION ===
	join, err := joinerFor(deps, cfg, user)
	if err != nil {
		logging.Fatal().Err(err).Msg("No room to join")
	}
	session := newSessionService(join)
	tree.AddSessionService(session)

	// === CONTROL API ===
	handler := api.NewHandler(session.Current, sqlStore)
	router := api.NewRouter(handler, api.NewMiddleware(api.MiddlewareConfigFrom(&cfg.Server)))
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService("control-api", server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("Control API service added")

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	var serveErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
		serveErr = <-errCh
	case serveErr = <-errCh:
		cancel()
	}
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		if errors.Is(serveErr, suture.ErrTerminateSupervisorTree) {
			logging.Error().Err(serveErr).Msg("Supervisor tree terminated")
		} else {
			logging.Error().Err(serveErr).Msg("Supervisor tree error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("roomsync stopped")
}

// profileFor builds the local user's profile. The display name falls back
// to the token's email address, minus the domain.
func profileFor(id *auth.Identity, cfg *config.IdentityConfig) models.Profile {
	name := strings.TrimSpace(cfg.DisplayName)
	if name == "" && id.Email != "" {
		name, _, _ = strings.Cut(id.Email, "@")
	}
	return models.Profile{UserID: id.UserID, DisplayName: name}
}
