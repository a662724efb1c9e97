// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/roomsync/internal/cache"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/metrics"
	"github.com/tomtom215/roomsync/internal/models"
)

const profileKeyPrefix = "roomsync:profile:"

// ProfileCache is a two-tier read-through cache for profile lookups: an
// in-process LRU first, then Redis when configured, then the store.
// Redis failures are logged and the lookup falls through to the store.
type ProfileCache struct {
	local *cache.LRUCache[uuid.UUID, models.Profile]
	redis *redis.Client
	ttl   time.Duration
}

// NewProfileCache creates a cache. rdb may be nil for a local-only cache.
func NewProfileCache(rdb *redis.Client, size int, ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ProfileCache{
		local: cache.NewLRUCache[uuid.UUID, models.Profile](size, ttl),
		redis: rdb,
		ttl:   ttl,
	}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return client, nil
}

func profileKey(id uuid.UUID) string {
	return profileKeyPrefix + id.String()
}

// Fetch resolves ids through the cache tiers, calling load once for whatever
// neither tier holds.
func (c *ProfileCache) Fetch(ctx context.Context, ids []uuid.UUID,
	load func(context.Context, []uuid.UUID) (map[uuid.UUID]models.Profile, error),
) (map[uuid.UUID]models.Profile, error) {
	found, missing := c.local.GetMany(ids)
	for range found {
		metrics.RecordProfileLookup("local", true)
	}
	if len(missing) == 0 {
		return found, nil
	}
	for range missing {
		metrics.RecordProfileLookup("local", false)
	}

	if c.redis != nil {
		missing = c.fetchRedis(ctx, missing, found)
		if len(missing) == 0 {
			return found, nil
		}
	}

	loaded, err := load(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, p := range loaded {
		found[id] = p
		c.local.Add(id, p)
	}
	c.storeRedis(ctx, loaded)
	return found, nil
}

// fetchRedis fills found from Redis and returns the ids still missing.
func (c *ProfileCache) fetchRedis(ctx context.Context, ids []uuid.UUID, found map[uuid.UUID]models.Profile) []uuid.UUID {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = profileKey(id)
	}

	values, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		logging.Warn().Err(err).Int("count", len(ids)).Msg("Profile cache read failed, falling back to store")
		return ids
	}

	var stillMissing []uuid.UUID
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			metrics.RecordProfileLookup("redis", false)
			stillMissing = append(stillMissing, ids[i])
			continue
		}
		var p models.Profile
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			metrics.RecordProfileLookup("redis", false)
			stillMissing = append(stillMissing, ids[i])
			continue
		}
		metrics.RecordProfileLookup("redis", true)
		found[ids[i]] = p
		c.local.Add(ids[i], p)
	}
	return stillMissing
}

func (c *ProfileCache) storeRedis(ctx context.Context, profiles map[uuid.UUID]models.Profile) {
	if c.redis == nil || len(profiles) == 0 {
		return
	}
	pipe := c.redis.Pipeline()
	for id, p := range profiles {
		data, err := json.Marshal(p)
		if err != nil {
			continue
		}
		pipe.Set(ctx, profileKey(id), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		logging.Warn().Err(err).Int("count", len(profiles)).Msg("Profile cache write failed")
	}
}

// Invalidate drops a profile from both tiers.
func (c *ProfileCache) Invalidate(ctx context.Context, id uuid.UUID) {
	c.local.Remove(id)
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, profileKey(id)).Err(); err != nil {
		logging.Warn().Err(err).Str("user_id", id.String()).Msg("Profile cache invalidation failed")
	}
}

// TTL returns how long a cached profile stays fresh.
func (c *ProfileCache) TTL() time.Duration {
	return c.ttl
}

// Sweep drops expired entries from the local tier and reports its size.
// Expired entries are otherwise only collected when they are read again.
func (c *ProfileCache) Sweep(context.Context) {
	expired := c.local.CleanupExpired()
	hits, misses, size := c.local.Stats()
	metrics.RecordProfileCacheSweep(expired, size)
	logging.Debug().
		Int("expired", expired).
		Int("size", size).
		Int64("hits", hits).
		Int64("misses", misses).
		Msg("Profile cache swept")
}

// CachingStore decorates a SessionStore with a ProfileCache on profile reads.
type CachingStore struct {
	SessionStore
	profiles *ProfileCache
}

// NewCachingStore wraps inner so that FetchProfiles goes through profiles.
func NewCachingStore(inner SessionStore, profiles *ProfileCache) *CachingStore {
	return &CachingStore{SessionStore: inner, profiles: profiles}
}

// FetchProfiles resolves profiles through the cache.
func (s *CachingStore) FetchProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error) {
	return s.profiles.Fetch(ctx, ids, s.SessionStore.FetchProfiles)
}

// UpsertProfile writes through and invalidates the cached copy.
func (s *CachingStore) UpsertProfile(ctx context.Context, p models.Profile) error {
	if err := s.SessionStore.UpsertProfile(ctx, p); err != nil {
		return err
	}
	s.profiles.Invalidate(ctx, p.UserID)
	return nil
}
