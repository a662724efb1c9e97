// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/metrics"
	"github.com/tomtom215/roomsync/internal/models"
	"github.com/tomtom215/roomsync/internal/validation"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"
)

// SQLStore implements SessionStore on database/sql. Both dialects accept
// $N placeholders, so every statement is shared.
type SQLStore struct {
	db       *sql.DB
	driver   string
	notifier ChangeNotifier
	now      func() time.Time
}

// Option configures a SQLStore.
type Option func(*SQLStore)

// WithNotifier registers a ChangeNotifier invoked after each committed write.
func WithNotifier(n ChangeNotifier) Option {
	return func(s *SQLStore) {
		s.notifier = n
	}
}

// Open connects to the configured database and, if requested, creates the schema.
func Open(ctx context.Context, cfg *config.StoreConfig, opts ...Option) (*SQLStore, error) {
	driverName, dsn, err := driverFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverDuckDB && dsn == "" {
		// Every connection to an in-memory DuckDB would see its own database.
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := NewSQLStore(db, cfg.Driver, opts...)

	if err := s.Ping(ctx); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("failed to reach %s database: %w", cfg.Driver, err)
	}

	if cfg.Bootstrap {
		if err := s.Bootstrap(ctx); err != nil {
			closeQuietly(db)
			return nil, err
		}
	}

	logging.Info().Str("driver", cfg.Driver).Bool("bootstrap", cfg.Bootstrap).Msg("Session store opened")
	return s, nil
}

// NewSQLStore wraps an existing connection pool.
func NewSQLStore(db *sql.DB, driver string, opts ...Option) *SQLStore {
	s := &SQLStore{db: db, driver: driver, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func driverFor(cfg *config.StoreConfig) (driverName, dsn string, err error) {
	switch cfg.Driver {
	case DriverPostgres:
		if cfg.DSN == "" {
			return "", "", errors.New("postgres store requires a DSN")
		}
		return "pgx", cfg.DSN, nil
	case DriverDuckDB:
		return "duckdb", cfg.DSN, nil
	default:
		return "", "", fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// Bootstrap creates the tables and indexes if they do not exist.
func (s *SQLStore) Bootstrap(ctx context.Context) error {
	ddl := postgresSchema
	if s.driver == DriverDuckDB {
		ddl = duckdbSchema
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to bootstrap schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping performs a lightweight read.
func (s *SQLStore) Ping(ctx context.Context) (err error) {
	defer observe("ping", time.Now(), &err)
	var one int
	return s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}

const roomColumns = `id, name, owner_id, video_url, position_ms, is_playing, capacity, is_public, join_code, created_at, updated_at`

// Room returns the room with the given id.
func (s *SQLStore) Room(ctx context.Context, id uuid.UUID) (room *models.Room, err error) {
	defer observe("room", time.Now(), &err)
	row := s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id.String())
	return scanRoom(row)
}

// RoomByJoinCode returns the room with the given join code.
func (s *SQLStore) RoomByJoinCode(ctx context.Context, code string) (room *models.Room, err error) {
	defer observe("room_by_join_code", time.Now(), &err)
	code = strings.ToUpper(strings.TrimSpace(code))
	row := s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE join_code = $1`, code)
	return scanRoom(row)
}

// CreateRoom persists a new room.
func (s *SQLStore) CreateRoom(ctx context.Context, room models.Room) (created *models.Room, err error) {
	defer observe("create_room", time.Now(), &err)

	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	room.CreatedAt, room.UpdatedAt = now, now
	if verr := validation.ValidateStruct(&room); verr != nil {
		return nil, fmt.Errorf("invalid room: %w", verr)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rooms (`+roomColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		room.ID.String(), room.Name, room.OwnerID.String(), nullString(room.VideoURL),
		secondsToMillis(room.PositionSeconds), room.IsPlaying, room.Capacity, room.IsPublic,
		nullIfEmpty(room.JoinCode), room.CreatedAt, room.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert room: %w", err)
	}
	return &room, nil
}

// UpdateRoom applies a partial update and notifies listeners with the new state.
func (s *SQLStore) UpdateRoom(ctx context.Context, id uuid.UUID, patch models.RoomPatch) (updated *models.Room, err error) {
	defer observe("update_room", time.Now(), &err)

	if verr := validation.ValidateStruct(&patch); verr != nil {
		return nil, fmt.Errorf("invalid room update: %w", verr)
	}

	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.VideoURL != nil {
		add("video_url", nullIfEmpty(*patch.VideoURL))
	}
	if patch.PositionSeconds != nil {
		add("position_ms", secondsToMillis(*patch.PositionSeconds))
	}
	if patch.IsPlaying != nil {
		add("is_playing", *patch.IsPlaying)
	}
	add("updated_at", s.now().UTC().Truncate(time.Microsecond))
	args = append(args, id.String())

	query := fmt.Sprintf(`UPDATE rooms SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update room: %w", err)
	}
	if n, rerr := res.RowsAffected(); rerr == nil && n == 0 {
		return nil, ErrNotFound
	}

	room, err := s.Room(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, models.RoomUpdated(*room))
	return room, nil
}

// UpsertParticipant inserts the membership if absent.
func (s *SQLStore) UpsertParticipant(ctx context.Context, p models.Participant) (err error) {
	defer observe("upsert_participant", time.Now(), &err)

	if p.JoinedAt.IsZero() {
		p.JoinedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (room_id, user_id, display_name, avatar_url, joined_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`,
		p.RoomID.String(), p.UserID.String(), p.DisplayName, p.AvatarURL,
		p.JoinedAt.UTC().Truncate(time.Microsecond), true,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}
	if n, rerr := res.RowsAffected(); rerr == nil && n > 0 {
		s.notify(ctx, models.ParticipantsChanged(p.RoomID))
	}
	return nil
}

// Participants lists a room's participants ordered by join time.
func (s *SQLStore) Participants(ctx context.Context, roomID uuid.UUID) (out []models.Participant, err error) {
	defer observe("participants", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, user_id, display_name, avatar_url, joined_at, is_active
		FROM participants WHERE room_id = $1
		ORDER BY joined_at ASC, user_id ASC`, roomID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer closeQuietly(rows)

	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.RoomID, &p.UserID, &p.DisplayName, &p.AvatarURL, &p.JoinedAt, &p.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}
	return out, nil
}

// InsertMessage persists a message and notifies listeners.
func (s *SQLStore) InsertMessage(ctx context.Context, m models.NewMessage) (msg *models.Message, err error) {
	defer observe("insert_message", time.Now(), &err)

	if verr := validation.ValidateStruct(&m); verr != nil {
		return nil, fmt.Errorf("invalid message: %w", verr)
	}

	msg = &models.Message{
		ID:             uuid.New(),
		RoomID:         m.RoomID,
		AuthorID:       m.AuthorID,
		Body:           m.Body,
		Kind:           m.Kind,
		IdempotencyKey: m.IdempotencyKey,
		CreatedAt:      s.now().UTC().Truncate(time.Microsecond),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, author_id, body, kind, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID.String(), msg.RoomID.String(), msg.AuthorID.String(), msg.Body, string(msg.Kind),
		nullIfEmpty(msg.IdempotencyKey), msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	s.notify(ctx, models.Inserted(*msg))
	return msg, nil
}

// RecentMessages returns up to limit of the newest messages, oldest first.
func (s *SQLStore) RecentMessages(ctx context.Context, roomID uuid.UUID, limit int) (out []models.Message, err error) {
	defer observe("recent_messages", time.Now(), &err)

	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, room_id, author_id, body, kind, idempotency_key, created_at
		FROM messages WHERE room_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT %d`, limit), roomID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer closeQuietly(rows)

	for rows.Next() {
		var (
			m    models.Message
			kind string
			key  sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.AuthorID, &m.Body, &kind, &key, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Kind = models.MessageKind(kind)
		m.IdempotencyKey = key.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// FetchProfiles resolves a batch of profiles with a single query.
func (s *SQLStore) FetchProfiles(ctx context.Context, ids []uuid.UUID) (out map[uuid.UUID]models.Profile, err error) {
	defer observe("fetch_profiles", time.Now(), &err)

	out = make(map[uuid.UUID]models.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id.String()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, display_name, avatar_url FROM profiles WHERE user_id IN (`+strings.Join(placeholders, ", ")+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer closeQuietly(rows)

	for rows.Next() {
		var p models.Profile
		if err := rows.Scan(&p.UserID, &p.DisplayName, &p.AvatarURL); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		out[p.UserID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return out, nil
}

// UpsertProfile creates or replaces a profile.
func (s *SQLStore) UpsertProfile(ctx context.Context, p models.Profile) (err error) {
	defer observe("upsert_profile", time.Now(), &err)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, display_name, avatar_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET display_name = excluded.display_name, avatar_url = excluded.avatar_url`,
		p.UserID.String(), p.DisplayName, p.AvatarURL)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

func (s *SQLStore) notify(ctx context.Context, event models.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		logging.Warn().Err(err).Str("kind", string(event.Kind)).Str("room_id", event.RoomID.String()).
			Msg("Failed to publish change notification")
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*models.Room, error) {
	var (
		r          models.Room
		videoURL   sql.NullString
		joinCode   sql.NullString
		positionMS int64
	)
	err := row.Scan(&r.ID, &r.Name, &r.OwnerID, &videoURL, &positionMS, &r.IsPlaying,
		&r.Capacity, &r.IsPublic, &joinCode, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan room: %w", err)
	}
	if videoURL.Valid && videoURL.String != "" {
		v := videoURL.String
		r.VideoURL = &v
	}
	r.JoinCode = joinCode.String
	r.PositionSeconds = millisToSeconds(positionMS)
	return &r, nil
}

func secondsToMillis(seconds int) int64 {
	return int64(seconds) * 1000
}

// millisToSeconds truncates toward zero: 1999ms is 1s.
func millisToSeconds(ms int64) int {
	return int(ms / 1000)
}

func nullString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func observe(operation string, start time.Time, errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	metrics.RecordStoreOperation(operation, time.Since(start), err)
}

// closeQuietly closes a resource and explicitly ignores any error.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}
