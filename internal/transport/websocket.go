// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/metrics"
	"github.com/tomtom215/roomsync/internal/models"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 1024 * 1024

	phxJoin      = "phx_join"
	phxLeave     = "phx_leave"
	phxReply     = "phx_reply"
	phxClose     = "phx_close"
	phxError     = "phx_error"
	phxHeartbeat = "heartbeat"
	phxTopic     = "phoenix"

	eventPostgresChanges = "postgres_changes"
	eventBroadcast       = "broadcast"
	eventSystem          = "system"
)

// WebSocketConfig configures a WebSocketTransport.
type WebSocketConfig struct {
	// URL is the realtime socket endpoint, e.g. wss://host/realtime/v1/websocket.
	URL string
	// APIKey is sent as the apikey query parameter.
	APIKey string
	// AccessToken is sent in the join payload for row-level authorization.
	AccessToken string
	// Schema is the database schema of the subscribed tables (default "public").
	Schema           string
	HandshakeTimeout time.Duration
	EventBuffer      int
}

// WebSocketTransport subscribes to Postgres row changes over the Phoenix
// channel protocol. Every Subscribe dials a new socket.
type WebSocketTransport struct {
	cfg    WebSocketConfig
	dialer websocket.Dialer
}

// NewWebSocketTransport creates a transport. It does not connect.
func NewWebSocketTransport(cfg WebSocketConfig) *WebSocketTransport {
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	return &WebSocketTransport{
		cfg: cfg,
		dialer: websocket.Dialer{
			HandshakeTimeout:  cfg.HandshakeTimeout,
			EnableCompression: true,
		},
	}
}

// phxMessage is the JSON frame of the Phoenix v1 serializer.
type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type phxReplyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinConfig struct {
	Broadcast struct {
		Self bool `json:"self"`
		Ack  bool `json:"ack"`
	} `json:"broadcast"`
	Presence struct {
		Key string `json:"key"`
	} `json:"presence"`
	PostgresChanges []postgresChange `json:"postgres_changes"`
}

type postgresChange struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type changePayload struct {
	Data struct {
		Schema    string          `json:"schema"`
		Table     string          `json:"table"`
		Type      string          `json:"type"`
		Record    json.RawMessage `json:"record"`
		OldRecord json.RawMessage `json:"old_record"`
	} `json:"data"`
}

type systemPayload struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Extension string `json:"extension"`
}

type broadcastPayload struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Subscribe dials the socket and joins the channel. The join reply is
// reported through onStatus.
func (t *WebSocketTransport) Subscribe(ctx context.Context, topic string, filters []Filter, onStatus StatusFunc) (Subscription, error) {
	endpoint, err := t.socketURL()
	if err != nil {
		return nil, err
	}

	conn, resp, err := t.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(wsMaxMessageSize)

	s := &wsSubscription{
		conn:     conn,
		topic:    "realtime:" + topic,
		roomID:   roomIDFromFilters(filters),
		events:   make(chan models.Event, t.cfg.EventBuffer),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		onStatus: onStatus,
		log:      logging.WithComponent("transport.websocket").With().Str("topic", topic).Logger(),
	}

	join := joinPayload{AccessToken: t.cfg.AccessToken}
	for _, f := range filters {
		join.Config.PostgresChanges = append(join.Config.PostgresChanges, postgresChange{
			Event:  "*",
			Schema: t.cfg.Schema,
			Table:  f.Table,
			Filter: fmt.Sprintf("%s=eq.%s", f.Column, f.Value),
		})
	}

	s.joinRef = s.nextRef()
	if err := s.write(ctx, s.topic, phxJoin, join, s.joinRef, s.joinRef); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	go s.readLoop()

	s.log.Debug().Int("filters", len(filters)).Msg("Channel join sent")
	return s, nil
}

func (t *WebSocketTransport) socketURL() (string, error) {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	if t.cfg.APIKey != "" {
		q.Set("apikey", t.cfg.APIKey)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func roomIDFromFilters(filters []Filter) uuid.UUID {
	for _, f := range filters {
		if f.Column == "room_id" {
			if id, err := uuid.Parse(f.Value); err == nil {
				return id
			}
		}
	}
	return uuid.Nil
}

type wsSubscription struct {
	conn    *websocket.Conn
	topic   string
	roomID  uuid.UUID
	joinRef string
	ref     atomic.Uint64

	writeMu sync.Mutex

	events   chan models.Event
	closing  chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	statusMu sync.Mutex
	ended    bool
	onStatus StatusFunc

	log zerolog.Logger
}

func (s *wsSubscription) Events() <-chan models.Event {
	return s.events
}

func (s *wsSubscription) nextRef() string {
	return strconv.FormatUint(s.ref.Add(1), 10)
}

// Send writes a broadcast, or a protocol heartbeat for a Heartbeat payload.
func (s *wsSubscription) Send(ctx context.Context, payload any) error {
	select {
	case <-s.closing:
		return ErrNotSubscribed
	case <-s.done:
		return ErrNotSubscribed
	default:
	}

	switch p := payload.(type) {
	case Heartbeat, *Heartbeat:
		return s.write(ctx, phxTopic, phxHeartbeat, struct{}{}, s.nextRef(), "")
	default:
		return s.write(ctx, s.topic, eventBroadcast, broadcastPayload{
			Type:    eventBroadcast,
			Event:   "message",
			Payload: p,
		}, s.nextRef(), s.joinRef)
	}
}

func (s *wsSubscription) write(ctx context.Context, topic, event string, payload any, ref, joinRef string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	msg := phxMessage{Topic: topic, Event: event, Payload: data, Ref: &ref}
	if joinRef != "" {
		msg.JoinRef = &joinRef
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", event, err)
	}

	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// Unsubscribe leaves the channel, closes the socket and waits for the reader.
func (s *wsSubscription) Unsubscribe() error {
	var err error
	s.stopOnce.Do(func() {
		s.markEnded()
		close(s.closing)

		if werr := s.write(context.Background(), s.topic, phxLeave, struct{}{}, s.nextRef(), s.joinRef); werr != nil {
			s.log.Debug().Err(werr).Msg("Failed to send channel leave")
		}

		s.writeMu.Lock()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	<-s.done
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// markEnded suppresses further status callbacks and reports whether this
// call made the transition.
func (s *wsSubscription) markEnded() bool {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	return true
}

func (s *wsSubscription) report(status Status, err error) {
	if status != StatusSubscribed {
		if !s.markEnded() {
			return
		}
	} else {
		s.statusMu.Lock()
		ended := s.ended
		s.statusMu.Unlock()
		if ended {
			return
		}
	}
	if s.onStatus != nil {
		s.onStatus(status, err)
	}
}

func (s *wsSubscription) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info().Msg("Realtime socket closed by server")
			} else {
				s.log.Warn().Err(err).Msg("Realtime socket read failed")
			}
			s.report(StatusClosed, err)
			_ = s.conn.Close()
			return
		}

		var msg phxMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			metrics.TransportEventsDropped.WithLabelValues("websocket").Inc()
			s.log.Warn().Err(err).Msg("Failed to decode realtime frame")
			continue
		}

		if !s.handle(msg) {
			_ = s.conn.Close()
			return
		}
	}
}

// handle processes one frame and reports whether reading should continue.
func (s *wsSubscription) handle(msg phxMessage) bool {
	if msg.Topic == phxTopic {
		// Heartbeat replies only prove the socket is alive.
		return true
	}
	if msg.Topic != s.topic {
		return true
	}

	switch msg.Event {
	case phxReply:
		if msg.Ref == nil || *msg.Ref != s.joinRef {
			return true
		}
		var reply phxReplyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			s.report(StatusChannelError, fmt.Errorf("decode join reply: %w", err))
			return false
		}
		if reply.Status != "ok" {
			s.report(StatusChannelError, fmt.Errorf("channel join rejected: %s", strings.TrimSpace(string(reply.Response))))
			return false
		}
		s.log.Debug().Msg("Channel joined")
		s.report(StatusSubscribed, nil)

	case phxClose:
		s.report(StatusClosed, nil)
		return false

	case phxError:
		s.report(StatusChannelError, errors.New("channel error reported by server"))
		return false

	case eventSystem:
		var sys systemPayload
		if err := json.Unmarshal(msg.Payload, &sys); err == nil && sys.Status == "error" {
			s.report(StatusChannelError, fmt.Errorf("%s: %s", sys.Extension, sys.Message))
			return false
		}

	case eventPostgresChanges:
		ev, ok := s.decodeChange(msg.Payload)
		if !ok {
			return true
		}
		metrics.TransportEvents.WithLabelValues("websocket", string(ev.Kind)).Inc()
		select {
		case s.events <- ev:
		case <-s.closing:
			return false
		}

	case eventBroadcast:
		s.log.Debug().Msg("Ignoring broadcast from peer")
	}
	return true
}

func (s *wsSubscription) decodeChange(payload json.RawMessage) (models.Event, bool) {
	var change changePayload
	if err := json.Unmarshal(payload, &change); err != nil {
		metrics.TransportEventsDropped.WithLabelValues("websocket").Inc()
		s.log.Warn().Err(err).Msg("Failed to decode row change")
		return models.Event{}, false
	}

	data := change.Data
	record := data.Record
	switch data.Table {
	case TableMessages:
		// Messages are immutable; only inserts are relevant.
		if data.Type != "INSERT" {
			return models.Event{}, false
		}
	case TableRooms:
		if data.Type == "DELETE" {
			return models.Event{}, false
		}
	case TableParticipants:
		if data.Type == "DELETE" {
			record = data.OldRecord
		}
	}

	ev, err := decodeRecord(data.Table, s.roomID, record)
	if err != nil {
		metrics.TransportEventsDropped.WithLabelValues("websocket").Inc()
		s.log.Warn().Err(err).Str("table", data.Table).Msg("Dropping undecodable row change")
		return models.Event{}, false
	}
	return ev, true
}
