// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

const testTimeout = 5 * time.Second

type statusEvent struct {
	status Status
	err    error
}

type statusRecorder struct {
	ch chan statusEvent
}

func newStatusRecorder() *statusRecorder {
	return &statusRecorder{ch: make(chan statusEvent, 16)}
}

func (r *statusRecorder) fn(status Status, err error) {
	r.ch <- statusEvent{status: status, err: err}
}

func (r *statusRecorder) expect(t *testing.T, want Status) statusEvent {
	t.Helper()
	select {
	case got := <-r.ch:
		if got.status != want {
			t.Fatalf("status = %s (err %v), want %s", got.status, got.err, want)
		}
		return got
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for status %s", want)
	}
	return statusEvent{}
}

func (r *statusRecorder) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case got := <-r.ch:
		t.Fatalf("unexpected status %s (err %v)", got.status, got.err)
	case <-time.After(wait):
	}
}

// phoenixServer is a minimal realtime endpoint: it answers joins and lets
// tests push frames to the connected client.
type phoenixServer struct {
	srv        *httptest.Server
	joinStatus string

	mu       sync.Mutex
	conn     *websocket.Conn
	query    string
	received chan phxMessage
	ready    chan struct{}
}

func newPhoenixServer(t *testing.T, joinStatus string) *phoenixServer {
	t.Helper()
	ps := &phoenixServer{
		joinStatus: joinStatus,
		received:   make(chan phxMessage, 32),
		ready:      make(chan struct{}),
	}
	upgrader := websocket.Upgrader{}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.mu.Lock()
		ps.conn = conn
		ps.query = r.URL.RawQuery
		ps.mu.Unlock()
		close(ps.ready)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg phxMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			ps.received <- msg
			if msg.Event == phxJoin {
				ps.push(t, msg.Topic, phxReply, map[string]any{
					"status":   ps.joinStatus,
					"response": map[string]any{"reason": "unauthorized"},
				}, msg.Ref)
			}
		}
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *phoenixServer) push(t *testing.T, topic, event string, payload any, ref *string) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Errorf("marshal payload: %v", err)
		return
	}
	frame, err := json.Marshal(phxMessage{Topic: topic, Event: event, Payload: data, Ref: ref})
	if err != nil {
		t.Errorf("marshal frame: %v", err)
		return
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	_ = ps.conn.WriteMessage(websocket.TextMessage, frame)
}

func (ps *phoenixServer) closeConn() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	_ = ps.conn.Close()
}

func (ps *phoenixServer) expectFrame(t *testing.T, event string) phxMessage {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case msg := <-ps.received:
			if msg.Event == event {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", event)
		}
	}
}

func subscribeTestSocket(t *testing.T, ps *phoenixServer, roomID uuid.UUID, rec *statusRecorder) Subscription {
	t.Helper()
	tr := NewWebSocketTransport(WebSocketConfig{
		URL:         ps.srv.URL + "/realtime/v1/websocket",
		APIKey:      "anon-key",
		AccessToken: "user-token",
		EventBuffer: 8,
	})
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	sub, err := tr.Subscribe(ctx, RoomTopic(roomID), RoomFilters(roomID), rec.fn)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	<-ps.ready
	return sub
}

func expectEvent(t *testing.T, sub Subscription) models.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for event")
	}
	return models.Event{}
}

func TestWebSocketTransport_JoinPayload(t *testing.T) {
	ps := newPhoenixServer(t, "ok")
	rec := newStatusRecorder()
	roomID := uuid.New()

	subscribeTestSocket(t, ps, roomID, rec)
	join := ps.expectFrame(t, phxJoin)
	rec.expect(t, StatusSubscribed)

	if join.Topic != "realtime:room:"+roomID.String() {
		t.Errorf("join topic = %q", join.Topic)
	}
	var payload joinPayload
	if err := json.Unmarshal(join.Payload, &payload); err != nil {
		t.Fatalf("decode join payload: %v", err)
	}
	if payload.AccessToken != "user-token" {
		t.Errorf("access token = %q", payload.AccessToken)
	}
	if len(payload.Config.PostgresChanges) != 3 {
		t.Fatalf("postgres_changes = %d, want 3", len(payload.Config.PostgresChanges))
	}
	first := payload.Config.PostgresChanges[0]
	if first.Table != TableMessages || first.Schema != "public" || first.Filter != "room_id=eq."+roomID.String() {
		t.Errorf("unexpected change filter: %+v", first)
	}

	ps.mu.Lock()
	query := ps.query
	ps.mu.Unlock()
	if !strings.Contains(query, "apikey=anon-key") || !strings.Contains(query, "vsn=1.0.0") {
		t.Errorf("socket query = %q", query)
	}
}

func TestWebSocketTransport_RowChanges(t *testing.T) {
	ps := newPhoenixServer(t, "ok")
	rec := newStatusRecorder()
	roomID := uuid.New()
	sub := subscribeTestSocket(t, ps, roomID, rec)
	join := ps.expectFrame(t, phxJoin)
	rec.expect(t, StatusSubscribed)

	msgID := uuid.New()
	ps.push(t, join.Topic, eventPostgresChanges, map[string]any{
		"data": map[string]any{
			"schema": "public",
			"table":  "messages",
			"type":   "INSERT",
			"record": map[string]any{
				"id":              msgID.String(),
				"room_id":         roomID.String(),
				"author_id":       uuid.Nil.String(),
				"body":            "hello",
				"kind":            "ai_response",
				"idempotency_key": "key-1",
				"created_at":      "2026-03-01T12:00:00.123456+00:00",
			},
		},
	}, nil)

	ev := expectEvent(t, sub)
	if ev.Kind != models.EventMessageInserted || ev.Message.ID != msgID {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Message.IdempotencyKey != "key-1" || ev.Message.Kind != models.KindAIResponse {
		t.Errorf("unexpected message: %+v", ev.Message)
	}
	if ev.Message.CreatedAt.IsZero() {
		t.Error("CreatedAt not parsed")
	}

	ps.push(t, join.Topic, eventPostgresChanges, map[string]any{
		"data": map[string]any{
			"table": "rooms",
			"type":  "UPDATE",
			"record": map[string]any{
				"id":          roomID.String(),
				"name":        "club",
				"owner_id":    uuid.New().String(),
				"video_url":   "https://videos.example.com/1",
				"position_ms": 150500,
				"is_playing":  true,
				"created_at":  "2026-03-01 12:00:00",
				"updated_at":  "2026-03-01T12:05:00",
			},
		},
	}, nil)

	ev = expectEvent(t, sub)
	if ev.Kind != models.EventRoomUpdated || ev.Room.PositionSeconds != 150 || !ev.Room.IsPlaying {
		t.Fatalf("unexpected room event: %+v", ev.Room)
	}

	// Message updates are ignored; the participant change still arrives.
	ps.push(t, join.Topic, eventPostgresChanges, map[string]any{
		"data": map[string]any{"table": "messages", "type": "UPDATE", "record": map[string]any{"id": msgID.String()}},
	}, nil)
	ps.push(t, join.Topic, eventPostgresChanges, map[string]any{
		"data": map[string]any{
			"table":      "participants",
			"type":       "DELETE",
			"old_record": map[string]any{"room_id": roomID.String()},
		},
	}, nil)

	ev = expectEvent(t, sub)
	if ev.Kind != models.EventParticipantsChanged || ev.RoomID != roomID {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestWebSocketTransport_JoinRejected(t *testing.T) {
	ps := newPhoenixServer(t, "error")
	rec := newStatusRecorder()
	sub := subscribeTestSocket(t, ps, uuid.New(), rec)

	got := rec.expect(t, StatusChannelError)
	if got.err == nil || !strings.Contains(got.err.Error(), "unauthorized") {
		t.Errorf("error = %v, want join rejection", got.err)
	}

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("expected closed events channel")
		}
	case <-time.After(testTimeout):
		t.Error("events channel not closed")
	}
}

func TestWebSocketTransport_ServerClose(t *testing.T) {
	ps := newPhoenixServer(t, "ok")
	rec := newStatusRecorder()
	sub := subscribeTestSocket(t, ps, uuid.New(), rec)
	rec.expect(t, StatusSubscribed)

	ps.closeConn()
	rec.expect(t, StatusClosed)
	rec.expectNone(t, 100*time.Millisecond)

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("expected closed events channel")
		}
	case <-time.After(testTimeout):
		t.Error("events channel not closed")
	}
}

func TestWebSocketTransport_PhxErrorIsChannelError(t *testing.T) {
	ps := newPhoenixServer(t, "ok")
	rec := newStatusRecorder()
	subscribeTestSocket(t, ps, uuid.New(), rec)
	join := ps.expectFrame(t, phxJoin)
	rec.expect(t, StatusSubscribed)

	ps.push(t, join.Topic, phxError, map[string]any{}, nil)
	rec.expect(t, StatusChannelError)
}

func TestWebSocketTransport_HeartbeatAndBroadcast(t *testing.T) {
	ps := newPhoenixServer(t, "ok")
	rec := newStatusRecorder()
	sub := subscribeTestSocket(t, ps, uuid.New(), rec)
	join := ps.expectFrame(t, phxJoin)
	rec.expect(t, StatusSubscribed)

	ctx := context.Background()
	if err := sub.Send(ctx, Heartbeat{At: time.Now()}); err != nil {
		t.Fatalf("Send heartbeat failed: %v", err)
	}
	hb := ps.expectFrame(t, phxHeartbeat)
	if hb.Topic != phxTopic {
		t.Errorf("heartbeat topic = %q, want %q", hb.Topic, phxTopic)
	}

	if err := sub.Send(ctx, map[string]string{"seek": "2:30"}); err != nil {
		t.Fatalf("Send broadcast failed: %v", err)
	}
	bc := ps.expectFrame(t, eventBroadcast)
	if bc.Topic != join.Topic {
		t.Errorf("broadcast topic = %q, want %q", bc.Topic, join.Topic)
	}
	if !strings.Contains(string(bc.Payload), `"seek":"2:30"`) {
		t.Errorf("broadcast payload = %s", bc.Payload)
	}
}

func TestWebSocketTransport_UnsubscribeIsSilent(t *testing.T) {
	ps := newPhoenixServer(t, "ok")
	rec := newStatusRecorder()
	sub := subscribeTestSocket(t, ps, uuid.New(), rec)
	rec.expect(t, StatusSubscribed)

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	ps.expectFrame(t, phxLeave)
	rec.expectNone(t, 100*time.Millisecond)

	if _, ok := <-sub.Events(); ok {
		t.Error("expected closed events channel")
	}
	if err := sub.Send(context.Background(), Heartbeat{}); err != ErrNotSubscribed {
		t.Errorf("Send after Unsubscribe = %v, want ErrNotSubscribed", err)
	}
	// Second call is a no-op.
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("second Unsubscribe = %v", err)
	}
}

func TestWebSocketTransport_DialFailure(t *testing.T) {
	tr := NewWebSocketTransport(WebSocketConfig{URL: "ws://127.0.0.1:1/socket", HandshakeTimeout: time.Second})
	if _, err := tr.Subscribe(context.Background(), "room:x", nil, nil); err == nil {
		t.Fatal("expected dial error")
	}
}
