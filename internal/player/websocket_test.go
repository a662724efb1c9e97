// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package player

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// fakePlayerHost answers getCurrentTime with a fixed position and reports a
// position event after every seek.
func fakePlayerHost(t *testing.T, position float64) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var cmd Envelope
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			var out Envelope
			switch cmd.Command {
			case CommandGetCurrentTime:
				out = Envelope{Type: TypeReply, Origin: testOrigin, RequestID: cmd.RequestID, Seconds: &position}
			case CommandSeekTo:
				out = Envelope{Type: TypeEvent, Origin: testOrigin, Event: string(EventPosition), Seconds: cmd.Seconds}
			default:
				continue
			}
			data, _ := json.Marshal(out)
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialFakePlayer(t *testing.T, srv *httptest.Server) (*Bridge, context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	poster, err := DialWebSocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		cancel()
		t.Fatalf("DialWebSocket() error = %v", err)
	}
	policy, err := NewOriginPolicy([]string{testOrigin})
	if err != nil {
		cancel()
		t.Fatalf("NewOriginPolicy() error = %v", err)
	}
	bridge := NewBridge(poster, policy, 8)

	served := make(chan error, 1)
	go func() { served <- poster.Serve(ctx, bridge.Receive) }()

	t.Cleanup(func() {
		cancel()
		<-served
		bridge.Close()
	})
	return bridge, cancel, served
}

func TestWebSocketPoster_RoundTrip(t *testing.T) {
	srv := fakePlayerHost(t, 61.2)
	bridge, _, _ := dialFakePlayer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := bridge.CurrentTime(ctx)
	if err != nil {
		t.Fatalf("CurrentTime() error = %v", err)
	}
	if got != 61 {
		t.Errorf("CurrentTime() = %d, want 61", got)
	}

	if err := bridge.SeekTo(ctx, 150); err != nil {
		t.Fatalf("SeekTo() error = %v", err)
	}
	select {
	case ev := <-bridge.Events():
		if ev.Kind != EventPosition || ev.Seconds != 150 {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-ctx.Done():
		t.Fatal("no position event after seek")
	}
}

func TestWebSocketPoster_ServeStopsOnCancel(t *testing.T) {
	srv := fakePlayerHost(t, 0)
	_, cancel, served := dialFakePlayer(t, srv)

	cancel()
	select {
	case err := <-served:
		if err == nil {
			t.Error("Serve() returned nil after cancellation, want context error")
		}
		// Put it back for the cleanup.
		served <- err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestDialWebSocket_Failure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := DialWebSocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")); err == nil {
		t.Fatal("expected dial failure")
	}
}
