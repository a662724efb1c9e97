// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSlogHandler_Enabled(t *testing.T) {
	t.Parallel()

	h := NewSlogHandlerWithLogger(zerolog.New(&bytes.Buffer{}).Level(zerolog.WarnLevel))

	tests := []struct {
		level slog.Level
		want  bool
	}{
		{slog.LevelDebug, false},
		{slog.LevelInfo, false},
		{slog.LevelWarn, true},
		{slog.LevelError, true},
	}
	for _, tt := range tests {
		if got := h.Enabled(context.Background(), tt.level); got != tt.want {
			t.Errorf("Enabled(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestSlogHandler_Handle(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(NewSlogHandlerWithLogger(zerolog.New(&buf)))

	logger.Warn("subscriber closed",
		"topic", "roomsync.rooms.r1",
		"attempt", 3,
		"delay", 2*time.Second,
		"ok", false,
		"err", errors.New("eof"),
	)

	output := buf.String()
	for _, want := range []string{
		`"level":"warn"`,
		`"message":"subscriber closed"`,
		`"topic":"roomsync.rooms.r1"`,
		`"attempt":3`,
		`"ok":false`,
		`"err":"eof"`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output, got: %s", want, output)
		}
	}
}

func TestSlogHandler_WithAttrsAndGroups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(NewSlogHandlerWithLogger(zerolog.New(&buf)))

	base.With("service", "liveness").
		WithGroup("room").
		Info("tick", "id", "r1", slog.Group("player", "pos", 42))

	output := buf.String()
	for _, want := range []string{
		`"service":"liveness"`,
		`"room.id":"r1"`,
		`"room.player.pos":42`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output, got: %s", want, output)
		}
	}
}

func TestSlogHandler_WithGroup_Empty(t *testing.T) {
	t.Parallel()

	h := NewSlogHandler()
	if h.WithGroup("") != h {
		t.Error("WithGroup(\"\") should return the same handler")
	}
}

func TestSlogToZerologLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   slog.Level
		want zerolog.Level
	}{
		{slog.LevelDebug - 4, zerolog.TraceLevel},
		{slog.LevelDebug, zerolog.DebugLevel},
		{slog.LevelInfo, zerolog.InfoLevel},
		{slog.LevelWarn, zerolog.WarnLevel},
		{slog.LevelError, zerolog.ErrorLevel},
		{slog.LevelError + 4, zerolog.ErrorLevel},
	}
	for _, tt := range tests {
		if got := slogToZerologLevel(tt.in); got != tt.want {
			t.Errorf("slogToZerologLevel(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Output: &buf})
	t.Cleanup(func() { Init(Config{Level: "info", Output: &bytes.Buffer{}}) })

	NewSlogLogger("supervisor").Info("service started")

	output := buf.String()
	if !strings.Contains(output, `"component":"supervisor"`) {
		t.Errorf("expected component field, got: %s", output)
	}
	if !strings.Contains(output, "service started") {
		t.Errorf("expected message, got: %s", output)
	}
}
