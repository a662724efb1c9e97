// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tomtom215/roomsync/internal/analysis"
	"github.com/tomtom215/roomsync/internal/authz"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/models"
	roomsync "github.com/tomtom215/roomsync/internal/sync"
)

// RoomSession is the joined room the API drives. *sync.Room implements it.
type RoomSession interface {
	State() roomsync.ConnState
	Snapshot() roomsync.Snapshot
	Send(ctx context.Context, text string) (*roomsync.SendResult, error)
	Seek(ctx context.Context, input string) error
	RenameRoom(ctx context.Context, name string) error
	LoadVideo(ctx context.Context, videoURL string) error
	Reconnect()
}

// Pinger reports whether a backing service answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the control API.
type Handler struct {
	session func() RoomSession
	store   Pinger
	started time.Time
}

// NewHandler creates a handler. session returns the current room, or nil
// while none is joined. store may be nil.
func NewHandler(session func() RoomSession, store Pinger) *Handler {
	return &Handler{session: session, store: store, started: time.Now()}
}

type sendRequest struct {
	Text string `json:"text" validate:"required,max=4000"`
}

type seekRequest struct {
	Position string `json:"position" validate:"required,mmss"`
}

type renameRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

type videoRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// RoomStateResponse is the JSON form of a room snapshot.
type RoomStateResponse struct {
	Room          models.Room          `json:"room"`
	Participants  []models.Participant `json:"participants"`
	Messages      []models.ViewMessage `json:"messages"`
	State         string               `json:"state"`
	Role          authz.Role           `json:"role"`
	Position      int                  `json:"position"`
	PositionLabel string               `json:"position_label"`
	Playing       bool                 `json:"playing"`
	Thinking      bool                 `json:"thinking"`
}

// SendResponse describes what happened to a sent message.
type SendResponse struct {
	Message   *models.Message `json:"message,omitempty"`
	Outcome   string          `json:"outcome"`
	Question  bool            `json:"question"`
	Timestamp *int            `json:"timestamp,omitempty"`
}

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status        string `json:"status"`
	Joined        bool   `json:"joined"`
	Connection    string `json:"connection,omitempty"`
	StoreOK       bool   `json:"store_ok"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Healthz reports that the process is alive.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Joined:        h.session() != nil,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}, time.Now())
}

// Readyz reports whether the room is joined and connected and the store answers.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp := HealthResponse{Status: "ready", StoreOK: true, UptimeSeconds: int64(time.Since(h.started).Seconds())}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("Readiness check: store unreachable")
			resp.StoreOK = false
		}
	}

	ready := resp.StoreOK
	if s := h.session(); s != nil {
		resp.Joined = true
		state := s.State()
		resp.Connection = state.String()
		ready = ready && state == roomsync.StateConnected
	} else {
		ready = false
	}

	status := http.StatusOK
	if !ready {
		resp.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}
	respondData(w, status, resp, start)
}

// GetRoom returns the local view. ?limit=N keeps the newest N messages.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s, ok := h.require(w)
	if !ok {
		return
	}

	snap := s.Snapshot()
	messages := snap.Messages
	if limit := getIntParam(r, "limit", 0); limit > 0 && limit < len(messages) {
		messages = messages[len(messages)-limit:]
	}
	if messages == nil {
		messages = []models.ViewMessage{}
	}

	respondData(w, http.StatusOK, RoomStateResponse{
		Room:          snap.Room,
		Participants:  snap.Participants,
		Messages:      messages,
		State:         snap.State.String(),
		Role:          snap.Role,
		Position:      snap.Position,
		PositionLabel: analysis.FormatTimestamp(snap.Position),
		Playing:       snap.Playing,
		Thinking:      snap.Thinking,
	}, start)
}

// SendMessage posts chat text to the room.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s, ok := h.require(w)
	if !ok {
		return
	}
	var req sendRequest
	if !h.bind(w, r, &req) {
		return
	}

	res, err := s.Send(r.Context(), req.Text)
	if err != nil {
		respondSessionError(w, r, err)
		return
	}
	respondData(w, http.StatusCreated, SendResponse{
		Message:   res.Message,
		Outcome:   string(res.Outcome),
		Question:  res.Classification.Directed,
		Timestamp: res.Timestamp,
	}, start)
}

// Seek moves playback to an MM:SS position.
func (h *Handler) Seek(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s, ok := h.require(w)
	if !ok {
		return
	}
	var req seekRequest
	if !h.bind(w, r, &req) {
		return
	}
	if err := s.Seek(r.Context(), req.Position); err != nil {
		respondSessionError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"position": req.Position}, start)
}

// RenameRoom changes the room name.
func (h *Handler) RenameRoom(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s, ok := h.require(w)
	if !ok {
		return
	}
	var req renameRequest
	if !h.bind(w, r, &req) {
		return
	}
	if err := s.RenameRoom(r.Context(), req.Name); err != nil {
		respondSessionError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, s.Snapshot().Room, start)
}

// LoadVideo replaces the room's video.
func (h *Handler) LoadVideo(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s, ok := h.require(w)
	if !ok {
		return
	}
	var req videoRequest
	if !h.bind(w, r, &req) {
		return
	}
	if err := s.LoadVideo(r.Context(), req.URL); err != nil {
		respondSessionError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, s.Snapshot().Room, start)
}

// Reconnect opens a fresh subscription.
func (h *Handler) Reconnect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s, ok := h.require(w)
	if !ok {
		return
	}
	s.Reconnect()
	respondData(w, http.StatusAccepted, map[string]string{"state": s.State().String()}, start)
}

func (h *Handler) require(w http.ResponseWriter) (RoomSession, bool) {
	s := h.session()
	if s == nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_JOINED", "No room has been joined yet.", nil)
		return nil, false
	}
	return s, true
}

// bind decodes and validates a request body, responding 400 on failure.
func (h *Handler) bind(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := decodeBody(w, r, dst); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be a JSON object.", err)
		return false
	}
	if apiErr := validateRequest(dst); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr, nil)
		return false
	}
	return true
}

// respondSessionError maps a room error category onto a status code.
func respondSessionError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := http.StatusInternalServerError, "INTERNAL_ERROR", "The request could not be completed."

	switch {
	case errors.Is(err, roomsync.ErrValidation):
		status, code, message = http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, roomsync.ErrPermission):
		status, code, message = http.StatusForbidden, "FORBIDDEN", "Only the room owner can do that."
	case errors.Is(err, roomsync.ErrDispatch):
		status, code, message = http.StatusBadGateway, "DISPATCH_FAILED", "The assistant could not answer right now."
	case errors.Is(err, roomsync.ErrPersistence):
		status, code, message = http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "The room could not be saved. Try again."
	case errors.Is(err, roomsync.ErrLeft):
		status, code, message = http.StatusServiceUnavailable, "ROOM_LEFT", "The room session has ended."
	}

	logging.Ctx(r.Context()).Warn().Err(err).Int("status", status).Msg("Room operation failed")
	respondError(w, status, code, message, nil)
}
