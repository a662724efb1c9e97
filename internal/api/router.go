// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the chi router for the control API.
//
// Health endpoints and /metrics sit outside the rate limiter so scrapers and
// orchestrators are never throttled.
func NewRouter(h *Handler, mw *Middleware) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestMetrics())
	r.Use(APISecurityHeaders())

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/room", func(r chi.Router) {
		r.Use(mw.CORS())
		r.Use(mw.RateLimitByIP())

		r.Get("/", h.GetRoom)
		r.Post("/messages", h.SendMessage)
		r.Post("/seek", h.Seek)
		r.Put("/name", h.RenameRoom)
		r.Put("/video", h.LoadVideo)
		r.Post("/reconnect", h.Reconnect)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "No such endpoint.", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed for this endpoint.", nil)
	})

	return r
}
