// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package sync

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/roomsync/internal/metrics"
	"github.com/tomtom215/roomsync/internal/models"
)

// ProfileFetcher resolves display metadata in one batched call.
type ProfileFetcher interface {
	FetchProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error)
}

// ApplyResult reports what Apply did with a message.
type ApplyResult int

const (
	Applied ApplyResult = iota
	DuplicateID
	DuplicateKey
	DuplicateContent
)

func (r ApplyResult) String() string {
	switch r {
	case Applied:
		return "applied"
	case DuplicateID:
		return "id"
	case DuplicateKey:
		return "idempotency_key"
	case DuplicateContent:
		return "content"
	default:
		return "unknown"
	}
}

var (
	systemAuthor = models.Author{
		UserID:      models.SystemAuthorID,
		DisplayName: models.SystemDisplayName,
	}
	assistantAuthor = models.Author{
		UserID:      models.SystemAuthorID,
		DisplayName: models.AssistantDisplayName,
	}
)

// Reconciler applies messages to a View exactly once. It must only be used
// from the room loop, and it never performs I/O: authors it has not seen are
// looked up by the caller with LookupAuthor and handed over with Remember.
//
// A message is discarded when its ID was already applied, when its
// idempotency key was already seen, or, for an assistant message without a
// key, when an assistant message with the same body exists.
type Reconciler struct {
	view    *View
	authors map[uuid.UUID]models.Author
	log     zerolog.Logger
}

// NewReconciler creates a reconciler writing to view.
func NewReconciler(view *View, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		view:    view,
		authors: make(map[uuid.UUID]models.Author),
		log:     log,
	}
}

// ResolveAuthors looks up the authors of msgs in one batch, skipping the
// reserved author. It touches no view state and may run off the room loop.
func ResolveAuthors(ctx context.Context, profiles ProfileFetcher, msgs []models.Message) (map[uuid.UUID]models.Author, error) {
	seen := make(map[uuid.UUID]struct{}, len(msgs))
	ids := make([]uuid.UUID, 0, len(msgs))
	for i := range msgs {
		id := msgs[i].AuthorID
		if id == models.SystemAuthorID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	authors := make(map[uuid.UUID]models.Author, len(ids))
	if len(ids) == 0 {
		return authors, nil
	}
	found, err := profiles.FetchProfiles(ctx, ids)
	if err != nil {
		return authors, fmt.Errorf("fetch profiles: %w", err)
	}
	for id, p := range found {
		authors[id] = authorFromProfile(p)
	}
	return authors, nil
}

// LookupAuthor resolves a single author. A user without a profile gets a
// placeholder name and no error.
func LookupAuthor(ctx context.Context, profiles ProfileFetcher, id uuid.UUID) (models.Author, error) {
	authors, err := ResolveAuthors(ctx, profiles, []models.Message{{AuthorID: id}})
	if err != nil {
		return unknownAuthor(id), err
	}
	if a, ok := authors[id]; ok {
		return a, nil
	}
	return unknownAuthor(id), nil
}

func authorFromProfile(p models.Profile) models.Author {
	return models.Author{UserID: p.UserID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL}
}

// unknownAuthor is shown for users without a profile.
func unknownAuthor(id uuid.UUID) models.Author {
	return models.Author{UserID: id, DisplayName: "user-" + id.String()[:8]}
}

// Learn adds known authors, typically from the roster.
func (r *Reconciler) Learn(roster []models.Participant) {
	for _, p := range roster {
		if p.DisplayName == "" {
			continue
		}
		r.authors[p.UserID] = models.Author{UserID: p.UserID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL}
	}
}

// Remember caches a resolved author.
func (r *Reconciler) Remember(a models.Author) {
	r.authors[a.UserID] = a
}

// MissingAuthor reports the author of m when it is neither reserved nor
// cached, so the caller can look it up before applying m.
func (r *Reconciler) MissingAuthor(m models.Message) (uuid.UUID, bool) {
	if m.FromSystemAuthor() {
		return uuid.Nil, false
	}
	if _, ok := r.authors[m.AuthorID]; ok {
		return uuid.Nil, false
	}
	return m.AuthorID, true
}

// Merge adds a bulk-loaded batch. Messages already present, by ID or by
// idempotency key, are skipped; the result is stably sorted by creation
// time, so a bulk load that finishes after incremental events still yields
// one chronological transcript. It returns the number of messages added.
func (r *Reconciler) Merge(msgs []models.Message, authors map[uuid.UUID]models.Author) int {
	for id, a := range authors {
		r.authors[id] = a
	}

	v := r.view
	v.mu.Lock()
	added := 0
	for _, m := range msgs {
		if _, ok := v.applied[m.ID]; ok {
			continue
		}
		if m.IdempotencyKey != "" {
			if _, ok := v.keys[m.IdempotencyKey]; ok {
				continue
			}
		}
		v.messages = append(v.messages, models.ViewMessage{Message: m, Author: r.cachedAuthor(m)})
		r.record(m)
		added++
	}
	slices.SortStableFunc(v.messages, func(a, b models.ViewMessage) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	v.mu.Unlock()

	if added > 0 {
		r.sweep()
	}
	metrics.RecordApplied("bulk", added)
	return added
}

// Apply appends one incremental message unless it is a duplicate, so
// events keep their arrival order. An author that was never resolved is shown
// with a placeholder name.
func (r *Reconciler) Apply(m models.Message) (models.ViewMessage, ApplyResult) {
	if res := r.duplicate(m); res != Applied {
		metrics.RecordDedup(res.String())
		r.log.Debug().Str("message_id", m.ID.String()).Stringer("reason", res).Msg("Discarding duplicate message")
		return models.ViewMessage{}, res
	}

	vm := models.ViewMessage{Message: m, Author: r.cachedAuthor(m)}

	v := r.view
	v.mu.Lock()
	v.messages = append(v.messages, vm)
	r.record(m)
	v.mu.Unlock()

	r.sweep()
	metrics.RecordApplied("event", 1)
	return vm, Applied
}

func (r *Reconciler) duplicate(m models.Message) ApplyResult {
	v := r.view
	v.mu.RLock()
	defer v.mu.RUnlock()

	if _, ok := v.applied[m.ID]; ok {
		return DuplicateID
	}
	if m.IdempotencyKey != "" {
		if _, ok := v.keys[m.IdempotencyKey]; ok {
			return DuplicateKey
		}
		return Applied
	}
	if isAssistant(m) {
		for i := range v.messages {
			existing := &v.messages[i].Message
			if isAssistant(*existing) && existing.Body == m.Body {
				return DuplicateContent
			}
		}
	}
	return Applied
}

// isAssistant reports whether m was written by the assistant rather than
// by the system.
func isAssistant(m models.Message) bool {
	return m.FromSystemAuthor() && m.Kind != models.KindSystem
}

// record must be called with the view locked.
func (r *Reconciler) record(m models.Message) {
	r.view.applied[m.ID] = struct{}{}
	if m.IdempotencyKey != "" {
		r.view.keys[m.IdempotencyKey] = struct{}{}
	}
}

func (r *Reconciler) cachedAuthor(m models.Message) models.Author {
	switch {
	case m.FromSystemAuthor() && m.Kind == models.KindSystem:
		return systemAuthor
	case m.FromSystemAuthor():
		return assistantAuthor
	}
	if a, ok := r.authors[m.AuthorID]; ok {
		return a
	}
	return unknownAuthor(m.AuthorID)
}

// sweep removes duplicate IDs that slipped past the checks above, keeping
// the first occurrence.
func (r *Reconciler) sweep() int {
	v := r.view
	v.mu.Lock()
	defer v.mu.Unlock()

	seen := make(map[uuid.UUID]struct{}, len(v.messages))
	kept := v.messages[:0]
	removed := 0
	for _, vm := range v.messages {
		if _, ok := seen[vm.ID]; ok {
			removed++
			continue
		}
		seen[vm.ID] = struct{}{}
		kept = append(kept, vm)
	}
	clear(v.messages[len(kept):])
	v.messages = kept

	for i := 0; i < removed; i++ {
		metrics.RecordDedup("sweep")
	}
	return removed
}
