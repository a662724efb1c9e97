// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package sync

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/roomsync/internal/models"
)

func newTestReconciler() (*View, *Reconciler) {
	view := NewView(models.Room{ID: uuid.New(), Name: "Movie night"})
	return view, NewReconciler(view, testLog())
}

func textMessage(roomID uuid.UUID, body string, at time.Time) models.Message {
	return models.Message{
		ID:        uuid.New(),
		RoomID:    roomID,
		AuthorID:  uuid.New(),
		Body:      body,
		Kind:      models.KindText,
		CreatedAt: at,
	}
}

func TestReconciler_ApplyIsIdempotent(t *testing.T) {
	view, rec := newTestReconciler()
	m := textMessage(view.Room().ID, "hello", time.Now())

	if _, res := rec.Apply(m); res != Applied {
		t.Fatalf("first Apply = %v, want applied", res)
	}
	if _, res := rec.Apply(m); res != DuplicateID {
		t.Errorf("second Apply = %v, want id", res)
	}
	if view.Len() != 1 {
		t.Errorf("view has %d messages, want 1", view.Len())
	}
}

func TestReconciler_DeduplicatesByIdempotencyKey(t *testing.T) {
	view, rec := newTestReconciler()
	roomID := view.Room().ID

	first := models.Message{ID: uuid.New(), RoomID: roomID, AuthorID: models.SystemAuthorID, Body: "It's a heist.", Kind: models.KindAIResponse, IdempotencyKey: "k-1", CreatedAt: time.Now()}
	second := first
	second.ID = uuid.New()

	rec.Apply(first)
	if _, res := rec.Apply(second); res != DuplicateKey {
		t.Errorf("Apply = %v, want idempotency_key", res)
	}
	if view.Len() != 1 {
		t.Errorf("view has %d messages, want 1", view.Len())
	}
}

func TestReconciler_DeduplicatesUnkeyedAssistantAnswers(t *testing.T) {
	view, rec := newTestReconciler()
	roomID := view.Room().ID

	answer := models.Message{ID: uuid.New(), RoomID: roomID, AuthorID: models.SystemAuthorID, Body: "The dog is named Rex.", Kind: models.KindAIResponse, CreatedAt: time.Now()}
	repeat := answer
	repeat.ID = uuid.New()

	rec.Apply(answer)
	if _, res := rec.Apply(repeat); res != DuplicateContent {
		t.Errorf("Apply = %v, want content", res)
	}

	// System notices may legitimately repeat.
	notice := models.Message{ID: uuid.New(), RoomID: roomID, AuthorID: models.SystemAuthorID, Body: "Video changed", Kind: models.KindSystem, CreatedAt: time.Now()}
	again := notice
	again.ID = uuid.New()
	rec.Apply(notice)
	if _, res := rec.Apply(again); res != Applied {
		t.Errorf("repeated system message = %v, want applied", res)
	}
	if view.Len() != 3 {
		t.Errorf("view has %d messages, want 3", view.Len())
	}
}

func TestReconciler_MergeAndApplyInAnyOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		applyFirst  []int
		applyAfter  []int
		bulkIndexes []int
	}{
		{name: "bulk only", bulkIndexes: []int{0, 1, 2, 3, 4}},
		{name: "events before bulk", applyFirst: []int{3, 4}, bulkIndexes: []int{0, 1, 2, 3}},
		{name: "events after bulk", bulkIndexes: []int{0, 1, 2}, applyAfter: []int{2, 3, 4}},
		{name: "events on both sides", applyFirst: []int{4, 1}, bulkIndexes: []int{0, 1, 2}, applyAfter: []int{3, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, rec := newTestReconciler()
			msgs := make([]models.Message, 5)
			for i := range msgs {
				msgs[i] = textMessage(view.Room().ID, "m", base.Add(time.Duration(i)*time.Second))
			}

			for _, i := range tt.applyFirst {
				rec.Apply(msgs[i])
			}
			var bulk []models.Message
			for _, i := range tt.bulkIndexes {
				bulk = append(bulk, msgs[i])
			}
			rec.Merge(bulk, nil)
			for _, i := range tt.applyAfter {
				rec.Apply(msgs[i])
			}

			want := make(map[uuid.UUID]bool)
			for _, group := range [][]int{tt.applyFirst, tt.bulkIndexes, tt.applyAfter} {
				for _, i := range group {
					want[msgs[i].ID] = true
				}
			}

			// The bulk merge sorts by creation time; later events are
			// appended in the order they arrive.
			var order []models.Message
			for _, group := range [][]int{tt.applyFirst, tt.bulkIndexes} {
				for _, i := range group {
					if !slices.ContainsFunc(order, func(m models.Message) bool { return m.ID == msgs[i].ID }) {
						order = append(order, msgs[i])
					}
				}
			}
			slices.SortStableFunc(order, func(a, b models.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
			for _, i := range tt.applyAfter {
				if !slices.ContainsFunc(order, func(m models.Message) bool { return m.ID == msgs[i].ID }) {
					order = append(order, msgs[i])
				}
			}

			got := view.Messages()
			if len(got) != len(want) || len(got) != len(order) {
				t.Fatalf("view has %d messages, want %d", len(got), len(want))
			}
			for i := range got {
				if got[i].ID != order[i].ID {
					t.Errorf("message %d = %s, want %s", i, got[i].ID, order[i].ID)
				}
			}
		})
	}
}

func TestReconciler_ApplyKeepsArrivalOrder(t *testing.T) {
	view, rec := newTestReconciler()
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	newer := textMessage(view.Room().ID, "arrived first", base.Add(time.Minute))
	older := textMessage(view.Room().ID, "arrived second", base)
	undated := textMessage(view.Room().ID, "no timestamp", time.Time{})

	for _, m := range []models.Message{newer, older, undated} {
		if _, res := rec.Apply(m); res != Applied {
			t.Fatalf("Apply(%q) = %v", m.Body, res)
		}
	}

	got := view.Messages()
	want := []string{"arrived first", "arrived second", "no timestamp"}
	if len(got) != len(want) {
		t.Fatalf("view has %d messages, want %d", len(got), len(want))
	}
	for i, body := range want {
		if got[i].Body != body {
			t.Errorf("message %d = %q, want %q", i, got[i].Body, body)
		}
	}
}

func TestReconciler_MergeReportsAdded(t *testing.T) {
	view, rec := newTestReconciler()
	m := textMessage(view.Room().ID, "hi", time.Now())

	if n := rec.Merge([]models.Message{m}, nil); n != 1 {
		t.Errorf("first Merge added %d, want 1", n)
	}
	if n := rec.Merge([]models.Message{m}, nil); n != 0 {
		t.Errorf("second Merge added %d, want 0", n)
	}
}

func TestResolveAuthors_OneBatchWithoutReservedAuthor(t *testing.T) {
	st := newMemStore()
	alice := models.Profile{UserID: uuid.New(), DisplayName: "Alice"}
	st.UpsertProfile(context.Background(), alice)
	stranger := uuid.New()

	roomID := uuid.New()
	msgs := []models.Message{
		{ID: uuid.New(), RoomID: roomID, AuthorID: alice.UserID},
		{ID: uuid.New(), RoomID: roomID, AuthorID: alice.UserID},
		{ID: uuid.New(), RoomID: roomID, AuthorID: stranger},
		{ID: uuid.New(), RoomID: roomID, AuthorID: models.SystemAuthorID, Kind: models.KindAIResponse},
	}

	authors, err := ResolveAuthors(context.Background(), st, msgs)
	if err != nil {
		t.Fatalf("ResolveAuthors() error = %v", err)
	}
	if got := st.fetchBatches.Load(); got != 1 {
		t.Errorf("FetchProfiles called %d times, want 1", got)
	}
	if authors[alice.UserID].DisplayName != "Alice" {
		t.Errorf("alice resolved as %q", authors[alice.UserID].DisplayName)
	}
	if _, ok := authors[models.SystemAuthorID]; ok {
		t.Error("reserved author should not be looked up")
	}
	if _, ok := authors[stranger]; ok {
		t.Error("unknown author should be absent")
	}
}

func TestReconciler_AuthorNames(t *testing.T) {
	view, rec := newTestReconciler()
	roomID := view.Room().ID

	bob := models.Author{UserID: uuid.New(), DisplayName: "Bob"}
	rec.Remember(bob)
	stranger := uuid.New()

	cases := []struct {
		msg  models.Message
		want string
	}{
		{models.Message{ID: uuid.New(), RoomID: roomID, AuthorID: bob.UserID, Kind: models.KindText, Body: "a"}, "Bob"},
		{models.Message{ID: uuid.New(), RoomID: roomID, AuthorID: stranger, Kind: models.KindText, Body: "b"}, "user-" + stranger.String()[:8]},
		{models.Message{ID: uuid.New(), RoomID: roomID, AuthorID: models.SystemAuthorID, Kind: models.KindAIResponse, Body: "c"}, models.AssistantDisplayName},
		{models.Message{ID: uuid.New(), RoomID: roomID, AuthorID: models.SystemAuthorID, Kind: models.KindSystem, Body: "d"}, models.SystemDisplayName},
	}
	for _, c := range cases {
		vm, res := rec.Apply(c.msg)
		if res != Applied {
			t.Fatalf("Apply(%s) = %v", c.msg.Body, res)
		}
		if vm.Author.DisplayName != c.want {
			t.Errorf("author of %q = %q, want %q", c.msg.Body, vm.Author.DisplayName, c.want)
		}
	}
}

func TestReconciler_MissingAuthor(t *testing.T) {
	view, rec := newTestReconciler()
	roomID := view.Room().ID
	stranger := uuid.New()

	msg := models.Message{ID: uuid.New(), RoomID: roomID, AuthorID: stranger, Kind: models.KindText}
	if id, missing := rec.MissingAuthor(msg); !missing || id != stranger {
		t.Errorf("MissingAuthor() = %s, %v, want %s, true", id, missing, stranger)
	}

	rec.Remember(models.Author{UserID: stranger, DisplayName: "Sam"})
	if _, missing := rec.MissingAuthor(msg); missing {
		t.Error("remembered author reported missing")
	}

	assistant := models.Message{ID: uuid.New(), RoomID: roomID, AuthorID: models.SystemAuthorID, Kind: models.KindAIResponse}
	if _, missing := rec.MissingAuthor(assistant); missing {
		t.Error("reserved author reported missing")
	}
}

func TestLookupAuthor(t *testing.T) {
	st := newMemStore()
	bob := models.Profile{UserID: uuid.New(), DisplayName: "Bob"}
	st.UpsertProfile(context.Background(), bob)

	a, err := LookupAuthor(context.Background(), st, bob.UserID)
	if err != nil || a.DisplayName != "Bob" {
		t.Errorf("LookupAuthor(bob) = %+v, %v", a, err)
	}

	stranger := uuid.New()
	a, err = LookupAuthor(context.Background(), st, stranger)
	if err != nil || a.DisplayName != "user-"+stranger.String()[:8] {
		t.Errorf("LookupAuthor(stranger) = %+v, %v, want placeholder", a, err)
	}

	st.setErr(&st.fetchErr, errors.New("store down"))
	a, err = LookupAuthor(context.Background(), st, bob.UserID)
	if err == nil {
		t.Error("LookupAuthor() should fail when the store does")
	}
	if a.UserID != bob.UserID {
		t.Errorf("failed lookup author = %+v, want placeholder for bob", a)
	}
}

func TestReconciler_SweepRemovesDuplicateIDs(t *testing.T) {
	view, rec := newTestReconciler()
	m := textMessage(view.Room().ID, "dup", time.Now())

	view.mu.Lock()
	view.messages = append(view.messages, models.ViewMessage{Message: m}, models.ViewMessage{Message: m})
	view.mu.Unlock()

	if removed := rec.sweep(); removed != 1 {
		t.Errorf("sweep removed %d, want 1", removed)
	}
	if view.Len() != 1 {
		t.Errorf("view has %d messages, want 1", view.Len())
	}
}
