// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package authz

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/roomsync/internal/metrics"
	"github.com/tomtom215/roomsync/internal/models"
)

// setupEnforcer creates an enforcer with default config.
func setupEnforcer(t *testing.T) *Enforcer {
	t.Helper()
	enforcer, err := NewEnforcer(nil)
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	return enforcer
}

// writePolicyFile writes policy CSV to a temp dir and returns its path.
func writePolicyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}
	return path
}

// assertCan checks that Can returns the expected decision.
func assertCan(t *testing.T, enforcer *Enforcer, role Role, action Action, want bool) {
	t.Helper()
	got, err := enforcer.Can(role, action)
	if err != nil {
		t.Fatalf("Can(%s, %s) error = %v", role, action, err)
	}
	if got != want {
		t.Errorf("Can(%s, %s) = %v, want %v", role, action, got, want)
	}
}

func TestEnforcer_BuiltinPolicy(t *testing.T) {
	enforcer := setupEnforcer(t)

	tests := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleVisitor, ActionRead, true},
		{RoleVisitor, ActionSend, true},
		{RoleVisitor, ActionAsk, false},
		{RoleVisitor, ActionRename, false},

		{RoleParticipant, ActionRead, true},
		{RoleParticipant, ActionSend, true},
		{RoleParticipant, ActionAsk, true},
		{RoleParticipant, ActionRename, false},
		{RoleParticipant, ActionLoadVideo, false},
		{RoleParticipant, ActionSync, false},

		{RoleOwner, ActionRead, true},
		{RoleOwner, ActionSend, true},
		{RoleOwner, ActionAsk, true},
		{RoleOwner, ActionRename, true},
		{RoleOwner, ActionLoadVideo, true},
		{RoleOwner, ActionSync, true},

		{Role("stranger"), ActionRead, false},
		{RoleOwner, Action("delete"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.action), func(t *testing.T) {
			assertCan(t, enforcer, tt.role, tt.action, tt.want)
		})
	}
}

func TestEnforcer_OtherObjectsDenied(t *testing.T) {
	enforcer := setupEnforcer(t)

	allowed, err := enforcer.Enforce(string(RoleOwner), "server", string(ActionRename))
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if allowed {
		t.Error("owner must not be allowed on objects other than rooms")
	}
}

func TestEnforcer_GrantAndRevoke(t *testing.T) {
	enforcer := setupEnforcer(t)

	// Prime the decision cache before changing the policy.
	assertCan(t, enforcer, RoleVisitor, ActionAsk, false)
	assertCan(t, enforcer, RoleOwner, ActionAsk, true)

	added, err := enforcer.Grant(RoleVisitor, ActionAsk)
	if err != nil || !added {
		t.Fatalf("Grant() = %v, %v", added, err)
	}
	assertCan(t, enforcer, RoleVisitor, ActionAsk, true)

	removed, err := enforcer.Revoke(RoleVisitor, ActionAsk)
	if err != nil || !removed {
		t.Fatalf("Revoke(visitor) = %v, %v", removed, err)
	}
	assertCan(t, enforcer, RoleVisitor, ActionAsk, false)

	removed, err = enforcer.Revoke(RoleParticipant, ActionAsk)
	if err != nil || !removed {
		t.Fatalf("Revoke() = %v, %v", removed, err)
	}
	assertCan(t, enforcer, RoleParticipant, ActionAsk, false)
	// The owner only had ask through the participant role.
	assertCan(t, enforcer, RoleOwner, ActionAsk, false)

	removed, err = enforcer.Revoke(RoleParticipant, ActionAsk)
	if err != nil {
		t.Fatalf("second Revoke() error = %v", err)
	}
	if removed {
		t.Error("second Revoke() reported a removal")
	}
}

func TestEnforcer_InheritedRoles(t *testing.T) {
	enforcer := setupEnforcer(t)

	roles, err := enforcer.InheritedRoles(RoleOwner)
	if err != nil {
		t.Fatalf("InheritedRoles() error = %v", err)
	}
	for _, want := range []string{string(RoleParticipant), string(RoleVisitor)} {
		if !slices.Contains(roles, want) {
			t.Errorf("owner roles %v missing %s", roles, want)
		}
	}

	roles, err = enforcer.InheritedRoles(RoleVisitor)
	if err != nil {
		t.Fatalf("InheritedRoles() error = %v", err)
	}
	if len(roles) != 0 {
		t.Errorf("visitor roles = %v, want none", roles)
	}
}

func TestEnforcer_PolicyFile(t *testing.T) {
	path := writePolicyFile(t, `p, visitor, room, read
p, participant, room, send
p, owner, room, *
g, owner, participant
g, participant, visitor
`)
	enforcer, err := NewEnforcer(&EnforcerConfig{PolicyPath: path})
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}

	assertCan(t, enforcer, RoleParticipant, ActionSend, true)
	assertCan(t, enforcer, RoleParticipant, ActionAsk, false)
	assertCan(t, enforcer, RoleOwner, ActionAsk, true)
	assertCan(t, enforcer, RoleOwner, Action("anything"), true)

	if got := len(enforcer.GetPolicy()); got != 3 {
		t.Errorf("GetPolicy() has %d rules, want 3", got)
	}
}

func TestNewEnforcer_MissingFiles(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.csv")

	if _, err := NewEnforcer(&EnforcerConfig{PolicyPath: missing}); err == nil {
		t.Error("expected error for missing policy file")
	}
	if _, err := NewEnforcer(&EnforcerConfig{ModelPath: missing}); err == nil {
		t.Error("expected error for missing model file")
	}
}

func TestEnforcer_RecordsDecisions(t *testing.T) {
	enforcer := setupEnforcer(t)
	counter := metrics.AuthzDecisions.WithLabelValues(string(RoleVisitor), string(ActionRename), "deny")
	before := testutil.ToFloat64(counter)

	assertCan(t, enforcer, RoleVisitor, ActionRename, false)

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("deny decisions recorded = %v, want 1", got)
	}
}

func TestLoadPolicy_Malformed(t *testing.T) {
	enforcer := setupEnforcer(t)

	tests := []string{
		"p, visitor, room",
		"g, owner",
		"x, owner, room, read",
	}
	for _, line := range tests {
		if err := loadPolicy(enforcer.enforcer, line); err == nil {
			t.Errorf("loadPolicy(%q) expected error", line)
		}
	}
}

func TestRoleFor(t *testing.T) {
	owner := uuid.New()
	member := uuid.New()
	stranger := uuid.New()
	room := &models.Room{ID: uuid.New(), OwnerID: owner}
	roster := []models.Participant{
		{RoomID: room.ID, UserID: owner},
		{RoomID: room.ID, UserID: member},
	}

	tests := []struct {
		name   string
		room   *models.Room
		userID uuid.UUID
		want   Role
	}{
		{"owner", room, owner, RoleOwner},
		{"member", room, member, RoleParticipant},
		{"stranger", room, stranger, RoleVisitor},
		{"unknown room", nil, member, RoleParticipant},
		{"unknown room stranger", nil, stranger, RoleVisitor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoleFor(tt.room, roster, tt.userID); got != tt.want {
				t.Errorf("RoleFor() = %s, want %s", got, tt.want)
			}
		})
	}
}
