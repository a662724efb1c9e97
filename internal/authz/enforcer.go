// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package authz

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/tomtom215/roomsync/internal/metrics"
)

// objectRoom is the only object rooms are checked against.
const objectRoom = "room"

const builtinModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act)
`

const builtinPolicy = `
p, visitor, room, read
p, visitor, room, send
p, participant, room, ask
p, owner, room, rename
p, owner, room, load_video
p, owner, room, sync

g, owner, participant
g, participant, visitor
`

// Authorizer answers permission checks for a role.
type Authorizer interface {
	Can(role Role, action Action) (bool, error)
}

// EnforcerConfig holds configuration for the Casbin enforcer.
type EnforcerConfig struct {
	// ModelPath is the path to a Casbin model file. If empty, uses the
	// built-in model.
	ModelPath string

	// PolicyPath is the path to a CSV policy file. If empty, uses the
	// built-in policy.
	PolicyPath string

	// CacheTTL is how long decisions are cached.
	CacheTTL time.Duration
}

// DefaultEnforcerConfig returns default configuration.
func DefaultEnforcerConfig() *EnforcerConfig {
	return &EnforcerConfig{
		CacheTTL: 5 * time.Minute,
	}
}

// Enforcer wraps the Casbin enforcer with room roles and actions.
type Enforcer struct {
	config   *EnforcerConfig
	enforcer *casbin.SyncedCachedEnforcer
}

// NewEnforcer creates a new authorization enforcer.
func NewEnforcer(config *EnforcerConfig) (*Enforcer, error) {
	if config == nil {
		config = DefaultEnforcerConfig()
	}

	var m model.Model
	var err error
	if config.ModelPath != "" {
		if !fileExists(config.ModelPath) {
			return nil, fmt.Errorf("casbin model %s not found", config.ModelPath)
		}
		m, err = model.NewModelFromFile(config.ModelPath)
	} else {
		m, err = model.NewModelFromString(builtinModel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	var enforcer *casbin.SyncedCachedEnforcer
	if config.PolicyPath != "" {
		if !fileExists(config.PolicyPath) {
			return nil, fmt.Errorf("casbin policy %s not found", config.PolicyPath)
		}
		enforcer, err = casbin.NewSyncedCachedEnforcer(m, fileadapter.NewAdapter(config.PolicyPath))
	} else {
		enforcer, err = casbin.NewSyncedCachedEnforcer(m)
		if err == nil {
			err = loadPolicy(enforcer, builtinPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	if config.CacheTTL > 0 {
		enforcer.SetExpireTime(config.CacheTTL)
	}

	return &Enforcer{config: config, enforcer: enforcer}, nil
}

// loadPolicy parses policy CSV lines into the enforcer.
func loadPolicy(enforcer *casbin.SyncedCachedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch rule := parts[1:]; parts[0] {
		case "p":
			if len(rule) != 3 {
				return fmt.Errorf("malformed policy line %q", line)
			}
			if _, err := enforcer.AddPolicy(rule[0], rule[1], rule[2]); err != nil {
				return fmt.Errorf("failed to add policy %v: %w", rule, err)
			}
		case "g":
			if len(rule) != 2 {
				return fmt.Errorf("malformed grouping line %q", line)
			}
			if _, err := enforcer.AddGroupingPolicy(rule[0], rule[1]); err != nil {
				return fmt.Errorf("failed to add grouping policy %v: %w", rule, err)
			}
		default:
			return fmt.Errorf("unknown policy type %q", parts[0])
		}
	}
	return nil
}

// Can reports whether role may perform action in a room.
func (e *Enforcer) Can(role Role, action Action) (bool, error) {
	allowed, err := e.Enforce(string(role), objectRoom, string(action))
	if err != nil {
		return false, err
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	metrics.AuthzDecisions.WithLabelValues(string(role), string(action), decision).Inc()
	return allowed, nil
}

// Enforce checks if the subject can perform the action on the object.
func (e *Enforcer) Enforce(subject, object, action string) (bool, error) {
	allowed, err := e.enforcer.Enforce(subject, object, action)
	if err != nil {
		return false, fmt.Errorf("enforcement failed: %w", err)
	}
	return allowed, nil
}

// Grant allows role to perform action.
func (e *Enforcer) Grant(role Role, action Action) (bool, error) {
	added, err := e.enforcer.AddPolicy(string(role), objectRoom, string(action))
	if err != nil {
		return false, fmt.Errorf("failed to add policy: %w", err)
	}
	return added, e.invalidate()
}

// Revoke removes a permission granted directly to role. Inherited
// permissions are unaffected.
func (e *Enforcer) Revoke(role Role, action Action) (bool, error) {
	removed, err := e.enforcer.RemovePolicy(string(role), objectRoom, string(action))
	if err != nil {
		return false, fmt.Errorf("failed to remove policy: %w", err)
	}
	return removed, e.invalidate()
}

// InheritedRoles returns every role whose permissions role includes.
func (e *Enforcer) InheritedRoles(role Role) ([]string, error) {
	return e.enforcer.GetImplicitRolesForUser(string(role))
}

// GetPolicy returns all policy rules.
func (e *Enforcer) GetPolicy() [][]string {
	//nolint:errcheck // GetPolicy only fails if enforcer is nil, which is a programming error
	policies, _ := e.enforcer.GetPolicy()
	return policies
}

func (e *Enforcer) invalidate() error {
	if err := e.enforcer.InvalidateCache(); err != nil {
		return fmt.Errorf("invalidate decision cache: %w", err)
	}
	return nil
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
