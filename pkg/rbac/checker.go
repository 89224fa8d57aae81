package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/hrm/pkg/auth"
)

// UserReader loads a user regardless of status.
// Must return auth.ErrUserNotFound when no row matches.
type UserReader interface {
	FindUserByID(ctx context.Context, id int64) (*auth.User, error)
}

// RoleLoader loads a role together with its permissions.
// Must return ErrRoleNotFound when the id does not resolve.
type RoleLoader interface {
	LoadRoleWithPermissions(ctx context.Context, roleID int64) (*Role, error)
}

// Decide evaluates required permissions against a role. It has no side effects.
//
// A nil role is denied. A superuser role is always allowed. An empty
// requirement is allowed for any role. ModeAny needs one overlap; ModeAll
// needs every name and reports the missing ones in the order they were required.
func Decide(role *Role, required []string, mode Mode) Decision {
	if role == nil {
		return Decision{Allowed: false, Reason: ReasonNoRoleAssigned}
	}
	if role.IsSuperuser {
		return Decision{Allowed: true, Reason: ReasonSuperuser}
	}
	if len(required) == 0 {
		return Decision{Allowed: true, Reason: ReasonNoRequirement}
	}

	held := role.PermissionSet()

	if mode == ModeAll {
		var missing []string
		seen := make(map[string]struct{}, len(required))
		for _, name := range required {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			if !held.Has(name) {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return Decision{Allowed: false, Reason: ReasonMissing, Missing: missing}
		}
		return Decision{Allowed: true, Reason: ReasonGranted}
	}

	for _, name := range required {
		if held.Has(name) {
			return Decision{Allowed: true, Reason: ReasonGranted}
		}
	}
	return Decision{Allowed: false, Reason: ReasonMissing}
}

// snapshot is the cached (user, role) pair behind a decision
type snapshot struct {
	user *auth.User
	role *Role
}

// Checker performs the authorization gate's state lookups and decision.
//
// By default every check re-reads the user and role so deactivations and role
// edits take effect on the next request. With a cache TTL above zero the
// (user, role) snapshot is kept for up to that long, and such changes can be
// observed late by at most the TTL.
type Checker struct {
	users     UserReader
	roles     RoleLoader
	cache     *lru.LRU[int64, snapshot]
	decisions *prometheus.CounterVec
}

// CheckerOption configures a Checker
type CheckerOption func(*Checker)

// WithDecisionCounter records every decision in a {mode,result} counter
func WithDecisionCounter(counter *prometheus.CounterVec) CheckerOption {
	return func(c *Checker) {
		c.decisions = counter
	}
}

// WithSnapshotCache enables the (user, role) cache with the given size and TTL
func WithSnapshotCache(size int, ttl time.Duration) CheckerOption {
	return func(c *Checker) {
		if ttl <= 0 {
			return
		}
		if size <= 0 {
			size = 1024
		}
		c.cache = lru.NewLRU[int64, snapshot](size, nil, ttl)
	}
}

// NewChecker creates a permission checker
func NewChecker(users UserReader, roles RoleLoader, opts ...CheckerOption) *Checker {
	c := &Checker{users: users, roles: roles}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check loads the user's current state and decides. Unknown, inactive and
// role-less users come back as denied decisions; only store failures are errors.
func (c *Checker) Check(ctx context.Context, userID int64, required []string, mode Mode) (Decision, error) {
	if mode != ModeAll {
		mode = ModeAny
	}

	snap, err := c.load(ctx, userID)
	if err != nil {
		c.record(mode, "error")
		return Decision{}, err
	}

	var decision Decision
	switch {
	case snap.user == nil:
		decision = Decision{Reason: ReasonUnknownUser}
	case !snap.user.IsActive():
		decision = Decision{Reason: ReasonInactiveUser}
	default:
		decision = Decide(snap.role, required, mode)
	}

	if decision.Allowed {
		c.record(mode, "allow")
	} else {
		c.record(mode, "deny")
	}
	return decision, nil
}

// Invalidate drops a cached snapshot for one user
func (c *Checker) Invalidate(userID int64) {
	if c.cache != nil {
		c.cache.Remove(userID)
	}
}

// Purge drops every cached snapshot, e.g. after a role's permissions change
func (c *Checker) Purge() {
	if c.cache != nil {
		c.cache.Purge()
	}
}

func (c *Checker) load(ctx context.Context, userID int64) (snapshot, error) {
	if c.cache != nil {
		if snap, ok := c.cache.Get(userID); ok {
			return snap, nil
		}
	}

	user, err := c.users.FindUserByID(ctx, userID)
	if errors.Is(err, auth.ErrUserNotFound) {
		return snapshot{}, nil
	}
	if err != nil {
		return snapshot{}, fmt.Errorf("failed to load user %d: %w", userID, err)
	}

	snap := snapshot{user: user}
	if user.IsActive() && user.RoleID > 0 {
		role, err := c.roles.LoadRoleWithPermissions(ctx, user.RoleID)
		if err != nil && !errors.Is(err, ErrRoleNotFound) {
			return snapshot{}, fmt.Errorf("failed to load role %d: %w", user.RoleID, err)
		}
		snap.role = role
	}

	if c.cache != nil {
		c.cache.Add(userID, snap)
	}
	return snap, nil
}

func (c *Checker) record(mode Mode, result string) {
	if c.decisions != nil {
		c.decisions.WithLabelValues(string(mode), result).Inc()
	}
}
