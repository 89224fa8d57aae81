package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/hrm/pkg/auth"
)

type fakeUsers struct {
	users map[int64]*auth.User
	err   error
	calls int
}

func (f *fakeUsers) FindUserByID(_ context.Context, id int64) (*auth.User, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return u, nil
}

type fakeRoles struct {
	roles map[int64]*Role
	err   error
	calls int
}

func (f *fakeRoles) LoadRoleWithPermissions(_ context.Context, id int64) (*Role, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.roles[id]
	if !ok {
		return nil, ErrRoleNotFound
	}
	return r, nil
}

func roleWith(id int64, names ...string) *Role {
	role := &Role{ID: id, Name: "role"}
	for i, n := range names {
		role.Permissions = append(role.Permissions, Permission{ID: int64(i + 1), Name: n})
	}
	return role
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name        string
		role        *Role
		required    []string
		mode        Mode
		wantAllowed bool
		wantReason  Reason
		wantMissing []string
	}{
		{
			name:       "nil role denied",
			role:       nil,
			required:   []string{"A"},
			mode:       ModeAny,
			wantReason: ReasonNoRoleAssigned,
		},
		{
			name:        "superuser with empty permissions passes all",
			role:        &Role{IsSuperuser: true},
			required:    []string{"A", "B"},
			mode:        ModeAll,
			wantAllowed: true,
			wantReason:  ReasonSuperuser,
		},
		{
			name:        "empty requirement allows",
			role:        roleWith(1),
			required:    nil,
			mode:        ModeAll,
			wantAllowed: true,
			wantReason:  ReasonNoRequirement,
		},
		{
			name:        "all mode reports missing in order",
			role:        roleWith(1, "A"),
			required:    []string{"A", "B"},
			mode:        ModeAll,
			wantReason:  ReasonMissing,
			wantMissing: []string{"B"},
		},
		{
			name:        "all mode dedupes missing",
			role:        roleWith(1),
			required:    []string{"C", "A", "C"},
			mode:        ModeAll,
			wantReason:  ReasonMissing,
			wantMissing: []string{"C", "A"},
		},
		{
			name:        "all mode granted",
			role:        roleWith(1, "B", "A"),
			required:    []string{"A", "B"},
			mode:        ModeAll,
			wantAllowed: true,
			wantReason:  ReasonGranted,
		},
		{
			name:        "any mode one overlap",
			role:        roleWith(1, "B"),
			required:    []string{"A", "B"},
			mode:        ModeAny,
			wantAllowed: true,
			wantReason:  ReasonGranted,
		},
		{
			name:       "any mode with empty role permissions",
			role:       roleWith(1),
			required:   []string{"A", "B"},
			mode:       ModeAny,
			wantReason: ReasonMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.role, tt.required, tt.mode)
			assert.Equal(t, tt.wantAllowed, got.Allowed)
			assert.Equal(t, tt.wantReason, got.Reason)
			assert.Equal(t, tt.wantMissing, got.Missing)
		})
	}
}

func TestChecker_Check(t *testing.T) {
	ctx := context.Background()
	users := &fakeUsers{users: map[int64]*auth.User{
		1: {ID: 1, Status: auth.StatusActive, RoleID: 10},
		2: {ID: 2, Status: auth.StatusInactive, RoleID: 10},
		3: {ID: 3, Status: auth.StatusActive},
		4: {ID: 4, Status: auth.StatusActive, RoleID: 99},
	}}
	roles := &fakeRoles{roles: map[int64]*Role{10: roleWith(10, PermManageUsers)}}
	checker := NewChecker(users, roles)

	t.Run("granted", func(t *testing.T) {
		d, err := checker.Check(ctx, 1, []string{PermManageUsers}, ModeAny)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("unknown user", func(t *testing.T) {
		d, err := checker.Check(ctx, 404, []string{PermManageUsers}, ModeAny)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonUnknownUser, d.Reason)
	})

	t.Run("inactive user", func(t *testing.T) {
		before := roles.calls
		d, err := checker.Check(ctx, 2, nil, ModeAny)
		require.NoError(t, err)
		assert.Equal(t, ReasonInactiveUser, d.Reason)
		assert.Equal(t, before, roles.calls, "role should not be loaded for inactive users")
	})

	t.Run("no role assigned", func(t *testing.T) {
		d, err := checker.Check(ctx, 3, nil, ModeAny)
		require.NoError(t, err)
		assert.Equal(t, ReasonNoRoleAssigned, d.Reason)
	})

	t.Run("dangling role id", func(t *testing.T) {
		d, err := checker.Check(ctx, 4, nil, ModeAny)
		require.NoError(t, err)
		assert.Equal(t, ReasonNoRoleAssigned, d.Reason)
	})

	t.Run("unknown mode falls back to any", func(t *testing.T) {
		d, err := checker.Check(ctx, 1, []string{"nope", PermManageUsers}, Mode("bogus"))
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

func TestChecker_StoreErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("user lookup", func(t *testing.T) {
		checker := NewChecker(&fakeUsers{err: errors.New("db down")}, &fakeRoles{})
		_, err := checker.Check(ctx, 1, nil, ModeAny)
		assert.Error(t, err)
	})

	t.Run("role lookup", func(t *testing.T) {
		users := &fakeUsers{users: map[int64]*auth.User{1: {ID: 1, Status: auth.StatusActive, RoleID: 2}}}
		checker := NewChecker(users, &fakeRoles{err: errors.New("db down")})
		_, err := checker.Check(ctx, 1, nil, ModeAny)
		assert.Error(t, err)
	})
}

func TestChecker_ReadsFreshStateWithoutCache(t *testing.T) {
	ctx := context.Background()
	user := &auth.User{ID: 1, Status: auth.StatusActive, RoleID: 10}
	users := &fakeUsers{users: map[int64]*auth.User{1: user}}
	roles := &fakeRoles{roles: map[int64]*Role{10: roleWith(10, PermManageRoles)}}
	checker := NewChecker(users, roles)

	d, err := checker.Check(ctx, 1, []string{PermManageRoles}, ModeAll)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// Revoke and deactivate between requests
	roles.roles[10] = roleWith(10)
	d, err = checker.Check(ctx, 1, []string{PermManageRoles}, ModeAll)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{PermManageRoles}, d.Missing)

	user.Status = auth.StatusInactive
	d, err = checker.Check(ctx, 1, []string{PermManageRoles}, ModeAll)
	require.NoError(t, err)
	assert.Equal(t, ReasonInactiveUser, d.Reason)
	assert.Equal(t, 3, users.calls)
}

func TestChecker_SnapshotCache(t *testing.T) {
	ctx := context.Background()
	users := &fakeUsers{users: map[int64]*auth.User{1: {ID: 1, Status: auth.StatusActive, RoleID: 10}}}
	roles := &fakeRoles{roles: map[int64]*Role{10: roleWith(10, PermManageUsers)}}
	checker := NewChecker(users, roles, WithSnapshotCache(16, time.Minute))

	for i := 0; i < 3; i++ {
		_, err := checker.Check(ctx, 1, []string{PermManageUsers}, ModeAny)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, users.calls)
	assert.Equal(t, 1, roles.calls)

	checker.Invalidate(1)
	_, err := checker.Check(ctx, 1, nil, ModeAny)
	require.NoError(t, err)
	assert.Equal(t, 2, users.calls)

	checker.Purge()
	_, err = checker.Check(ctx, 1, nil, ModeAny)
	require.NoError(t, err)
	assert.Equal(t, 3, users.calls)
}

func TestChecker_SnapshotCacheDisabledByZeroTTL(t *testing.T) {
	users := &fakeUsers{users: map[int64]*auth.User{1: {ID: 1, Status: auth.StatusActive}}}
	checker := NewChecker(users, &fakeRoles{}, WithSnapshotCache(16, 0))

	_, _ = checker.Check(context.Background(), 1, nil, ModeAny)
	_, _ = checker.Check(context.Background(), 1, nil, ModeAny)
	assert.Equal(t, 2, users.calls)
	assert.Nil(t, checker.cache)
}

func TestChecker_DecisionCounter(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_authz_decisions_total",
	}, []string{"mode", "result"})

	users := &fakeUsers{users: map[int64]*auth.User{1: {ID: 1, Status: auth.StatusActive, RoleID: 10}}}
	roles := &fakeRoles{roles: map[int64]*Role{10: roleWith(10, "A")}}
	checker := NewChecker(users, roles, WithDecisionCounter(counter))

	ctx := context.Background()
	_, _ = checker.Check(ctx, 1, []string{"A"}, ModeAny)
	_, _ = checker.Check(ctx, 1, []string{"A", "B"}, ModeAll)
	_, _ = checker.Check(ctx, 1, []string{"B"}, ModeAll)

	assert.Equal(t, float64(1), testutil.ToFloat64(counter.WithLabelValues("any", "allow")))
	assert.Equal(t, float64(2), testutil.ToFloat64(counter.WithLabelValues("all", "deny")))

	users.err = errors.New("db down")
	_, _ = checker.Check(ctx, 1, []string{"A"}, ModeAny)
	assert.Equal(t, float64(1), testutil.ToFloat64(counter.WithLabelValues("any", "error")))
}
