package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var roleRowColumns = []string{"id", "name", "description", "department", "is_superuser", "created_at", "updated_at"}
var permRowColumns = []string{"id", "name", "description", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestStore_LoadRoleWithPermissions(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM roles WHERE id").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(roleRowColumns).AddRow(int64(3), "HR Manager", "", "HR", false, now, now))
	mock.ExpectQuery("FROM permissions p JOIN role_permissions rp").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(permRowColumns).
			AddRow(int64(1), PermManageContracts, "", now, now).
			AddRow(int64(2), PermManageUsers, "", now, now))

	role, err := store.LoadRoleWithPermissions(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "HR Manager", role.Name)
	assert.Equal(t, "HR", role.Department)
	assert.Equal(t, []string{PermManageContracts, PermManageUsers}, role.PermissionNames())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadRoleWithPermissions_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM roles WHERE id").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(roleRowColumns))

	role, err := store.LoadRoleWithPermissions(context.Background(), 99)
	assert.Nil(t, role)
	assert.ErrorIs(t, err, ErrRoleNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadRoleWithPermissions_EmptyPermissions(t *testing.T) {
	now := time.Now().UTC()
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM roles WHERE id").
		WillReturnRows(sqlmock.NewRows(roleRowColumns).AddRow(int64(1), "Admin", "", "", true, now, now))
	mock.ExpectQuery("FROM permissions p").
		WillReturnRows(sqlmock.NewRows(permRowColumns))

	role, err := store.LoadRoleWithPermissions(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, role.IsSuperuser)
	assert.NotNil(t, role.Permissions)
	assert.Empty(t, role.Permissions)
}

func TestStore_ListRoles(t *testing.T) {
	now := time.Now().UTC()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("%man%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("FROM roles WHERE name ILIKE").
		WithArgs("%man%", 100, 0).
		WillReturnRows(sqlmock.NewRows(roleRowColumns).
			AddRow(int64(1), "Manager", "", "Ops", false, now, now).
			AddRow(int64(2), "Payroll Manager", "", "Finance", false, now, now))
	mock.ExpectQuery("FROM permissions p").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(permRowColumns).AddRow(int64(4), "view_reports", "", now, now))
	mock.ExpectQuery("FROM permissions p").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(permRowColumns))

	page, err := store.ListRoles(context.Background(), RoleFilter{
		Query:           " man ",
		PageSize:        500,
		WithPermissions: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 100, page.PageSize)
	require.Len(t, page.Items, 2)
	assert.Equal(t, []string{"view_reports"}, page.Items[0].PermissionNames())
	assert.Empty(t, page.Items[1].Permissions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListDepartments(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT DISTINCT department FROM roles").
		WillReturnRows(sqlmock.NewRows([]string{"department"}).AddRow("Finance").AddRow("HR"))

	departments, err := store.ListDepartments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Finance", "HR"}, departments)
}

func TestStore_CreateRole(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO roles").
		WithArgs("Recruiter", "Hiring", "HR", false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec("INSERT INTO role_permissions").
		WithArgs(int64(7), pq.Array([]int64{1, 2})).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	role := &Role{Name: "Recruiter", Description: "Hiring", Department: "HR"}
	require.NoError(t, store.CreateRole(context.Background(), role, []int64{1, 2}))
	assert.Equal(t, int64(7), role.ID)
	assert.False(t, role.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateRole_Errors(t *testing.T) {
	t.Run("duplicate name", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO roles").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "roles_name_key"})
		mock.ExpectRollback()

		err := store.CreateRole(context.Background(), &Role{Name: "Admin"}, nil)
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown permission", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO roles").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)))
		mock.ExpectExec("INSERT INTO role_permissions").
			WillReturnError(&pq.Error{Code: "23503", Table: "role_permissions"})
		mock.ExpectRollback()

		err := store.CreateRole(context.Background(), &Role{Name: "Temp"}, []int64{404})
		assert.ErrorIs(t, err, ErrUnknownPermission)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_UpdateRole(t *testing.T) {
	t.Run("replaces permissions when ids given", func(t *testing.T) {
		store, mock := newMockStore(t)
		name := "Lead"

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE roles SET").
			WithArgs(int64(2), &name, nil, nil, nil, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("DELETE FROM role_permissions WHERE role_id").
			WithArgs(int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectExec("INSERT INTO role_permissions").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := store.UpdateRole(context.Background(), 2, RoleInput{Name: &name, PermissionIDs: []int64{5}})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("keeps permissions when ids omitted", func(t *testing.T) {
		store, mock := newMockStore(t)
		dept := "Legal"

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE roles SET").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.UpdateRole(context.Background(), 2, RoleInput{Department: &dept}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing role", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE roles SET").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := store.UpdateRole(context.Background(), 42, RoleInput{})
		assert.ErrorIs(t, err, ErrRoleNotFound)
	})
}

func TestStore_DeleteRole(t *testing.T) {
	t.Run("deleted", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("DELETE FROM roles WHERE id").
			WithArgs(int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, store.DeleteRole(context.Background(), 3))
	})

	t.Run("assigned to users", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("DELETE FROM roles WHERE id").
			WillReturnError(&pq.Error{Code: "23503", Table: "users", Constraint: "users_role_id_fkey"})
		assert.ErrorIs(t, store.DeleteRole(context.Background(), 3), ErrRoleInUse)
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("DELETE FROM roles WHERE id").
			WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, store.DeleteRole(context.Background(), 3), ErrRoleNotFound)
	})
}

func TestStore_SetRolePermissions(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM roles WHERE id = (.+) FOR UPDATE").
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectExec("DELETE FROM role_permissions WHERE role_id").
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	// An empty list clears the role
	require.NoError(t, store.SetRolePermissions(context.Background(), 4, []int64{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AddRolePermissions_MissingRole(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM roles WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := store.AddRolePermissions(context.Background(), 9, []int64{1})
	assert.ErrorIs(t, err, ErrRoleNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RemoveRolePermission(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM role_permissions WHERE role_id = (.+) AND permission_id").
		WithArgs(int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.RemoveRolePermission(context.Background(), 1, 2)
	assert.ErrorIs(t, err, ErrPermissionNotFound)
}

func TestStore_Permissions(t *testing.T) {
	now := time.Now().UTC()

	t.Run("create", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("INSERT INTO permissions").
			WithArgs("approve_leave", "Approve leave requests", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

		perm := &Permission{Name: "approve_leave", Description: "Approve leave requests"}
		require.NoError(t, store.CreatePermission(context.Background(), perm))
		assert.Equal(t, int64(11), perm.ID)
	})

	t.Run("create duplicate", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("INSERT INTO permissions").
			WillReturnError(&pq.Error{Code: "23505"})

		err := store.CreatePermission(context.Background(), &Permission{Name: PermManageUsers})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("get missing", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("FROM permissions WHERE id").
			WillReturnRows(sqlmock.NewRows(permRowColumns))

		_, err := store.GetPermission(context.Background(), 5)
		assert.ErrorIs(t, err, ErrPermissionNotFound)
	})

	t.Run("list", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery("FROM permissions WHERE name ILIKE").
			WithArgs("%%", defaultPageSize, defaultPageSize).
			WillReturnRows(sqlmock.NewRows(permRowColumns).AddRow(int64(1), PermManageRoles, "", now, now))

		page, err := store.ListPermissions(context.Background(), PermissionFilter{Page: 2})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
		assert.Equal(t, 2, page.Page)
		require.Len(t, page.Items, 1)
		assert.Equal(t, PermManageRoles, page.Items[0].Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete missing", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("DELETE FROM permissions WHERE id").
			WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, store.DeletePermission(context.Background(), 5), ErrPermissionNotFound)
	})
}

func TestTranslateError(t *testing.T) {
	plain := errors.New("boom")
	assert.Equal(t, plain, translateError(plain))
	assert.ErrorIs(t, translateError(&pq.Error{Code: "23505"}), ErrConflict)
	assert.ErrorIs(t, translateError(&pq.Error{Code: "23503", Table: "users"}), ErrRoleInUse)
	assert.ErrorIs(t, translateError(&pq.Error{Code: "23503", Table: "role_permissions"}), ErrUnknownPermission)
}

func TestStore_GetRoleByName(t *testing.T) {
	now := time.Now().UTC()
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM roles WHERE name").
		WithArgs("Employee").
		WillReturnRows(sqlmock.NewRows(roleRowColumns).AddRow(int64(4), "Employee", "", "", false, now, now))
	mock.ExpectQuery("FROM roles WHERE name").
		WithArgs("Ghost").
		WillReturnRows(sqlmock.NewRows(roleRowColumns))

	role, err := store.GetRoleByName(context.Background(), " Employee ")
	require.NoError(t, err)
	assert.Equal(t, int64(4), role.ID)

	_, err = store.GetRoleByName(context.Background(), "Ghost")
	assert.ErrorIs(t, err, ErrRoleNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
