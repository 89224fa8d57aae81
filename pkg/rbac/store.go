package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// ErrRoleInUse is returned when deleting a role that users still reference
var ErrRoleInUse = errors.New("role is assigned to users")

// Store handles role and permission persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const roleColumns = `id, name, description, department, is_superuser, created_at, updated_at`

func scanRole(row interface{ Scan(...interface{}) error }) (*Role, error) {
	var role Role
	if err := row.Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&role.Department,
		&role.IsSuperuser,
		&role.CreatedAt,
		&role.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &role, nil
}

// translateError maps postgres constraint violations onto package sentinels
func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return ErrConflict
		case "23503":
			if pqErr.Table == "users" || strings.Contains(pqErr.Constraint, "users") {
				return ErrRoleInUse
			}
			return ErrUnknownPermission
		}
	}
	return err
}

// GetRole retrieves a role by ID without its permissions
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`

	role, err := scanRole(s.db.QueryRowContext(ctx, query, roleID))
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRoleByName retrieves a role by its unique name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE name = $1`

	role, err := scanRole(s.db.QueryRowContext(ctx, query, strings.TrimSpace(name)))
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role by name: %w", err)
	}
	return role, nil
}

// LoadRoleWithPermissions retrieves a role and its full permission list.
// Returns ErrRoleNotFound when the id does not resolve.
func (s *Store) LoadRoleWithPermissions(ctx context.Context, roleID int64) (*Role, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}

	perms, err := s.rolePermissions(ctx, roleID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return role, nil
}

func (s *Store) rolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	query := `
		SELECT p.id, p.name, p.description, p.created_at, p.updated_at
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.name
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role permissions: %w", err)
	}
	defer rows.Close()

	perms := []Permission{}
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}
	return perms, nil
}

// ListRoles returns a page of roles ordered by name
func (s *Store) ListRoles(ctx context.Context, filter RoleFilter) (*Page[Role], error) {
	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	pattern := "%" + strings.TrimSpace(filter.Query) + "%"

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM roles WHERE name ILIKE $1`, pattern,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count roles: %w", err)
	}

	query := `SELECT ` + roleColumns + ` FROM roles WHERE name ILIKE $1 ORDER BY name LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, query, pattern, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}
	rows.Close()

	if filter.WithPermissions {
		for i := range roles {
			perms, err := s.rolePermissions(ctx, roles[i].ID)
			if err != nil {
				return nil, err
			}
			roles[i].Permissions = perms
		}
	}

	return &Page[Role]{Items: roles, Total: total, Page: page, PageSize: pageSize}, nil
}

// ListDepartments returns the distinct non-empty departments of all roles
func (s *Store) ListDepartments(ctx context.Context) ([]string, error) {
	return s.listStrings(ctx, `SELECT DISTINCT department FROM roles WHERE department <> '' ORDER BY department`)
}

// ListRoleNames returns every role name
func (s *Store) ListRoleNames(ctx context.Context) ([]string, error) {
	return s.listStrings(ctx, `SELECT name FROM roles ORDER BY name`)
}

func (s *Store) listStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CreateRole inserts a role and its initial permission links in one transaction
func (s *Store) CreateRole(ctx context.Context, role *Role, permissionIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	query := `
		INSERT INTO roles (name, description, department, is_superuser, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	if err := tx.QueryRowContext(ctx, query,
		role.Name, role.Description, role.Department, role.IsSuperuser, now, now,
	).Scan(&role.ID); err != nil {
		return fmt.Errorf("failed to create role: %w", translateError(err))
	}

	if err := linkPermissions(ctx, tx, role.ID, permissionIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role: %w", err)
	}
	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// UpdateRole applies the non-nil fields of input. If PermissionIDs is non-nil the
// permission list is replaced.
func (s *Store) UpdateRole(ctx context.Context, roleID int64, input RoleInput) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE roles SET
			name = COALESCE($2, name),
			description = COALESCE($3, description),
			department = COALESCE($4, department),
			is_superuser = COALESCE($5, is_superuser),
			updated_at = $6
		WHERE id = $1
	`
	res, err := tx.ExecContext(ctx, query, roleID, input.Name, input.Description, input.Department, input.IsSuperuser, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update role: %w", translateError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoleNotFound
	}

	if input.PermissionIDs != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("failed to clear role permissions: %w", err)
		}
		if err := linkPermissions(ctx, tx, roleID, input.PermissionIDs); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role: %w", err)
	}
	return nil
}

// DeleteRole removes a role; links in role_permissions cascade
func (s *Store) DeleteRole(ctx context.Context, roleID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", translateError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// AddRolePermissions appends permissions to a role, ignoring ones already linked
func (s *Store) AddRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockRole(ctx, tx, roleID); err != nil {
		return err
	}
	if err := linkPermissions(ctx, tx, roleID, permissionIDs); err != nil {
		return err
	}
	return tx.Commit()
}

// SetRolePermissions replaces the permission list of a role
func (s *Store) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockRole(ctx, tx, roleID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}
	if err := linkPermissions(ctx, tx, roleID, permissionIDs); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveRolePermission unlinks one permission from a role
func (s *Store) RemoveRolePermission(ctx context.Context, roleID, permissionID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`,
		roleID, permissionID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove role permission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPermissionNotFound
	}
	return nil
}

func lockRole(ctx context.Context, tx *sql.Tx, roleID int64) error {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, roleID).Scan(&id)
	if err == sql.ErrNoRows {
		return ErrRoleNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock role: %w", err)
	}
	return nil
}

func linkPermissions(ctx context.Context, tx *sql.Tx, roleID int64, permissionIDs []int64) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	query := `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, query, roleID, pq.Array(permissionIDs)); err != nil {
		return fmt.Errorf("failed to link permissions: %w", translateError(err))
	}
	return nil
}

// GetPermission retrieves a permission by ID
func (s *Store) GetPermission(ctx context.Context, id int64) (*Permission, error) {
	var p Permission
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at, updated_at FROM permissions WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return &p, nil
}

// ListPermissions returns a page of permissions ordered by name
func (s *Store) ListPermissions(ctx context.Context, filter PermissionFilter) (*Page[Permission], error) {
	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	pattern := "%" + strings.TrimSpace(filter.Query) + "%"

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM permissions WHERE name ILIKE $1`, pattern,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count permissions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM permissions WHERE name ILIKE $1
		ORDER BY name LIMIT $2 OFFSET $3
	`, pattern, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	perms := []Permission{}
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}

	return &Page[Permission]{Items: perms, Total: total, Page: page, PageSize: pageSize}, nil
}

// CreatePermission inserts a permission
func (s *Store) CreatePermission(ctx context.Context, p *Permission) error {
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO permissions (name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, p.Name, p.Description, now, now).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to create permission: %w", translateError(err))
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// UpdatePermission applies the non-nil fields of input
func (s *Store) UpdatePermission(ctx context.Context, id int64, input PermissionInput) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE permissions SET
			name = COALESCE($2, name),
			description = COALESCE($3, description),
			updated_at = $4
		WHERE id = $1
	`, id, input.Name, input.Description, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update permission: %w", translateError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPermissionNotFound
	}
	return nil
}

// DeletePermission removes a permission; role links cascade
func (s *Store) DeletePermission(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPermissionNotFound
	}
	return nil
}
