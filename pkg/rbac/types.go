package rbac

import (
	"errors"
	"time"

	"github.com/platinummonkey/hrm/pkg/auth"
)

var (
	// ErrRoleNotFound is returned when a role id does not resolve
	ErrRoleNotFound = errors.New("role not found")

	// ErrPermissionNotFound is returned when a permission id does not resolve
	ErrPermissionNotFound = errors.New("permission not found")

	// ErrConflict is returned when a unique name is already taken
	ErrConflict = errors.New("name already exists")

	// ErrUnknownPermission is returned when a permission id in a request does not exist
	ErrUnknownPermission = errors.New("unknown permission id")
)

// Well-known permission names guarding the route table
const (
	PermManageUsers     = "manage_users"
	PermManageRoles     = "manage_roles"
	PermManageContracts = "manage_contracts"
)

// Permission is a named capability
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Role is a named bundle of permissions. A superuser role passes every
// authorization check regardless of its permission list.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Department  string       `json:"department,omitempty"`
	IsSuperuser bool         `json:"is_superuser"`
	Permissions []Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// PermissionNames returns the names of the role's permissions
func (r *Role) PermissionNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		names = append(names, p.Name)
	}
	return names
}

// PermissionSet returns the role's permissions as a set; nil role yields an empty set
func (r *Role) PermissionSet() auth.PermissionSet {
	return auth.NewPermissionSet(r.PermissionNames()...)
}

// Mode selects how a list of required permissions is matched
type Mode string

const (
	// ModeAny passes if the caller holds at least one required permission
	ModeAny Mode = "any"
	// ModeAll passes only if the caller holds every required permission
	ModeAll Mode = "all"
)

// Reason explains an authorization decision
type Reason string

const (
	ReasonSuperuser      Reason = "superuser"
	ReasonNoRequirement  Reason = "no_requirement"
	ReasonGranted        Reason = "granted"
	ReasonMissing        Reason = "missing_permissions"
	ReasonUnknownUser    Reason = "unknown_user"
	ReasonInactiveUser   Reason = "inactive_user"
	ReasonNoRoleAssigned Reason = "no_role"
)

// Decision is the result of an authorization check.
// Missing is only populated for ModeAll denials, in the order permissions were required.
type Decision struct {
	Allowed bool
	Reason  Reason
	Missing []string
}

// RoleFilter narrows role listings
type RoleFilter struct {
	Query           string
	Page            int
	PageSize        int
	WithPermissions bool
}

// PermissionFilter narrows permission listings
type PermissionFilter struct {
	Query    string
	Page     int
	PageSize int
}

// Page is a window of results
type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// RoleInput carries the writable fields of a role
type RoleInput struct {
	Name          *string `json:"name"`
	Description   *string `json:"description"`
	Department    *string `json:"department"`
	IsSuperuser   *bool   `json:"is_superuser"`
	PermissionIDs []int64 `json:"permissionIds"`
}

// PermissionInput carries the writable fields of a permission
type PermissionInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}
