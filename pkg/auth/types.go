package auth

import (
	"sort"
	"time"
)

// UserStatus is the lifecycle state of a user account
type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusInactive UserStatus = "inactive"
)

// Valid reports whether s is a known status
func (s UserStatus) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// User represents an account in the credential store
type User struct {
	ID                 int64      `json:"id"`
	Name               string     `json:"name"`
	Email              string     `json:"email"`
	PasswordHash       string     `json:"-"` // Never expose hash
	Status             UserStatus `json:"status"`
	PhoneNumber        *string    `json:"phone_number,omitempty"`
	Address            *string    `json:"address,omitempty"`
	BirthDate          *time.Time `json:"birth_date,omitempty"`
	RoleID             int64      `json:"role_id"`
	IsVerified         bool       `json:"is_verified"`
	MustChangePassword bool       `json:"must_change_password"`
	InviteToken        *string    `json:"-"`
	InviteExpires      *time.Time `json:"-"`
	OTPCode            *string    `json:"-"`
	OTPExpires         *time.Time `json:"-"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsActive reports whether the user may authenticate
func (u *User) IsActive() bool {
	return u != nil && u.Status == StatusActive
}

// PermissionSet is a deduplicated set of permission names
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from a list of names, dropping duplicates and empty names
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
	return set
}

// Has checks if the set contains a permission
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the permission names in sorted order
func (s PermissionSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Equal reports whether both sets hold the same names
func (s PermissionSet) Equal(other PermissionSet) bool {
	if len(s) != len(other) {
		return false
	}
	for name := range s {
		if !other.Has(name) {
			return false
		}
	}
	return true
}

// Identity holds the per-request result of authentication.
// It is the only input the authorization gate reads from the request.
type Identity struct {
	UserID      int64
	RoleID      int64
	Permissions PermissionSet
}

// HasPermission checks if the identity carries a permission
func (i *Identity) HasPermission(name string) bool {
	if i == nil {
		return false
	}
	return i.Permissions.Has(name)
}
