package users

import (
	"errors"
	"time"

	"github.com/platinummonkey/hrm/pkg/auth"
)

var (
	// ErrNotFound is returned when no user matches. It is the same value as
	// auth.ErrUserNotFound so the gates can match it without importing this package.
	ErrNotFound = auth.ErrUserNotFound

	// ErrEmailTaken is returned when another account already uses the email
	ErrEmailTaken = errors.New("email already in use")

	// ErrInvalidCredentials covers unknown emails and wrong passwords alike
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrInvalidOTP is returned for a missing, expired or wrong reset code
	ErrInvalidOTP = errors.New("invalid or expired OTP")

	// ErrInvalidVerification is returned when a verification token cannot be used
	ErrInvalidVerification = errors.New("invalid or expired token")

	// ErrInvalidInvite is returned when an invite token does not match a pending account
	ErrInvalidInvite = errors.New("invalid or expired invite")

	// ErrAlreadyVerified is returned when re-inviting an activated account
	ErrAlreadyVerified = errors.New("user is already verified")

	// ErrOldPasswordMismatch is returned by ChangePassword when the current password is wrong
	ErrOldPasswordMismatch = errors.New("old password is incorrect")

	// ErrTooManyAttempts is returned by ResetPassword once an address has used up its guesses
	ErrTooManyAttempts = errors.New("too many reset attempts")
)

// ValidationError carries a message meant for the client
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(message string) error {
	return &ValidationError{Message: message}
}

// ListFilter narrows admin user listings
type ListFilter struct {
	// Query matches name, email or phone number
	Query    string
	Status   auth.UserStatus
	RoleID   int64
	Page     int
	PageSize int
}

// Pagination describes a page of a listing
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Page is a window of users
type Page struct {
	Data       []auth.User `json:"data"`
	Pagination Pagination  `json:"pagination"`
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

// RoleSummary is the role block embedded in user details
type RoleSummary struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Department  string `json:"department,omitempty"`
	IsSuperuser bool   `json:"is_superuser"`
}

// Detail is a user together with its role and effective permissions
type Detail struct {
	auth.User
	Role            *RoleSummary `json:"role"`
	PermissionNames []string     `json:"permissionNames"`
}

// CreateInput is the admin request to create an account
type CreateInput struct {
	Name            string  `json:"name"`
	Email           string  `json:"email"`
	RoleID          int64   `json:"roleId"`
	InitialPassword *string `json:"initialPassword,omitempty"`
	// SendInvite defaults to true
	SendInvite *bool `json:"sendInvite,omitempty"`
}

// CreateResult reports how the new account gets its first password.
// TempPassword is only set when no invite was sent.
type CreateResult struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	Sent         *bool  `json:"sent,omitempty"`
	Error        string `json:"error,omitempty"`
	TempPassword string `json:"tempPassword,omitempty"`
}

// UpdateInput holds the admin-editable fields; nil fields are left unchanged
type UpdateInput struct {
	Name   *string          `json:"name,omitempty"`
	Status *auth.UserStatus `json:"status,omitempty"`
	RoleID *int64           `json:"roleId,omitempty"`
}

// ProfileInput holds the self-editable fields; nil fields are left unchanged.
// An empty PhoneNumber clears it.
type ProfileInput struct {
	Name        *string `json:"name,omitempty"`
	Email       *string `json:"email,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	Address     *string `json:"address,omitempty"`
	BirthDate   *string `json:"birth_date,omitempty"`
}

// LoginResult is the outcome of a successful login
type LoginResult struct {
	Token           string
	ExpiresAt       time.Time
	User            *auth.User
	PermissionNames []string
}
