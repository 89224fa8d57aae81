package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/hrm/pkg/auth"
	"github.com/platinummonkey/hrm/pkg/rbac"
)

// Store handles user persistence. Emails are lower-cased before every write and lookup.
type Store struct {
	db *sql.DB
}

// NewStore creates a new user store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const userColumns = `id, name, email, password_hash, status, phone_number, address, birth_date,
	role_id, is_verified, must_change_password, invite_token, invite_expires,
	otp_code, otp_expires, last_login_at, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*auth.User, error) {
	var u auth.User
	if err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.Status,
		&u.PhoneNumber,
		&u.Address,
		&u.BirthDate,
		&u.RoleID,
		&u.IsVerified,
		&u.MustChangePassword,
		&u.InviteToken,
		&u.InviteExpires,
		&u.OTPCode,
		&u.OTPExpires,
		&u.LastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &u, nil
}

func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return ErrEmailTaken
		case "23503":
			return rbac.ErrRoleNotFound
		}
	}
	return err
}

func (s *Store) findOne(ctx context.Context, where string, args ...interface{}) (*auth.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where

	user, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// FindUserByID loads a user regardless of status
func (s *Store) FindUserByID(ctx context.Context, id int64) (*auth.User, error) {
	return s.findOne(ctx, `id = $1`, id)
}

// FindActiveUserByID loads a user only if its status is active
func (s *Store) FindActiveUserByID(ctx context.Context, id int64) (*auth.User, error) {
	return s.findOne(ctx, `id = $1 AND status = $2`, id, auth.StatusActive)
}

// FindByEmail loads a user by email regardless of status
func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findOne(ctx, `email = $1`, auth.NormalizeEmail(email))
}

// FindActiveByEmail loads an active user by email
func (s *Store) FindActiveByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findOne(ctx, `email = $1 AND status = $2`, auth.NormalizeEmail(email), auth.StatusActive)
}

// FindByInviteToken loads the unverified user holding an unexpired invite token
func (s *Store) FindByInviteToken(ctx context.Context, token string, now time.Time) (*auth.User, error) {
	return s.findOne(ctx, `invite_token = $1 AND invite_expires > $2 AND is_verified = false`, token, now)
}

// EmailTaken reports whether another user than excludeID holds the email
func (s *Store) EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1 AND id <> $2)`,
		auth.NormalizeEmail(email), excludeID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return exists, nil
}

// Create inserts a user. The password must already be hashed.
func (s *Store) Create(ctx context.Context, user *auth.User) error {
	user.Email = auth.NormalizeEmail(user.Email)
	if user.Status == "" {
		user.Status = auth.StatusActive
	}

	query := `
		INSERT INTO users (name, email, password_hash, status, role_id, is_verified,
			must_change_password, invite_token, invite_expires)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		user.Name, user.Email, user.PasswordHash, user.Status, user.RoleID, user.IsVerified,
		user.MustChangePassword, user.InviteToken, user.InviteExpires,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", translateError(err))
	}
	return nil
}

func (s *Store) exec(ctx context.Context, action, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", action, translateError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Update applies the non-nil admin fields
func (s *Store) Update(ctx context.Context, id int64, input UpdateInput) error {
	query := `
		UPDATE users SET
			name = COALESCE($2, name),
			status = COALESCE($3, status),
			role_id = COALESCE($4, role_id),
			updated_at = NOW()
		WHERE id = $1
	`
	return s.exec(ctx, "update user", query, id, input.Name, input.Status, input.RoleID)
}

// SaveProfile writes the self-editable fields of user as they are
func (s *Store) SaveProfile(ctx context.Context, user *auth.User) error {
	user.Email = auth.NormalizeEmail(user.Email)
	query := `
		UPDATE users SET
			name = $2, email = $3, phone_number = $4, address = $5, birth_date = $6,
			updated_at = NOW()
		WHERE id = $1
	`
	return s.exec(ctx, "update profile", query,
		user.ID, user.Name, user.Email, user.PhoneNumber, user.Address, user.BirthDate)
}

// AssignRole moves a user to another role
func (s *Store) AssignRole(ctx context.Context, id, roleID int64) error {
	return s.exec(ctx, "assign role",
		`UPDATE users SET role_id = $2, updated_at = NOW() WHERE id = $1`, id, roleID)
}

// UpdateLastLogin stamps a successful login
func (s *Store) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	return s.exec(ctx, "update last login",
		`UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
}

// SetPassword replaces the password hash. It also clears any pending reset code
// and the must-change flag.
func (s *Store) SetPassword(ctx context.Context, id int64, hash string) error {
	query := `
		UPDATE users SET
			password_hash = $2,
			must_change_password = false,
			otp_code = NULL,
			otp_expires = NULL,
			updated_at = NOW()
		WHERE id = $1
	`
	return s.exec(ctx, "set password", query, id, hash)
}

// ActivateInvite sets the first password of an invited user and marks it verified
func (s *Store) ActivateInvite(ctx context.Context, id int64, hash string) error {
	query := `
		UPDATE users SET
			password_hash = $2,
			is_verified = true,
			must_change_password = false,
			invite_token = NULL,
			invite_expires = NULL,
			updated_at = NOW()
		WHERE id = $1
	`
	return s.exec(ctx, "activate invite", query, id, hash)
}

// SetOTP stores a password reset code
func (s *Store) SetOTP(ctx context.Context, id int64, code string, expires time.Time) error {
	return s.exec(ctx, "set otp",
		`UPDATE users SET otp_code = $2, otp_expires = $3, updated_at = NOW() WHERE id = $1`,
		id, code, expires)
}

// ClearOTP removes a password reset code
func (s *Store) ClearOTP(ctx context.Context, id int64) error {
	return s.exec(ctx, "clear otp",
		`UPDATE users SET otp_code = NULL, otp_expires = NULL, updated_at = NOW() WHERE id = $1`, id)
}

// SetInvite stores a fresh invite token
func (s *Store) SetInvite(ctx context.Context, id int64, token string, expires time.Time) error {
	return s.exec(ctx, "set invite",
		`UPDATE users SET invite_token = $2, invite_expires = $3, updated_at = NOW() WHERE id = $1`,
		id, token, expires)
}

// SetVerified sets the email verification flag
func (s *Store) SetVerified(ctx context.Context, id int64, verified bool) error {
	return s.exec(ctx, "set verified",
		`UPDATE users SET is_verified = $2, updated_at = NOW() WHERE id = $1`, id, verified)
}

// List returns a page of users, newest first
func (s *Store) List(ctx context.Context, filter ListFilter) (*Page, error) {
	page, pageSize := normalizePage(filter.Page, filter.PageSize)

	var conditions []string
	var args []interface{}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+q+"%")
		n := len(args)
		conditions = append(conditions,
			fmt.Sprintf("(name ILIKE $%d OR email ILIKE $%d OR phone_number ILIKE $%d)", n, n, n))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.RoleID > 0 {
		args = append(args, filter.RoleID)
		conditions = append(conditions, fmt.Sprintf("role_id = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		userColumns, where, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, pageSize, (page-1)*pageSize)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []auth.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return &Page{
		Data: users,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: (total + pageSize - 1) / pageSize,
		},
	}, nil
}

// CleanupExpired clears reset codes and invite tokens that expired before now.
// It returns the number of rows touched.
func (s *Store) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	var cleared int64

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET otp_code = NULL, otp_expires = NULL WHERE otp_expires IS NOT NULL AND otp_expires < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired otp codes: %w", err)
	}
	n, _ := res.RowsAffected()
	cleared += n

	res, err = s.db.ExecContext(ctx,
		`UPDATE users SET invite_token = NULL, invite_expires = NULL WHERE invite_expires IS NOT NULL AND invite_expires < $1`, now)
	if err != nil {
		return cleared, fmt.Errorf("failed to clear expired invites: %w", err)
	}
	n, _ = res.RowsAffected()
	cleared += n

	return cleared, nil
}
