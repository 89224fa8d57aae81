package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/hrm/pkg/auth"
	"github.com/platinummonkey/hrm/pkg/observability"
)

// Result counts what Apply touched
type Result struct {
	Permissions  int
	Roles        int
	UsersCreated int
	UsersSkipped int
}

// Seeder applies catalogs to the database
type Seeder struct {
	db     *sql.DB
	logger *observability.Logger
	now    func() time.Time
}

// NewSeeder creates a seeder
func NewSeeder(db *sql.DB, logger *observability.Logger) *Seeder {
	return &Seeder{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Apply upserts the catalog in one transaction. Permissions and roles are
// matched by name and role permission links are only ever added, so running
// it twice changes nothing. Existing users are never modified.
func (s *Seeder) Apply(ctx context.Context, catalog *Catalog) (*Result, error) {
	if err := catalog.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	result := &Result{}

	permIDs := make(map[string]int64, len(catalog.Permissions))
	for _, p := range catalog.Permissions {
		name := strings.TrimSpace(p.Name)
		var id int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO permissions (name, description, created_at, updated_at)
			VALUES ($1, $2, $3, $3)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id
		`, name, p.Description, now).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert permission %q: %w", name, err)
		}
		permIDs[name] = id
		result.Permissions++
	}

	roleIDs := make(map[string]int64, len(catalog.Roles))
	for _, r := range catalog.Roles {
		name := strings.TrimSpace(r.Name)
		var id int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO roles (name, description, department, is_superuser, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (name) DO UPDATE SET is_superuser = EXCLUDED.is_superuser
			RETURNING id
		`, name, r.Description, r.Department, r.Superuser, now).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert role %q: %w", name, err)
		}
		roleIDs[name] = id
		result.Roles++

		if len(r.Permissions) == 0 {
			continue
		}
		ids := make([]int64, 0, len(r.Permissions))
		for _, p := range r.Permissions {
			ids = append(ids, permIDs[strings.TrimSpace(p)])
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO role_permissions (role_id, permission_id)
			SELECT $1, unnest($2::bigint[])
			ON CONFLICT DO NOTHING
		`, id, pq.Array(ids)); err != nil {
			return nil, fmt.Errorf("failed to link permissions for role %q: %w", name, err)
		}
	}

	for _, u := range catalog.Users {
		email := auth.NormalizeEmail(u.Email)
		hash, err := auth.HashPassword(u.Password)
		if err != nil {
			return nil, err
		}
		var id int64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO users (name, email, password_hash, status, role_id, is_verified,
				must_change_password, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, true, $6, $7, $7)
			ON CONFLICT (email) DO NOTHING
			RETURNING id
		`, strings.TrimSpace(u.Name), email, hash, auth.StatusActive,
			roleIDs[strings.TrimSpace(u.Role)], u.MustChangePassword, now).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			result.UsersSkipped++
			s.logger.WithField("email", email).Debug("Seed user already exists")
		case err != nil:
			return nil, fmt.Errorf("failed to create user %q: %w", email, err)
		default:
			result.UsersCreated++
			s.logger.WithFields(map[string]interface{}{
				"email":   email,
				"user_id": id,
			}).Info("Seed user created")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit seed: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"permissions":   result.Permissions,
		"roles":         result.Roles,
		"users_created": result.UsersCreated,
		"users_skipped": result.UsersSkipped,
	}).Info("Seeding complete")
	return result, nil
}
