package seed

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/hrm/pkg/auth"
)

//go:embed default.yaml
var defaultCatalog []byte

// Catalog is the declarative set of permissions, roles and bootstrap users
type Catalog struct {
	Permissions []PermissionSpec `yaml:"permissions"`
	Roles       []RoleSpec       `yaml:"roles"`
	Users       []UserSpec       `yaml:"users"`
}

// PermissionSpec declares a permission
type PermissionSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// RoleSpec declares a role and the permission names it carries
type RoleSpec struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Department  string   `yaml:"department"`
	Superuser   bool     `yaml:"superuser"`
	Permissions []string `yaml:"permissions"`
}

// UserSpec declares a bootstrap account. Users that already exist are left untouched.
type UserSpec struct {
	Name               string `yaml:"name"`
	Email              string `yaml:"email"`
	Password           string `yaml:"password"`
	Role               string `yaml:"role"`
	MustChangePassword bool   `yaml:"must_change_password"`
}

// Default returns the built-in catalog
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads and validates a catalog file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a catalog. ${VAR} references are expanded from the
// environment so passwords need not live in the file.
func Parse(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// Validate reports every problem in the catalog at once
func (c *Catalog) Validate() error {
	var errs error

	perms := make(map[string]bool, len(c.Permissions))
	for i, p := range c.Permissions {
		name := strings.TrimSpace(p.Name)
		switch {
		case name == "":
			errs = multierr.Append(errs, fmt.Errorf("permissions[%d]: name is required", i))
		case perms[name]:
			errs = multierr.Append(errs, fmt.Errorf("permissions[%d]: duplicate permission %q", i, name))
		}
		perms[name] = true
	}

	roles := make(map[string]bool, len(c.Roles))
	for i, r := range c.Roles {
		name := strings.TrimSpace(r.Name)
		switch {
		case name == "":
			errs = multierr.Append(errs, fmt.Errorf("roles[%d]: name is required", i))
		case roles[name]:
			errs = multierr.Append(errs, fmt.Errorf("roles[%d]: duplicate role %q", i, name))
		}
		roles[name] = true
		for _, p := range r.Permissions {
			if !perms[strings.TrimSpace(p)] {
				errs = multierr.Append(errs, fmt.Errorf("roles[%d]: unknown permission %q", i, p))
			}
		}
	}

	emails := make(map[string]bool, len(c.Users))
	for i, u := range c.Users {
		email := auth.NormalizeEmail(u.Email)
		switch {
		case email == "":
			errs = multierr.Append(errs, fmt.Errorf("users[%d]: email is required", i))
		case emails[email]:
			errs = multierr.Append(errs, fmt.Errorf("users[%d]: duplicate email %q", i, email))
		}
		emails[email] = true
		if strings.TrimSpace(u.Name) == "" {
			errs = multierr.Append(errs, fmt.Errorf("users[%d]: name is required", i))
		}
		if err := auth.ValidateNewPassword(u.Password); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("users[%d]: %w", i, err))
		}
		if !roles[strings.TrimSpace(u.Role)] {
			errs = multierr.Append(errs, fmt.Errorf("users[%d]: unknown role %q", i, u.Role))
		}
	}

	if errs != nil {
		return fmt.Errorf("invalid seed catalog: %w", errs)
	}
	return nil
}
