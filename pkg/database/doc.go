// Package database opens the PostgreSQL pool and applies the embedded goose
// migrations that create the users, roles, permissions and role_permissions
// tables.
package database
