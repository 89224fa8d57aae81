// Package rbac provides role-based access control for the HRM API.
//
// # Overview
//
// A user holds at most one role. A role is a named bundle of permissions and may
// be flagged as superuser, in which case it passes every authorization check
// regardless of its permission list. Permissions are plain unique names such as
// "manage_users".
//
// # Authorization Gate
//
// Authorizer turns a list of required permissions into middleware. It runs after
// the authentication gate and re-reads the user's status and role on every
// request, so revocations and deactivations apply immediately:
//
//	authz := rbac.NewAuthorizer(rbac.NewChecker(userStore, roleStore))
//	users := router.PathPrefix("/api/users").Subrouter()
//	users.Use(authn.Handler, authz.RequireAny(rbac.PermManageUsers))
//
// ModeAny passes with one overlapping permission. ModeAll passes only with all
// of them and reports the missing names in its 403 body:
//
//	{"message": "Forbidden: missing required permissions", "missing": ["manage_roles"]}
//
// An empty requirement admits any active user with a role.
//
// # Decision Cache
//
// WithSnapshotCache keeps (user, role) snapshots in an expiring LRU. It is off
// by default; when enabled, changes are observed late by at most the TTL.
// Handlers purge the cache after every role or permission mutation.
//
// # Administration
//
// Handlers exposes CRUD for roles and permissions, role department and name
// listings, and add/replace/remove operations on a role's permission list.
// Only a superuser may create or flag a role as superuser.
//
// # Related Packages
//
//   - pkg/auth: Identity and PermissionSet
//   - pkg/middleware: authentication gate
//   - pkg/api: route table
package rbac
