// Package audit records who did what to accounts, roles and permissions.
//
// # Overview
//
// Events land in the audit_events table (migration 00003). Two paths feed it:
//
//   - Middleware, mounted on each subrouter after authentication, records the
//     outcome of mapped mutating routes and every 403 produced by the
//     authorization gate. The route table lives with the router.
//   - The account service emits credential events (login, failed login,
//     password reset and change, invite activation) through Emit, since only
//     it knows which account a credential belonged to.
//
// Recording is best effort: a failed insert is logged and the request goes on.
//
// # Event Types
//
// Authentication: auth.login, auth.login_failed, auth.logout, auth.password_change,
// auth.password_reset, auth.invite_activate, auth.email_verify
//
// Authorization: authz.access_denied
//
// Administration: admin.user_create, admin.user_update, admin.role_assign,
// admin.user_verify, admin.invite_resend, rbac.role_*, rbac.permission_*
//
// # API
//
//	GET /api/audit?from=&to=&actorId=&type=a,b&status=&resourceType=&resourceId=&page=&pageSize=
//	GET /api/audit/{id}
//	GET /api/audit/export?format=json|csv|ndjson
//
// # Retention
//
// RetentionJob deletes events older than HRM_AUDIT_RETENTION on the
// HRM_AUDIT_RETENTION_CRON schedule.
package audit
