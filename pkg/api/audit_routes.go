package api

import (
	"net/http"

	"github.com/platinummonkey/hrm/pkg/audit"
)

const idPath = "/{id:[0-9]+}"

type auditedRoute struct {
	method   string
	template string
	event    audit.EventType
	resource audit.ResourceType
}

// auditedRoutes lists the mutating routes recorded on the audit trail.
// Credential flows are recorded by the account service instead.
var auditedRoutes = []auditedRoute{
	{http.MethodPost, "/api/auth/logout", audit.EventTypeLogout, ""},

	{http.MethodPatch, "/api/me", audit.EventTypeProfileEdit, audit.ResourceTypeUser},

	{http.MethodPost, "/api/users", audit.EventTypeUserCreate, audit.ResourceTypeUser},
	{http.MethodPatch, "/api/users" + idPath, audit.EventTypeUserUpdate, audit.ResourceTypeUser},
	{http.MethodPost, "/api/users" + idPath + "/role", audit.EventTypeRoleAssign, audit.ResourceTypeUser},
	{http.MethodPost, "/api/users" + idPath + "/resend-invite", audit.EventTypeInviteResend, audit.ResourceTypeUser},
	{http.MethodPost, "/api/users" + idPath + "/reset-password", audit.EventTypeInviteResend, audit.ResourceTypeUser},
	{http.MethodPatch, "/api/users" + idPath + "/verify", audit.EventTypeUserVerify, audit.ResourceTypeUser},

	{http.MethodPost, "/api/roles", audit.EventTypeRoleCreate, audit.ResourceTypeRole},
	{http.MethodPut, "/api/roles" + idPath, audit.EventTypeRoleUpdate, audit.ResourceTypeRole},
	{http.MethodPatch, "/api/roles" + idPath, audit.EventTypeRoleUpdate, audit.ResourceTypeRole},
	{http.MethodDelete, "/api/roles" + idPath, audit.EventTypeRoleDelete, audit.ResourceTypeRole},
	{http.MethodPost, "/api/roles" + idPath + "/permissions", audit.EventTypePermissionGrant, audit.ResourceTypeRole},
	{http.MethodPut, "/api/roles" + idPath + "/permissions", audit.EventTypeRolePermissionSet, audit.ResourceTypeRole},
	{http.MethodDelete, "/api/roles" + idPath + "/permissions/{permissionId:[0-9]+}", audit.EventTypePermissionRevoke, audit.ResourceTypeRole},

	{http.MethodPost, "/api/permissions", audit.EventTypePermissionCreate, audit.ResourceTypePermission},
	{http.MethodPut, "/api/permissions" + idPath, audit.EventTypePermissionUpdate, audit.ResourceTypePermission},
	{http.MethodPatch, "/api/permissions" + idPath, audit.EventTypePermissionUpdate, audit.ResourceTypePermission},
	{http.MethodDelete, "/api/permissions" + idPath, audit.EventTypePermissionDelete, audit.ResourceTypePermission},
}

func auditRoutes() audit.Routes {
	routes := make(audit.Routes, len(auditedRoutes))
	for _, r := range auditedRoutes {
		routes[audit.RouteKey(r.method, r.template)] = audit.Rule{EventType: r.event, ResourceType: r.resource}
	}
	return routes
}
