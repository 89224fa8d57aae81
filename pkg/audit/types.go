package audit

import (
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	// Authentication events
	EventTypeLogin          EventType = "auth.login"
	EventTypeLoginFailed    EventType = "auth.login_failed"
	EventTypeLogout         EventType = "auth.logout"
	EventTypePasswordChange EventType = "auth.password_change"
	EventTypePasswordReset  EventType = "auth.password_reset"
	EventTypeInviteActivate EventType = "auth.invite_activate"
	EventTypeEmailVerify    EventType = "auth.email_verify"

	// Authorization events
	EventTypeAccessDenied EventType = "authz.access_denied"

	// User administration events
	EventTypeUserCreate   EventType = "admin.user_create"
	EventTypeUserUpdate   EventType = "admin.user_update"
	EventTypeRoleAssign   EventType = "admin.role_assign"
	EventTypeUserVerify   EventType = "admin.user_verify"
	EventTypeInviteResend EventType = "admin.invite_resend"
	EventTypeProfileEdit  EventType = "admin.profile_update"

	// Role and permission catalog events
	EventTypeRoleCreate        EventType = "rbac.role_create"
	EventTypeRoleUpdate        EventType = "rbac.role_update"
	EventTypeRoleDelete        EventType = "rbac.role_delete"
	EventTypePermissionGrant   EventType = "rbac.permission_grant"
	EventTypePermissionRevoke  EventType = "rbac.permission_revoke"
	EventTypePermissionCreate  EventType = "rbac.permission_create"
	EventTypePermissionUpdate  EventType = "rbac.permission_update"
	EventTypePermissionDelete  EventType = "rbac.permission_delete"
	EventTypeRolePermissionSet EventType = "rbac.role_permissions_set"
)

// EventStatus represents the outcome of an audited action
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// StatusForCode maps an HTTP status code to an event status
func StatusForCode(code int) EventStatus {
	switch {
	case code == 401 || code == 403:
		return EventStatusDenied
	case code >= 400:
		return EventStatusFailure
	default:
		return EventStatusSuccess
	}
}

// ResourceType represents the type of resource being acted upon
type ResourceType string

const (
	ResourceTypeUser       ResourceType = "user"
	ResourceTypeRole       ResourceType = "role"
	ResourceTypePermission ResourceType = "permission"
	ResourceTypeArea       ResourceType = "area"
)

// Event is a single audit trail entry
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"eventType"`
	Status    EventStatus `json:"status"`

	// ActorID is the authenticated caller, nil for anonymous requests
	ActorID *int64 `json:"actorId,omitempty"`

	ResourceType ResourceType `json:"resourceType,omitempty"`
	ResourceID   string       `json:"resourceId,omitempty"`

	IPAddress  string `json:"ipAddress,omitempty"`
	UserAgent  string `json:"userAgent,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SearchFilter narrows an audit search
type SearchFilter struct {
	StartTime    *time.Time
	EndTime      *time.Time
	ActorID      *int64
	EventTypes   []EventType
	Status       EventStatus
	ResourceType ResourceType
	ResourceID   string

	Page     int
	PageSize int
}

// Page is a page of audit events
type Page struct {
	Data       []Event    `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination describes the position of a page
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// ExportFormat represents the format for exporting audit events
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

func int64Ptr(v int64) *int64 {
	return &v
}
