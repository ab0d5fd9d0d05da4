package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthLogin        EventType = "auth.login"
	EventTypeAuthLoginFailed  EventType = "auth.login_failed"
	EventTypeAuthLogout       EventType = "auth.logout"
	EventTypeAuthTokenRefresh EventType = "auth.token_refresh"

	// Authorization events
	EventTypeAuthzPermissionGrant  EventType = "authz.permission_grant"
	EventTypeAuthzPermissionRevoke EventType = "authz.permission_revoke"
	EventTypeAuthzRoleAssign       EventType = "authz.role_assign"
	EventTypeAuthzRoleRevoke       EventType = "authz.role_revoke"
	EventTypeAuthzAccessDenied     EventType = "authz.access_denied"

	// Admin events
	EventTypeAdminRoleCreate       EventType = "admin.role_create"
	EventTypeAdminRoleUpdate       EventType = "admin.role_update"
	EventTypeAdminRoleDelete       EventType = "admin.role_delete"
	EventTypeAdminPermissionCreate EventType = "admin.permission_create"
	EventTypeAdminPermissionUpdate EventType = "admin.permission_update"
	EventTypeAdminPermissionDelete EventType = "admin.permission_delete"
	EventTypeAdminEndpointCreate   EventType = "admin.endpoint_create"
	EventTypeAdminEndpointUpdate   EventType = "admin.endpoint_update"
	EventTypeAdminEndpointDelete   EventType = "admin.endpoint_delete"
	EventTypeAdminEndpointSync     EventType = "admin.endpoint_sync"
	EventTypeAdminRateLimitReset   EventType = "admin.ratelimit_reset"

	EventTypeHTTPRequest EventType = "http.request"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being accessed
type ResourceType string

const (
	ResourceTypeUser       ResourceType = "user"
	ResourceTypeRole       ResourceType = "role"
	ResourceTypePermission ResourceType = "permission"
	ResourceTypeEndpoint   ResourceType = "endpoint"
	ResourceTypeService    ResourceType = "service"
	ResourceTypeToken      ResourceType = "token"
	ResourceTypeRateLimit  ResourceType = "ratelimit"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	UserID   string `json:"user_id,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`

	// Resource
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	IPAddress  string        `json:"ip_address,omitempty"`
	UserAgent  string        `json:"user_agent,omitempty"`
	RequestID  string        `json:"request_id,omitempty"`
	Method     string        `json:"method,omitempty"`
	Path       string        `json:"path,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}
