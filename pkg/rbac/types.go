package rbac

import (
	"strings"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
)

// Scope is the breadth at which a role applies
type Scope string

const (
	ScopeGlobal       Scope = "GLOBAL"
	ScopeTenant       Scope = "TENANT"
	ScopeOrganization Scope = "ORGANIZATION"
	ScopeService      Scope = "SERVICE"
)

// Type distinguishes built-in entities from user-defined ones.
// SYSTEM roles and permissions are immutable and cannot be deleted.
type Type string

const (
	TypeSystem Type = "SYSTEM"
	TypeCustom Type = "CUSTOM"
)

// Role is a named set of permissions
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Scope       Scope     `json:"scope"`
	TenantID    *string   `json:"tenant_id,omitempty"`
	ServiceID   *string   `json:"service_id,omitempty"`
	Type        Type      `json:"type"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsSystem reports whether the role is SYSTEM protected
func (r *Role) IsSystem() bool {
	return r.Type == TypeSystem
}

// Validate checks the scope rules: GLOBAL roles carry neither tenant nor
// service, TENANT and ORGANIZATION roles carry a tenant only, SERVICE roles
// carry both.
func (r *Role) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return apperrors.InvalidInput("role name is required")
	}
	if r.Type == "" {
		r.Type = TypeCustom
	}
	if r.Type != TypeSystem && r.Type != TypeCustom {
		return apperrors.InvalidInput("unknown role type %q", r.Type)
	}

	hasTenant := r.TenantID != nil && *r.TenantID != ""
	hasService := r.ServiceID != nil && *r.ServiceID != ""

	switch r.Scope {
	case ScopeGlobal:
		if hasTenant || hasService {
			return apperrors.InvalidInput("GLOBAL role must not have tenant or service")
		}
	case ScopeTenant, ScopeOrganization:
		if !hasTenant || hasService {
			return apperrors.InvalidInput("%s role requires a tenant and no service", r.Scope)
		}
	case ScopeService:
		if !hasTenant || !hasService {
			return apperrors.InvalidInput("SERVICE role requires a tenant and a service")
		}
	default:
		return apperrors.InvalidInput("unknown role scope %q", r.Scope)
	}

	if !hasTenant {
		r.TenantID = nil
	}
	if !hasService {
		r.ServiceID = nil
	}
	return nil
}

// Permission is a capability identified by its "resource:action" key
type Permission struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	Type        Type      `json:"type"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsSystem reports whether the permission is SYSTEM protected
func (p *Permission) IsSystem() bool {
	return p.Type == TypeSystem
}

// PermissionKey returns the canonical "resource:action" key
func PermissionKey(resource, action string) string {
	return resource + ":" + action
}

// ParsePermissionKey splits a key on its first ':'
func ParsePermissionKey(key string) (resource, action string, err error) {
	key = strings.TrimSpace(key)
	idx := strings.Index(key, ":")
	if idx <= 0 || idx == len(key)-1 {
		return "", "", apperrors.InvalidInput("permission key %q must have the form resource:action", key)
	}
	return key[:idx], key[idx+1:], nil
}

// Normalize fills Key from Resource/Action (or the reverse) and checks that
// they agree
func (p *Permission) Normalize() error {
	p.Key = strings.TrimSpace(p.Key)
	p.Resource = strings.TrimSpace(p.Resource)
	p.Action = strings.TrimSpace(p.Action)

	switch {
	case p.Key == "" && (p.Resource == "" || p.Action == ""):
		return apperrors.InvalidInput("permission requires a key or a resource and action")
	case p.Key == "":
		p.Key = PermissionKey(p.Resource, p.Action)
	case p.Resource == "" && p.Action == "":
		resource, action, err := ParsePermissionKey(p.Key)
		if err != nil {
			return err
		}
		p.Resource, p.Action = resource, action
	}

	if p.Key != PermissionKey(p.Resource, p.Action) {
		return apperrors.InvalidInput("permission key %q does not match %s:%s", p.Key, p.Resource, p.Action)
	}
	if p.Type == "" {
		p.Type = TypeCustom
	}
	if p.Type != TypeSystem && p.Type != TypeCustom {
		return apperrors.InvalidInput("unknown permission type %q", p.Type)
	}
	return nil
}

// RolePermission grants a permission to every holder of a role
type RolePermission struct {
	RoleID       string    `json:"role_id"`
	PermissionID string    `json:"permission_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserRole assigns a role to a user. Revocation hard-deletes the row.
type UserRole struct {
	UserID     string    `json:"user_id"`
	RoleID     string    `json:"role_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// EffectivePermissions is the deduplicated result of resolving a user's roles
type EffectivePermissions struct {
	RoleNames      []string `json:"roles"`
	PermissionKeys []string `json:"permissions"`
}

// HasPermission reports whether key is among the effective permissions
func (e *EffectivePermissions) HasPermission(key string) bool {
	for _, k := range e.PermissionKeys {
		if k == key {
			return true
		}
	}
	return false
}

// HasRole reports whether name is among the effective roles
func (e *EffectivePermissions) HasRole(name string) bool {
	for _, r := range e.RoleNames {
		if r == name {
			return true
		}
	}
	return false
}

// RoleFilter narrows ListRoles
type RoleFilter struct {
	Scope     Scope
	TenantID  string
	ServiceID string
}

// UpdateRoleRequest holds mutable role fields
type UpdateRoleRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// UpdatePermissionRequest holds mutable permission fields
type UpdatePermissionRequest struct {
	Description *string `json:"description,omitempty"`
}

// Hub permissions guarding the admin surface
const (
	PermRoleRead        = "role:read"
	PermRoleWrite       = "role:write"
	PermPermissionRead  = "permission:read"
	PermPermissionWrite = "permission:write"
	PermUserRoleWrite   = "user_role:write"
	PermEndpointRead    = "endpoint:read"
	PermEndpointWrite   = "endpoint:write"
	PermEndpointSync    = "endpoint:sync"
	PermRateLimitAdmin  = "ratelimit:admin"
)

// RoleHubAdmin is the built-in GLOBAL role holding every hub permission
const RoleHubAdmin = "gatekeeper:admin"

// BuiltInPermissions returns the SYSTEM permissions seeded at startup
func BuiltInPermissions() []Permission {
	keys := []struct{ key, description string }{
		{PermRoleRead, "Read roles"},
		{PermRoleWrite, "Create, update and delete roles and role grants"},
		{PermPermissionRead, "Read permissions"},
		{PermPermissionWrite, "Create, update and delete permissions"},
		{PermUserRoleWrite, "Assign and revoke user roles"},
		{PermEndpointRead, "Read endpoint bindings"},
		{PermEndpointWrite, "Create, update and delete endpoint bindings"},
		{PermEndpointSync, "Bulk sync a service's endpoints"},
		{PermRateLimitAdmin, "Inspect and reset rate limit counters"},
	}

	perms := make([]Permission, 0, len(keys))
	for _, k := range keys {
		resource, action, _ := ParsePermissionKey(k.key)
		perms = append(perms, Permission{
			Key:         k.key,
			Resource:    resource,
			Action:      action,
			Description: k.description,
			Type:        TypeSystem,
		})
	}
	return perms
}

// BuiltInRoles returns the SYSTEM roles seeded at startup
func BuiltInRoles() []Role {
	return []Role{
		{
			Name:        RoleHubAdmin,
			Description: "Full access to the gatekeeper admin surface",
			Scope:       ScopeGlobal,
			Type:        TypeSystem,
		},
	}
}
