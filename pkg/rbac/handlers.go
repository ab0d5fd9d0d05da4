package rbac

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Handlers provides HTTP handlers for RBAC operations
type Handlers struct {
	resolver    *Resolver
	auditLogger audit.Logger
	permissions *PermissionMiddleware
}

// NewHandlers creates new RBAC handlers. A nil audit logger discards events.
func NewHandlers(resolver *Resolver, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	return &Handlers{
		resolver:    resolver,
		auditLogger: auditLogger,
	}
}

// WithPermissions guards every route with the hub permissions. Without it the
// routes are registered unguarded.
func (h *Handlers) WithPermissions(pm *PermissionMiddleware) *Handlers {
	h.permissions = pm
	return h
}

func (h *Handlers) guard(key string, fn http.HandlerFunc) http.Handler {
	if h.permissions == nil {
		return fn
	}
	return h.permissions.RequirePermission(key)(fn)
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Roles
	router.Handle("/rbac/roles", h.guard(PermRoleWrite, h.CreateRole)).Methods("POST")
	router.Handle("/rbac/roles", h.guard(PermRoleRead, h.ListRoles)).Methods("GET")
	router.Handle("/rbac/roles/{id}", h.guard(PermRoleRead, h.GetRole)).Methods("GET")
	router.Handle("/rbac/roles/{id}", h.guard(PermRoleWrite, h.UpdateRole)).Methods("PUT")
	router.Handle("/rbac/roles/{id}", h.guard(PermRoleWrite, h.DeleteRole)).Methods("DELETE")

	// Role grants
	router.Handle("/rbac/roles/{id}/permissions", h.guard(PermRoleWrite, h.GrantRolePermissions)).Methods("POST")
	router.Handle("/rbac/roles/{id}/permissions", h.guard(PermRoleRead, h.ListRolePermissions)).Methods("GET")
	router.Handle("/rbac/roles/{id}/permissions/{permission_id}", h.guard(PermRoleWrite, h.RevokeRolePermission)).Methods("DELETE")

	// Permissions
	router.Handle("/rbac/permissions", h.guard(PermPermissionWrite, h.CreatePermission)).Methods("POST")
	router.Handle("/rbac/permissions", h.guard(PermPermissionRead, h.ListPermissions)).Methods("GET")
	router.Handle("/rbac/permissions/{id}", h.guard(PermPermissionRead, h.GetPermission)).Methods("GET")
	router.Handle("/rbac/permissions/{id}", h.guard(PermPermissionWrite, h.UpdatePermission)).Methods("PUT")
	router.Handle("/rbac/permissions/{id}", h.guard(PermPermissionWrite, h.DeletePermission)).Methods("DELETE")

	// User role assignments
	router.Handle("/rbac/users/{user_id}/roles", h.guard(PermUserRoleWrite, h.AssignUserRole)).Methods("POST")
	router.Handle("/rbac/users/{user_id}/roles", h.guard(PermRoleRead, h.ListUserRoles)).Methods("GET")
	router.Handle("/rbac/users/{user_id}/roles/{role_id}", h.guard(PermUserRoleWrite, h.RevokeUserRole)).Methods("DELETE")
	router.Handle("/rbac/users/{user_id}/effective-permissions", h.guard(PermRoleRead, h.GetEffectivePermissions)).Methods("GET")
}

type createRoleRequest struct {
	Name        string  `json:"name" validate:"required,max=255"`
	Description string  `json:"description"`
	Scope       Scope   `json:"scope" validate:"required,oneof=GLOBAL TENANT ORGANIZATION SERVICE"`
	TenantID    *string `json:"tenant_id,omitempty"`
	ServiceID   *string `json:"service_id,omitempty"`
}

type updateRoleRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description,omitempty"`
}

type createPermissionRequest struct {
	Key         string `json:"key" validate:"omitempty,permission_key"`
	Resource    string `json:"resource" validate:"required_without=Key"`
	Action      string `json:"action" validate:"required_without=Key"`
	Description string `json:"description"`
}

type updatePermissionRequest struct {
	Description *string `json:"description,omitempty"`
}

type grantRequest struct {
	PermissionIDs []string `json:"permission_ids" validate:"required,dive,required"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id" validate:"required"`
}

// CreateRole creates a new CUSTOM role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	role := &Role{
		Name:        req.Name,
		Description: req.Description,
		Scope:       req.Scope,
		TenantID:    req.TenantID,
		ServiceID:   req.ServiceID,
		Type:        TypeCustom,
	}

	if err := h.resolver.CreateRole(r.Context(), role); err != nil {
		h.fail(w, r, audit.EventTypeAdminRoleCreate, audit.ResourceTypeRole, "", err)
		return
	}

	h.succeed(r, audit.EventTypeAdminRoleCreate, audit.ResourceTypeRole, role.ID)
	httputil.WriteCreated(w, role)
}

// ListRoles lists roles, optionally filtered by scope, tenant_id and service_id
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	filter := RoleFilter{
		Scope:     Scope(httputil.ParseQueryString(r, "scope", "")),
		TenantID:  httputil.ParseQueryString(r, "tenant_id", ""),
		ServiceID: httputil.ParseQueryString(r, "service_id", ""),
	}

	roles, err := h.resolver.ListRoles(r.Context(), filter)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	httputil.WriteSuccess(w, roles)
}

// GetRole retrieves a specific role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.resolver.GetRole(r.Context(), roleID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	httputil.WriteSuccess(w, role)
}

// UpdateRole updates a CUSTOM role's name or description
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req updateRoleRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	role, err := h.resolver.UpdateRole(r.Context(), roleID, UpdateRoleRequest{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.fail(w, r, audit.EventTypeAdminRoleUpdate, audit.ResourceTypeRole, roleID, err)
		return
	}

	h.succeed(r, audit.EventTypeAdminRoleUpdate, audit.ResourceTypeRole, roleID)
	httputil.WriteSuccess(w, role)
}

// DeleteRole deletes a CUSTOM role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.resolver.DeleteRole(r.Context(), roleID); err != nil {
		h.fail(w, r, audit.EventTypeAdminRoleDelete, audit.ResourceTypeRole, roleID, err)
		return
	}

	h.succeed(r, audit.EventTypeAdminRoleDelete, audit.ResourceTypeRole, roleID)
	httputil.WriteNoContent(w)
}

// GrantRolePermissions grants permissions to a role and returns only the
// newly written grants
func (h *Handlers) GrantRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req grantRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	granted, err := h.resolver.GrantRolePermissions(r.Context(), roleID, req.PermissionIDs)
	if err != nil {
		h.fail(w, r, audit.EventTypeAuthzPermissionGrant, audit.ResourceTypeRole, roleID, err)
		return
	}

	event := audit.Event(r, audit.EventTypeAuthzPermissionGrant, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeRole
	event.ResourceID = roleID
	event.Metadata["granted"] = len(granted)
	h.log(r, event)

	httputil.WriteSuccess(w, granted)
}

// ListRolePermissions lists the permissions granted to a role
func (h *Handlers) ListRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	perms, err := h.resolver.ListRolePermissions(r.Context(), roleID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	httputil.WriteSuccess(w, perms)
}

// RevokeRolePermission removes a single grant
func (h *Handlers) RevokeRolePermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathStringOrError(w, r, "permission_id")
	if !ok {
		return
	}

	if err := h.resolver.RevokeRolePermission(r.Context(), roleID, permissionID); err != nil {
		h.fail(w, r, audit.EventTypeAuthzPermissionRevoke, audit.ResourceTypeRole, roleID, err)
		return
	}

	h.succeed(r, audit.EventTypeAuthzPermissionRevoke, audit.ResourceTypeRole, roleID)
	httputil.WriteNoContent(w)
}

// CreatePermission creates a CUSTOM permission
func (h *Handlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	perm := &Permission{
		Key:         req.Key,
		Resource:    req.Resource,
		Action:      req.Action,
		Description: req.Description,
		Type:        TypeCustom,
	}

	if err := h.resolver.CreatePermission(r.Context(), perm); err != nil {
		h.fail(w, r, audit.EventTypeAdminPermissionCreate, audit.ResourceTypePermission, "", err)
		return
	}

	h.succeed(r, audit.EventTypeAdminPermissionCreate, audit.ResourceTypePermission, perm.ID)
	httputil.WriteCreated(w, perm)
}

// ListPermissions lists all permissions
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.resolver.ListPermissions(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

// GetPermission retrieves a permission by id
func (h *Handlers) GetPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	perm, err := h.resolver.GetPermission(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, perm)
}

// UpdatePermission updates a CUSTOM permission's description
func (h *Handlers) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req updatePermissionRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	perm, err := h.resolver.UpdatePermission(r.Context(), id, UpdatePermissionRequest{Description: req.Description})
	if err != nil {
		h.fail(w, r, audit.EventTypeAdminPermissionUpdate, audit.ResourceTypePermission, id, err)
		return
	}

	h.succeed(r, audit.EventTypeAdminPermissionUpdate, audit.ResourceTypePermission, id)
	httputil.WriteSuccess(w, perm)
}

// DeletePermission deletes a CUSTOM permission
func (h *Handlers) DeletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.resolver.DeletePermission(r.Context(), id); err != nil {
		h.fail(w, r, audit.EventTypeAdminPermissionDelete, audit.ResourceTypePermission, id, err)
		return
	}

	h.succeed(r, audit.EventTypeAdminPermissionDelete, audit.ResourceTypePermission, id)
	httputil.WriteNoContent(w)
}

// AssignUserRole assigns a role to a user
func (h *Handlers) AssignUserRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}

	var req assignRoleRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	userRole, err := h.resolver.AssignUserRole(r.Context(), userID, req.RoleID)
	if err != nil {
		h.fail(w, r, audit.EventTypeAuthzRoleAssign, audit.ResourceTypeUser, userID, err)
		return
	}

	event := audit.Event(r, audit.EventTypeAuthzRoleAssign, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeUser
	event.ResourceID = userID
	event.Metadata["role_id"] = req.RoleID
	h.log(r, event)

	httputil.WriteCreated(w, userRole)
}

// ListUserRoles lists the roles assigned to a user
func (h *Handlers) ListUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}

	roles, err := h.resolver.ListUserRoles(r.Context(), userID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// RevokeUserRole removes a role assignment
func (h *Handlers) RevokeUserRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathStringOrError(w, r, "role_id")
	if !ok {
		return
	}

	if err := h.resolver.RevokeUserRole(r.Context(), userID, roleID); err != nil {
		h.fail(w, r, audit.EventTypeAuthzRoleRevoke, audit.ResourceTypeUser, userID, err)
		return
	}

	event := audit.Event(r, audit.EventTypeAuthzRoleRevoke, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeUser
	event.ResourceID = userID
	event.Metadata["role_id"] = roleID
	h.log(r, event)

	httputil.WriteNoContent(w)
}

// GetEffectivePermissions returns the resolved role names and permission keys
func (h *Handlers) GetEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}

	effective, err := h.resolver.ResolveEffectivePermissions(r.Context(), userID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, effective)
}

func (h *Handlers) succeed(r *http.Request, eventType audit.EventType, resourceType audit.ResourceType, resourceID string) {
	event := audit.Event(r, eventType, audit.EventStatusSuccess)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	h.log(r, event)
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, eventType audit.EventType, resourceType audit.ResourceType, resourceID string, err error) {
	event := audit.Event(r, eventType, audit.EventStatusFailure)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.ErrorMessage = err.Error()
	h.log(r, event)

	httputil.WriteServiceError(w, err)
}

func (h *Handlers) log(r *http.Request, event *audit.AuditEvent) {
	if err := h.auditLogger.Log(r.Context(), event); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("Failed to write audit event")
	}
}
