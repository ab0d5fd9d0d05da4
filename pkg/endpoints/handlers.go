package endpoints

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

// Handlers serves the gateway spec and the endpoint admin routes
type Handlers struct {
	registry    *Registry
	auditLogger audit.Logger
	permissions *rbac.PermissionMiddleware
}

// NewHandlers creates endpoint handlers. A nil audit logger discards events.
func NewHandlers(registry *Registry, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	return &Handlers{
		registry:    registry,
		auditLogger: auditLogger,
	}
}

// WithPermissions guards the routes with the hub endpoint permissions
func (h *Handlers) WithPermissions(pm *rbac.PermissionMiddleware) *Handlers {
	h.permissions = pm
	return h
}

func (h *Handlers) guard(key string, fn http.HandlerFunc) http.Handler {
	if h.permissions == nil {
		return fn
	}
	return h.permissions.RequirePermission(key)(fn)
}

// RegisterRoutes registers the gateway and endpoint admin routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/gateway/spec", h.guard(rbac.PermEndpointRead, h.GetSpec)).Methods("GET")
	router.Handle("/gateway/match", h.guard(rbac.PermEndpointRead, h.MatchEndpoint)).Methods("POST")

	router.Handle("/endpoints/sync", h.guard(rbac.PermEndpointSync, h.SyncEndpoints)).Methods("POST")
	router.Handle("/endpoints", h.guard(rbac.PermEndpointRead, h.ListEndpoints)).Methods("GET")
	router.Handle("/endpoints", h.guard(rbac.PermEndpointWrite, h.CreateEndpoint)).Methods("POST")
	router.Handle("/endpoints/{id}", h.guard(rbac.PermEndpointRead, h.GetEndpoint)).Methods("GET")
	router.Handle("/endpoints/{id}", h.guard(rbac.PermEndpointWrite, h.UpdateEndpoint)).Methods("PUT")
	router.Handle("/endpoints/{id}", h.guard(rbac.PermEndpointWrite, h.DeleteEndpoint)).Methods("DELETE")
}

type syncRequest struct {
	ServiceName string               `json:"serviceName" validate:"required,max=255"`
	Endpoints   []EndpointDescriptor `json:"endpoints" validate:"dive"`
}

type matchRequest struct {
	Path   string `json:"path" validate:"required,startswith=/"`
	Method string `json:"method" validate:"required,http_method"`
}

type matchResponse struct {
	Matched  bool      `json:"matched"`
	Endpoint *Endpoint `json:"endpoint,omitempty"`
}

// GetSpec returns the gateway snapshot. A matching If-None-Match answers 304.
func (h *Handlers) GetSpec(w http.ResponseWriter, r *http.Request) {
	snap, err := h.registry.BuildSpecSnapshot(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	etag := `"` + snap.Version + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, snap.Version) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	httputil.WriteSuccess(w, snap)
}

func etagMatches(header, version string) bool {
	for _, tag := range strings.Split(header, ",") {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
		if tag == "*" || strings.Trim(tag, `"`) == version {
			return true
		}
	}
	return false
}

// MatchEndpoint resolves a concrete request to its endpoint binding
func (h *Handlers) MatchEndpoint(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	ep, err := h.registry.Match(r.Context(), req.Path, req.Method)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, matchResponse{Matched: ep != nil, Endpoint: ep})
}

// SyncEndpoints registers every endpoint a service declares
func (h *Handlers) SyncEndpoints(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.registry.SyncEndpoints(r.Context(), req.ServiceName, req.Endpoints)
	if err != nil {
		h.fail(w, r, audit.EventTypeAdminEndpointSync, audit.ResourceTypeService, req.ServiceName, err)
		return
	}

	event := audit.Event(r, audit.EventTypeAdminEndpointSync, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeService
	event.ResourceID = req.ServiceName
	event.Metadata["created_endpoints"] = result.CreatedEndpoints
	event.Metadata["created_permissions"] = result.CreatedPermissions
	event.Metadata["mapped_role_permissions"] = result.MappedRolePermissions
	h.log(r, event)

	httputil.WriteSuccess(w, result)
}

// ListEndpoints lists live endpoints, filtered by ?service=
func (h *Handlers) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	eps, err := h.registry.ListEndpoints(r.Context(), httputil.ParseQueryString(r, "service", ""))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, eps)
}

// CreateEndpoint registers a single endpoint
func (h *Handlers) CreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req CreateEndpointRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	ep, err := h.registry.CreateEndpoint(r.Context(), req)
	if err != nil {
		h.fail(w, r, audit.EventTypeAdminEndpointCreate, audit.ResourceTypeEndpoint, "", err)
		return
	}

	h.succeed(r, audit.EventTypeAdminEndpointCreate, ep.ID)
	httputil.WriteCreated(w, ep)
}

// GetEndpoint returns one live endpoint
func (h *Handlers) GetEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	ep, err := h.registry.GetEndpoint(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, ep)
}

// UpdateEndpoint changes the permission, description or public flag
func (h *Handlers) UpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req UpdateEndpointRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	ep, err := h.registry.UpdateEndpoint(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, audit.EventTypeAdminEndpointUpdate, audit.ResourceTypeEndpoint, id, err)
		return
	}

	h.succeed(r, audit.EventTypeAdminEndpointUpdate, id)
	httputil.WriteSuccess(w, ep)
}

// DeleteEndpoint soft-deletes an endpoint
func (h *Handlers) DeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.registry.DeleteEndpoint(r.Context(), id); err != nil {
		h.fail(w, r, audit.EventTypeAdminEndpointDelete, audit.ResourceTypeEndpoint, id, err)
		return
	}

	h.succeed(r, audit.EventTypeAdminEndpointDelete, id)
	httputil.WriteNoContent(w)
}

func (h *Handlers) succeed(r *http.Request, eventType audit.EventType, id string) {
	event := audit.Event(r, eventType, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeEndpoint
	event.ResourceID = id
	h.log(r, event)
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, eventType audit.EventType, resourceType audit.ResourceType, id string, err error) {
	event := audit.Event(r, eventType, audit.EventStatusFailure)
	event.ResourceType = resourceType
	event.ResourceID = id
	event.ErrorMessage = err.Error()
	h.log(r, event)

	httputil.WriteServiceError(w, err)
}

func (h *Handlers) log(r *http.Request, event *audit.AuditEvent) {
	if err := h.auditLogger.Log(r.Context(), event); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("Failed to write audit event")
	}
}
