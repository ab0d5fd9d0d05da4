package ratelimit

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

// Handlers serves the rate limit admin routes
type Handlers struct {
	limiter     *Limiter
	auditLogger audit.Logger
	permissions *rbac.PermissionMiddleware
}

// NewHandlers creates rate limit admin handlers
func NewHandlers(limiter *Limiter, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	return &Handlers{limiter: limiter, auditLogger: auditLogger}
}

// WithPermissions guards every route with rbac.PermRateLimitAdmin
func (h *Handlers) WithPermissions(pm *rbac.PermissionMiddleware) *Handlers {
	h.permissions = pm
	return h
}

// RegisterRoutes registers the admin routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/ratelimit/check", h.guard(h.Check)).Methods("POST")
	router.Handle("/ratelimit", h.guard(h.Reset)).Methods("DELETE")
}

func (h *Handlers) guard(fn http.HandlerFunc) http.Handler {
	if h.permissions == nil {
		return fn
	}
	return h.permissions.RequirePermission(rbac.PermRateLimitAdmin)(fn)
}

type counterRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Endpoint   string `json:"endpoint" validate:"required"`
	Type       string `json:"type" validate:"required"`
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request) (*counterRequest, Type, bool) {
	var req counterRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return nil, "", false
	}
	t, err := ParseType(req.Type)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return nil, "", false
	}
	return &req, t, true
}

// Check returns the status of one counter without changing it
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	req, t, ok := h.decode(w, r)
	if !ok {
		return
	}

	status, err := h.limiter.Check(r.Context(), req.Identifier, req.Endpoint, t)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, status)
}

// Reset deletes one counter
func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	req, t, ok := h.decode(w, r)
	if !ok {
		return
	}

	if err := h.limiter.Reset(r.Context(), req.Identifier, req.Endpoint, t); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	event := audit.Event(r, audit.EventTypeAdminRateLimitReset, audit.EventStatusSuccess)
	event.UserID = contextkeys.GetUserID(r.Context())
	event.ResourceType = audit.ResourceTypeRateLimit
	event.ResourceID = Key(t, req.Identifier, req.Endpoint)
	if err := h.auditLogger.Log(r.Context(), event); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("Failed to write audit event")
	}

	httputil.WriteNoContent(w)
}
