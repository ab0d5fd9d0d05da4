package auth

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Handlers serves the login and token lifecycle routes
type Handlers struct {
	coordinator *Coordinator
	auditLogger audit.Logger
}

// NewHandlers creates auth handlers. A nil audit logger discards events.
func NewHandlers(coordinator *Coordinator, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	return &Handlers{coordinator: coordinator, auditLogger: auditLogger}
}

// RegisterRoutes registers the auth routes. None of them require a prior
// authentication middleware.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/login", h.Login).Methods("POST")
	router.HandleFunc("/auth/refresh", h.Refresh).Methods("POST")
	router.HandleFunc("/auth/logout", h.Logout).Methods("POST")
	router.HandleFunc("/auth/introspect", h.Introspect).Methods("POST")
}

type loginRequest struct {
	Identifier     string `json:"identifier" validate:"required,max=255"`
	Password       string `json:"password" validate:"required"`
	OrganizationID string `json:"organizationId,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type tokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// Login exchanges credentials for a token pair
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	pair, err := h.coordinator.Login(r.Context(), LoginRequest{
		Identifier:     req.Identifier,
		Password:       req.Password,
		OrganizationID: req.OrganizationID,
	})
	if err != nil {
		event := audit.Event(r, audit.EventTypeAuthLoginFailed, audit.EventStatusFailure)
		event.ResourceType = audit.ResourceTypeUser
		event.Metadata["identifier"] = req.Identifier
		event.ErrorMessage = err.Error()
		h.log(r, event)

		if !errors.Is(err, apperrors.ErrInvalidCredentials) {
			observability.FromContext(r.Context()).WithError(err).Error("Login failed")
		}
		httputil.WriteServiceError(w, err)
		return
	}

	event := audit.Event(r, audit.EventTypeAuthLogin, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeUser
	event.Metadata["identifier"] = req.Identifier
	h.log(r, event)

	httputil.WriteSuccess(w, pair)
}

// Refresh rotates a refresh token
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	pair, err := h.coordinator.Refresh(r.Context(), req.RefreshToken)
	status := audit.EventStatusSuccess
	if err != nil {
		status = audit.EventStatusFailure
	}
	event := audit.Event(r, audit.EventTypeAuthTokenRefresh, status)
	event.ResourceType = audit.ResourceTypeToken
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	h.log(r, event)

	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, pair)
}

// Logout revokes the bearer access token and every refresh session of its user
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := BearerToken(r)
	if !ok {
		httputil.WriteUnauthorized(w, "Bearer token required")
		return
	}

	if err := h.coordinator.Logout(r.Context(), token); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	event := audit.Event(r, audit.EventTypeAuthLogout, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeToken
	h.log(r, event)

	httputil.WriteNoContent(w)
}

// Introspect returns the claims of a token, or an error with code expired,
// invalid or blacklisted
func (h *Handlers) Introspect(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	claims, err := h.coordinator.Introspect(r.Context(), req.Token)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, claims)
}

func (h *Handlers) log(r *http.Request, event *audit.AuditEvent) {
	if err := h.auditLogger.Log(r.Context(), event); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("Failed to write audit event")
	}
}
