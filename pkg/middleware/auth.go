package middleware

import (
	"context"
	"net/http"

	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// TokenValidator validates access tokens
type TokenValidator interface {
	ValidateAccess(ctx context.Context, token string) (*auth.Claims, error)
}

// AuthMiddleware provides bearer token authentication
type AuthMiddleware struct {
	validator TokenValidator
	optional  bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(validator TokenValidator, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		optional:  optional,
	}
}

// Handler wraps an HTTP handler with authentication. On success the claims,
// user id and tenant id are stored in the request context.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		token, ok := auth.BearerToken(r)
		if !ok {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		claims, err := m.validator.ValidateAccess(r.Context(), token)
		if err != nil {
			if apperrors.IsTransient(err) {
				observability.FromContext(r.Context()).WithError(err).Error("Token validation unavailable")
				httputil.WriteServiceError(w, err)
				return
			}
			httputil.WriteErrorCode(w, http.StatusUnauthorized, apperrors.Code(err), "invalid or expired token")
			return
		}

		ctx := contextkeys.WithClaims(r.Context(), claims)
		ctx = contextkeys.WithUserID(ctx, claims.Subject)
		ctx = contextkeys.WithTenantID(ctx, claims.TenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims extracts the validated claims from the request, or nil
func GetClaims(r *http.Request) *auth.Claims {
	claims, _ := contextkeys.GetClaims(r.Context()).(*auth.Claims)
	return claims
}
