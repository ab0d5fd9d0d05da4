package rbac

import (
	"context"
	"net/http"

	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// PermissionResolver resolves a user's effective permissions
type PermissionResolver interface {
	ResolveEffectivePermissions(ctx context.Context, userID string) (*EffectivePermissions, error)
}

// PermissionMiddleware provides middleware for permission checking.
// It expects the authenticated user id in the request context.
type PermissionMiddleware struct {
	resolver PermissionResolver
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(resolver PermissionResolver) *PermissionMiddleware {
	return &PermissionMiddleware{
		resolver: resolver,
	}
}

// RequirePermission creates middleware that requires a specific permission key
func (pm *PermissionMiddleware) RequirePermission(key string) func(http.Handler) http.Handler {
	return pm.require(func(e *EffectivePermissions) bool {
		return e.HasPermission(key)
	})
}

// RequireAnyPermission creates middleware that requires any of the keys
func (pm *PermissionMiddleware) RequireAnyPermission(keys ...string) func(http.Handler) http.Handler {
	return pm.require(func(e *EffectivePermissions) bool {
		for _, key := range keys {
			if e.HasPermission(key) {
				return true
			}
		}
		return false
	})
}

// RequireRole creates middleware that requires a role by name
func (pm *PermissionMiddleware) RequireRole(name string) func(http.Handler) http.Handler {
	return pm.require(func(e *EffectivePermissions) bool {
		return e.HasRole(name)
	})
}

func (pm *PermissionMiddleware) require(allowed func(*EffectivePermissions) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := contextkeys.GetUserID(r.Context())
			if userID == "" {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			effective, err := pm.resolver.ResolveEffectivePermissions(r.Context(), userID)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Error("Permission check failed")
				httputil.WriteServiceError(w, err)
				return
			}

			if !allowed(effective) {
				httputil.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
