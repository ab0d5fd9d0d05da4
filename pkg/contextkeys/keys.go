// Package contextkeys provides centralized context key definitions
//
// All context keys used across gatekeeper are defined here so packages that
// must not import each other (rbac and auth, for instance) can still share
// request-scoped values.
//
//	ctx = contextkeys.WithClaims(ctx, claims)
//	claims, _ := contextkeys.GetClaims(ctx).(*auth.Claims)
package contextkeys

import (
	"context"
	"time"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ClaimsKey contains *auth.Claims
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: protected admin endpoints, ratelimit.Middleware
	ClaimsKey Key = "claims"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: observability.RequestLoggingMiddleware
	// Used by: logger, audit trail
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user ID string
	// Set by: middleware.AuthMiddleware
	// Used by: rbac.PermissionMiddleware, logger, audit trail
	UserIDKey Key = "user_id"

	// TenantIDKey contains the authenticated tenant ID string
	// Set by: middleware.AuthMiddleware
	TenantIDKey Key = "tenant_id"

	// LoggerKey contains *observability.Logger
	LoggerKey Key = "logger"

	// RequestStartTimeKey contains the request start timestamp
	// Set by: audit.Middleware
	RequestStartTimeKey Key = "request_start_time"
)

// WithClaims adds validated token claims to the context
func WithClaims(ctx context.Context, claims interface{}) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetClaims retrieves the token claims from context, or nil
func GetClaims(ctx context.Context) interface{} {
	return ctx.Value(ClaimsKey)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithTenantID adds tenant ID to the context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithRequestStartTime adds request start time to the context
func WithRequestStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, startTime)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// GetTenantID retrieves tenant ID from context
func GetTenantID(ctx context.Context) string {
	if tenantID, ok := ctx.Value(TenantIDKey).(string); ok {
		return tenantID
	}
	return ""
}

// GetLogger retrieves the raw logger value from context
func GetLogger(ctx context.Context) interface{} {
	return ctx.Value(LoggerKey)
}

// GetRequestStartTime retrieves the request start time, or the zero time
func GetRequestStartTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(RequestStartTimeKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}
