// Package middleware provides HTTP authentication middleware.
//
// AuthMiddleware validates "Authorization: Bearer <access token>" headers
// against the token issuer and stores the claims, user id and tenant id in
// the request context:
//
//	authn := middleware.NewAuthMiddleware(issuer, false)
//	router.Use(authn.Handler)
//
// Downstream handlers read them back with GetClaims or contextkeys.
// Authorization on top of authentication lives in pkg/rbac, rate limiting in
// pkg/ratelimit.
package middleware
