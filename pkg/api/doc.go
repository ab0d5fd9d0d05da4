// Package api assembles the gatekeeper HTTP surface.
//
// The public routes are the login flow:
//
//	POST /auth/login
//	POST /auth/refresh
//	POST /auth/logout
//	POST /auth/introspect
//
// Everything under /api/v1 needs a bearer access token and the matching
// permission: RBAC administration (/api/v1/rbac/...), the endpoint registry
// (/api/v1/endpoints/...), the gateway snapshot and matcher
// (/api/v1/gateway/spec, /api/v1/gateway/match) and rate limit counters
// (/api/v1/ratelimit).
//
// Health probes and Prometheus metrics are served by NewHealthRouter on a
// separate port.
package api
