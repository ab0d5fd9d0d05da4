// Package endpoints maps API endpoints to the permissions required to call
// them and publishes that mapping to the gateway.
//
// An endpoint is a (path pattern, HTTP method) pair bound to one permission.
// Patterns are slash separated; a segment is a literal, a {name} variable
// matching exactly one non-empty segment, or a trailing ** matching any
// suffix:
//
//	/orders/{id}          matches /orders/42
//	/orders/{id}/items/** matches /orders/42/items and /orders/42/items/7/notes
//
// When several patterns match, the most specific wins: fewer **, then fewer
// variables, then more literals, then the longer pattern.
//
// # Sync
//
// Services register their endpoints in bulk with Registry.SyncEndpoints, or
// through gatekeeper-cli from a YAML manifest:
//
//	service: orders
//	endpoints:
//	  - method: GET
//	    path: /orders/{id}
//	    permission: order:read
//
// Missing permissions are created and, when a DefaultRolePolicy names a role
// for the service, granted to it. Syncing the same manifest twice writes
// nothing.
//
// # Snapshot
//
// GET /gateway/spec returns every live endpoint with its required permission
// and the names of the roles holding it. The version is a revision counter
// that every endpoint, permission, grant, revoke and role rename or delete
// advances in the same transaction, so a gateway can poll with If-None-Match
// and receive 304 while nothing moved.
package endpoints
