// Package cli implements gatekeeper-cli, the operator tool that talks to the
// hub's database directly.
//
// # Commands
//
// migrate: apply pending schema migrations
//
//	gatekeeper-cli migrate -database-url postgres://localhost/gatekeeper
//
// bootstrap: seed the built-in roles and create the first admin
//
//	echo "$ADMIN_PASSWORD" | gatekeeper-cli bootstrap \
//		-tenant acme \
//		-org platform \
//		-identifier admin
//
// sync: register a service's endpoints from a manifest, the same way
// POST /api/v1/endpoints/sync does
//
//	gatekeeper-cli sync -f billing.yaml -default-role-policy suffix
//
// snapshot: print the gateway snapshot
//
//	gatekeeper-cli snapshot
//
// hash-password: print a bcrypt hash for seeding users by hand
//
//	gatekeeper-cli hash-password -password -
//
// Database flags default to GATEKEEPER_DB_DRIVER and GATEKEEPER_DATABASE_URL.
package cli
