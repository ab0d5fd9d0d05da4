// Package rbac provides role-based access control for gatekeeper.
//
// # Overview
//
// Users hold roles; roles are granted permissions; a permission is a
// "resource:action" key such as "orders:read". The Resolver turns a user id
// into the deduplicated set of role names and permission keys the user holds,
// with no scope filtering at read time.
//
// # Scopes
//
// A role is GLOBAL, TENANT, ORGANIZATION or SERVICE. Scope decides which of
// tenant and service must be set:
//
//	GLOBAL         - neither
//	TENANT         - tenant only
//	ORGANIZATION   - tenant only
//	SERVICE        - tenant and service
//
// Role names are unique within (tenant, service).
//
// # SYSTEM entities
//
// Roles and permissions of type SYSTEM are seeded by InitializeBuiltIns and
// cannot be modified or deleted. The built-in GLOBAL role "gatekeeper:admin"
// holds every hub permission.
//
// # Usage
//
//	manager := rbac.NewManager(db, identityStore, auditLogger, rbac.DefaultConfig())
//	if err := manager.Initialize(ctx); err != nil {
//		return err
//	}
//	manager.RegisterRoutes(router)
//
//	effective, err := manager.GetResolver().ResolveEffectivePermissions(ctx, userID)
//	if effective.HasPermission("orders:read") {
//		// ...
//	}
//
// # Grants
//
// GrantRolePermissions only writes the delta: ids already granted and
// duplicates in the input are dropped, and an empty delta performs no writes.
//
// # Caching
//
// With a positive CacheTTL the resolver caches effective permissions per
// user. Assignments invalidate the user's entry; grant changes and deletes
// purge the whole cache.
//
// # Middleware
//
//	pm := rbac.NewPermissionMiddleware(resolver)
//	router.Handle("/rbac/roles", pm.RequirePermission(rbac.PermRoleWrite)(handler))
//
// The middleware reads the user id placed in the context by the bearer token
// middleware and answers 401 when none is present.
package rbac
