package rbac

import "context"

// SQLUsageChecker implements RoleUsageChecker and PermissionUsageChecker by
// counting the join rows that reference an entity
type SQLUsageChecker struct {
	store *Store
}

// NewSQLUsageChecker creates a usage checker over the store
func NewSQLUsageChecker(store *Store) *SQLUsageChecker {
	return &SQLUsageChecker{store: store}
}

// RoleInUse reports user assignments or permission grants on the role
func (c *SQLUsageChecker) RoleInUse(ctx context.Context, roleID string) (bool, error) {
	n, err := c.store.CountRoleUsage(ctx, roleID)
	return n > 0, err
}

// PermissionInUse reports role grants or live endpoint bindings on the permission
func (c *SQLUsageChecker) PermissionInUse(ctx context.Context, permissionID string) (bool, error) {
	n, err := c.store.CountPermissionUsage(ctx, permissionID)
	return n > 0, err
}
