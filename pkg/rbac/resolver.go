package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
	"golang.org/x/sync/errgroup"
)

var (
	ErrSystemRoleNotModifiable       = fmt.Errorf("%w: system role cannot be modified", apperrors.ErrForbidden)
	ErrSystemRoleNotDeletable        = fmt.Errorf("%w: system role cannot be deleted", apperrors.ErrForbidden)
	ErrSystemPermissionNotModifiable = fmt.Errorf("%w: system permission cannot be modified", apperrors.ErrForbidden)
	ErrSystemPermissionNotDeletable  = fmt.Errorf("%w: system permission cannot be deleted", apperrors.ErrForbidden)
	ErrRoleInUse                     = fmt.Errorf("%w: role is in use", apperrors.ErrConflict)
	ErrPermissionInUse               = fmt.Errorf("%w: permission is in use", apperrors.ErrConflict)
	ErrDuplicateUserRole             = fmt.Errorf("%w: role already assigned to user", apperrors.ErrConflict)
	ErrRoleOutsideUserTenant         = fmt.Errorf("%w: role belongs to another tenant", apperrors.ErrForbidden)
)

// RoleUsageChecker reports whether anything still references a role
type RoleUsageChecker interface {
	RoleInUse(ctx context.Context, roleID string) (bool, error)
}

// PermissionUsageChecker reports whether anything still references a permission
type PermissionUsageChecker interface {
	PermissionInUse(ctx context.Context, permissionID string) (bool, error)
}

// UserDirectory resolves the tenant of a user for assignments. Unknown users
// are NotFound.
type UserDirectory interface {
	UserTenant(ctx context.Context, userID string) (string, error)
}

// ResolverConfig wires the optional collaborators of a Resolver.
// Nil usage checkers allow every delete. A nil Users directory skips the
// user existence and tenant checks.
type ResolverConfig struct {
	RoleUsage       RoleUsageChecker
	PermissionUsage PermissionUsageChecker
	Users           UserDirectory

	// CacheTTL enables the effective-permission cache when positive
	CacheTTL  time.Duration
	CacheSize int
}

// Resolver computes effective permissions and guards RBAC mutations
type Resolver struct {
	store           *Store
	roleUsage       RoleUsageChecker
	permissionUsage PermissionUsageChecker
	users           UserDirectory
	cache           *lru.LRU[string, EffectivePermissions]
}

// NewResolver creates a resolver over the store
func NewResolver(store *Store, config ResolverConfig) *Resolver {
	r := &Resolver{
		store:           store,
		roleUsage:       config.RoleUsage,
		permissionUsage: config.PermissionUsage,
		users:           config.Users,
	}
	if config.CacheTTL > 0 {
		size := config.CacheSize
		if size <= 0 {
			size = 10000
		}
		r.cache = lru.NewLRU[string, EffectivePermissions](size, nil, config.CacheTTL)
	}
	return r
}

// ResolveEffectivePermissions returns the deduplicated, sorted role names and
// permission keys of every role assigned to the user. Role scope is not
// applied here; it is enforced when roles are assigned.
func (r *Resolver) ResolveEffectivePermissions(ctx context.Context, userID string) (*EffectivePermissions, error) {
	if r.cache != nil {
		if cached, ok := r.cache.Get(userID); ok {
			return copyEffective(cached), nil
		}
	}

	userRoles, err := r.store.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}

	roleIDs := make([]string, 0, len(userRoles))
	for _, ur := range userRoles {
		roleIDs = append(roleIDs, ur.RoleID)
	}

	var roles []Role
	var keys []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		roles, err = r.store.GetRolesByIDs(gctx, roleIDs)
		return err
	})
	g.Go(func() error {
		var err error
		keys, err = r.store.ListPermissionKeysForRoles(gctx, roleIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}

	effective := EffectivePermissions{
		RoleNames:      sortedSet(names),
		PermissionKeys: sortedSet(keys),
	}
	if r.cache != nil {
		r.cache.Add(userID, effective)
	}
	return copyEffective(effective), nil
}

// CreateRole validates and stores a new role
func (r *Resolver) CreateRole(ctx context.Context, role *Role) error {
	if err := role.Validate(); err != nil {
		return err
	}
	if err := r.store.CreateRole(ctx, role); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return apperrors.Conflict("role %q already exists in this scope", role.Name)
		}
		return err
	}
	return nil
}

// GetRole returns a role by id
func (r *Resolver) GetRole(ctx context.Context, roleID string) (*Role, error) {
	return r.store.GetRole(ctx, roleID)
}

// FindGlobalRoleByName returns the GLOBAL role with the name
func (r *Resolver) FindGlobalRoleByName(ctx context.Context, name string) (*Role, error) {
	return r.store.FindGlobalRoleByName(ctx, name)
}

// ListRoles lists roles matching the filter
func (r *Resolver) ListRoles(ctx context.Context, filter RoleFilter) ([]Role, error) {
	return r.store.ListRoles(ctx, filter)
}

// UpdateRole applies req to a CUSTOM role
func (r *Resolver) UpdateRole(ctx context.Context, roleID string, req UpdateRoleRequest) (*Role, error) {
	role, err := r.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsSystem() {
		return nil, ErrSystemRoleNotModifiable
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperrors.InvalidInput("role name is required")
		}
		role.Name = name
	}
	if req.Description != nil {
		role.Description = *req.Description
	}

	if err := r.store.UpdateRole(ctx, role); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, apperrors.Conflict("role %q already exists in this scope", role.Name)
		}
		return nil, err
	}
	r.purgeCache()
	return role, nil
}

// DeleteRole removes a CUSTOM role that is not in use
func (r *Resolver) DeleteRole(ctx context.Context, roleID string) error {
	role, err := r.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem() {
		return ErrSystemRoleNotDeletable
	}

	if r.roleUsage != nil {
		inUse, err := r.roleUsage.RoleInUse(ctx, roleID)
		if err != nil {
			return err
		}
		if inUse {
			return ErrRoleInUse
		}
	}

	if err := r.store.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	r.purgeCache()
	return nil
}

// CreatePermission normalizes and stores a permission
func (r *Resolver) CreatePermission(ctx context.Context, perm *Permission) error {
	if err := perm.Normalize(); err != nil {
		return err
	}
	if err := r.store.CreatePermission(ctx, perm); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return apperrors.Conflict("permission %q already exists", perm.Key)
		}
		return err
	}
	return nil
}

// GetPermission returns a permission by id
func (r *Resolver) GetPermission(ctx context.Context, id string) (*Permission, error) {
	return r.store.GetPermission(ctx, id)
}

// GetPermissionByKey returns a permission by its resource:action key
func (r *Resolver) GetPermissionByKey(ctx context.Context, key string) (*Permission, error) {
	return r.store.GetPermissionByKey(ctx, key)
}

// ListPermissions lists every permission
func (r *Resolver) ListPermissions(ctx context.Context) ([]Permission, error) {
	return r.store.ListPermissions(ctx)
}

// UpdatePermission applies req to a CUSTOM permission. The key is immutable.
func (r *Resolver) UpdatePermission(ctx context.Context, id string, req UpdatePermissionRequest) (*Permission, error) {
	perm, err := r.store.GetPermission(ctx, id)
	if err != nil {
		return nil, err
	}
	if perm.IsSystem() {
		return nil, ErrSystemPermissionNotModifiable
	}
	if req.Description != nil {
		perm.Description = *req.Description
	}
	if err := r.store.UpdatePermission(ctx, perm); err != nil {
		return nil, err
	}
	return perm, nil
}

// DeletePermission removes a CUSTOM permission that is not in use
func (r *Resolver) DeletePermission(ctx context.Context, id string) error {
	perm, err := r.store.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if perm.IsSystem() {
		return ErrSystemPermissionNotDeletable
	}

	if r.permissionUsage != nil {
		inUse, err := r.permissionUsage.PermissionInUse(ctx, id)
		if err != nil {
			return err
		}
		if inUse {
			return ErrPermissionInUse
		}
	}

	if err := r.store.DeletePermission(ctx, id); err != nil {
		return err
	}
	r.purgeCache()
	return nil
}

// GrantRolePermissions grants the permissions that the role does not hold
// yet and returns only the grants it created. Empty input and fully granted
// sets are no-ops that write nothing.
func (r *Resolver) GrantRolePermissions(ctx context.Context, roleID string, permissionIDs []string) ([]RolePermission, error) {
	if len(permissionIDs) == 0 {
		return []RolePermission{}, nil
	}

	if _, err := r.store.GetRole(ctx, roleID); err != nil {
		return nil, err
	}

	requested := uniqueStrings(permissionIDs)
	perms, err := r.store.GetPermissionsByIDs(ctx, requested)
	if err != nil {
		return nil, err
	}
	for _, id := range requested {
		if _, ok := perms[id]; !ok {
			return nil, apperrors.NotFound("permission %s", id)
		}
	}

	granted, err := r.store.ListRolePermissionIDs(ctx, roleID)
	if err != nil {
		return nil, err
	}
	held := make(map[string]struct{}, len(granted))
	for _, id := range granted {
		held[id] = struct{}{}
	}

	var delta []string
	for _, id := range requested {
		if _, ok := held[id]; !ok {
			delta = append(delta, id)
		}
	}
	if len(delta) == 0 {
		return []RolePermission{}, nil
	}

	created, err := r.store.InsertRolePermissions(ctx, roleID, delta)
	if err != nil {
		return nil, err
	}
	r.purgeCache()
	return created, nil
}

// RevokeRolePermission removes a single grant
func (r *Resolver) RevokeRolePermission(ctx context.Context, roleID, permissionID string) error {
	if err := r.store.DeleteRolePermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	r.purgeCache()
	return nil
}

// ListRolePermissions returns the permissions granted to a role ordered by key
func (r *Resolver) ListRolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	if _, err := r.store.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	ids, err := r.store.ListRolePermissionIDs(ctx, roleID)
	if err != nil {
		return nil, err
	}
	byID, err := r.store.GetPermissionsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	perms := make([]Permission, 0, len(byID))
	for _, p := range byID {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Key < perms[j].Key })
	return perms, nil
}

// AssignUserRole assigns an existing role to an existing user. Roles bound
// to a tenant can only be assigned to users of that tenant; GLOBAL roles go
// to anyone.
func (r *Resolver) AssignUserRole(ctx context.Context, userID, roleID string) (*UserRole, error) {
	var userTenant string
	if r.users != nil {
		tenantID, err := r.users.UserTenant(ctx, userID)
		if err != nil {
			return nil, err
		}
		userTenant = tenantID
	}
	role, err := r.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if r.users != nil && role.TenantID != nil && *role.TenantID != userTenant {
		return nil, fmt.Errorf("%w: role %s user %s", ErrRoleOutsideUserTenant, roleID, userID)
	}

	userRole := &UserRole{UserID: userID, RoleID: roleID}
	if err := r.store.InsertUserRole(ctx, userRole); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, fmt.Errorf("%w: user %s role %s", ErrDuplicateUserRole, userID, roleID)
		}
		return nil, err
	}
	r.invalidate(userID)
	return userRole, nil
}

// RevokeUserRole hard-deletes an assignment
func (r *Resolver) RevokeUserRole(ctx context.Context, userID, roleID string) error {
	if err := r.store.DeleteUserRole(ctx, userID, roleID); err != nil {
		return err
	}
	r.invalidate(userID)
	return nil
}

// ListUserRoles returns the roles assigned to a user
func (r *Resolver) ListUserRoles(ctx context.Context, userID string) ([]Role, error) {
	userRoles, err := r.store.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(userRoles))
	for _, ur := range userRoles {
		ids = append(ids, ur.RoleID)
	}
	return r.store.GetRolesByIDs(ctx, ids)
}

// RoleNamesByPermission maps permission id to the sorted names of roles granting it
func (r *Resolver) RoleNamesByPermission(ctx context.Context) (map[string][]string, error) {
	return r.store.ListRoleNamesForPermissions(ctx)
}

// InitializeBuiltIns seeds the SYSTEM permissions and roles and grants every
// built-in permission to the hub admin role. Safe to run on every start.
func (r *Resolver) InitializeBuiltIns(ctx context.Context) error {
	var permIDs []string
	for _, builtIn := range BuiltInPermissions() {
		perm := builtIn
		existing, err := r.store.GetPermissionByKey(ctx, perm.Key)
		switch {
		case err == nil:
			permIDs = append(permIDs, existing.ID)
			continue
		case !errors.Is(err, apperrors.ErrNotFound):
			return err
		}
		if err := r.store.CreatePermission(ctx, &perm); err != nil {
			return fmt.Errorf("failed to create built-in permission %s: %w", perm.Key, err)
		}
		permIDs = append(permIDs, perm.ID)
	}

	for _, builtIn := range BuiltInRoles() {
		role := builtIn
		existing, err := r.store.GetRoleByName(ctx, role.Name, role.TenantID, role.ServiceID)
		switch {
		case err == nil:
			role = *existing
		case errors.Is(err, apperrors.ErrNotFound):
			if err := r.store.CreateRole(ctx, &role); err != nil {
				return fmt.Errorf("failed to create built-in role %s: %w", role.Name, err)
			}
		default:
			return err
		}

		if role.Name == RoleHubAdmin {
			if _, err := r.GrantRolePermissions(ctx, role.ID, permIDs); err != nil {
				return fmt.Errorf("failed to grant built-in permissions: %w", err)
			}
		}
	}
	return nil
}

func (r *Resolver) invalidate(userID string) {
	if r.cache != nil {
		r.cache.Remove(userID)
	}
}

func (r *Resolver) purgeCache() {
	if r.cache != nil {
		r.cache.Purge()
	}
}

func copyEffective(e EffectivePermissions) *EffectivePermissions {
	return &EffectivePermissions{
		RoleNames:      append([]string{}, e.RoleNames...),
		PermissionKeys: append([]string{}, e.PermissionKeys...),
	}
}

func sortedSet(values []string) []string {
	out := uniqueStrings(values)
	sort.Strings(out)
	return out
}

// uniqueStrings drops duplicates, keeping first-seen order
func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
