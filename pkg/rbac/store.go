package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// Store handles RBAC data persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const roleColumns = `id, name, description, scope, tenant_id, service_id, type, created_at, updated_at`

// CreateRole inserts a role. Validation is the caller's job.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (id, name, description, scope, tenant_id, service_id, type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, role.ID, role.Name, role.Description, string(role.Scope), nullString(role.TenantID),
		nullString(role.ServiceID), string(role.Type), now, now)
	if err != nil {
		return storage.Classify("create role", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, roleID string) (*Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, roleID))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("role %s", roleID)
	}
	if err != nil {
		return nil, storage.Classify("get role", err)
	}
	return role, nil
}

// GetRoleByName retrieves a role by name inside a (tenant, service) scope.
// Nil tenant or service match only roles where that column is NULL.
func (s *Store) GetRoleByName(ctx context.Context, name string, tenantID, serviceID *string) (*Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx, `
		SELECT `+roleColumns+`
		FROM roles
		WHERE name = $1 AND COALESCE(tenant_id, '') = $2 AND COALESCE(service_id, '') = $3
	`, name, deref(tenantID), deref(serviceID)))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("role %s", name)
	}
	if err != nil {
		return nil, storage.Classify("get role by name", err)
	}
	return role, nil
}

// FindGlobalRoleByName returns the GLOBAL role with the name. Tenant,
// organization and service roles sharing the name are never returned.
func (s *Store) FindGlobalRoleByName(ctx context.Context, name string) (*Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx, `
		SELECT `+roleColumns+` FROM roles WHERE name = $1 AND scope = $2 ORDER BY created_at ASC, id ASC LIMIT 1
	`, name, string(ScopeGlobal)))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("role %s", name)
	}
	if err != nil {
		return nil, storage.Classify("find role", err)
	}
	return role, nil
}

// ListRoles lists roles matching the filter, ordered by name
func (s *Store) ListRoles(ctx context.Context, filter RoleFilter) ([]Role, error) {
	var conditions []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.Scope != "" {
		add("scope = $%d", string(filter.Scope))
	}
	if filter.TenantID != "" {
		add("tenant_id = $%d", filter.TenantID)
	}
	if filter.ServiceID != "" {
		add("service_id = $%d", filter.ServiceID)
	}

	query := `SELECT ` + roleColumns + ` FROM roles`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY name ASC, id ASC`

	return s.queryRoles(ctx, "list roles", query, args...)
}

// GetRolesByIDs loads the given roles. Missing ids are silently skipped.
func (s *Store) GetRolesByIDs(ctx context.Context, ids []string) ([]Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(ids, 1)
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id IN (` + placeholders + `) ORDER BY name ASC`
	return s.queryRoles(ctx, "get roles", query, args...)
}

func (s *Store) queryRoles(ctx context.Context, op, query string, args ...interface{}) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Classify(op, err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, storage.Classify(op, err)
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Classify(op, err)
	}
	return roles, nil
}

// UpdateRole persists name and description of a role. Role names appear in
// the spec snapshot, so the spec revision moves with them.
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	now := time.Now().UTC()
	err := s.specChange(ctx, "update role", now, func(tx *sql.Tx) error {
		return execOne(ctx, tx, "update role", apperrors.NotFound("role %s", role.ID), `
			UPDATE roles SET name = $1, description = $2, updated_at = $3 WHERE id = $4
		`, role.Name, role.Description, now, role.ID)
	})
	if err != nil {
		return err
	}
	role.UpdatedAt = now
	return nil
}

// DeleteRole hard-deletes a role. Join rows cascade.
func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	return s.specChange(ctx, "delete role", time.Now().UTC(), func(tx *sql.Tx) error {
		return execOne(ctx, tx, "delete role", apperrors.NotFound("role %s", roleID),
			`DELETE FROM roles WHERE id = $1`, roleID)
	})
}

// specChange runs fn and bumps the spec revision in one transaction
func (s *Store) specChange(ctx context.Context, op string, now time.Time, fn func(tx *sql.Tx) error) error {
	return storage.InTx(ctx, s.db, op, func(tx *sql.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return storage.BumpSpecRevision(ctx, tx, now)
	})
}

const permissionColumns = `id, perm_key, resource, action, description, type, created_at, updated_at`

// CreatePermission inserts a permission
func (s *Store) CreatePermission(ctx context.Context, perm *Permission) error {
	if perm.ID == "" {
		perm.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (id, perm_key, resource, action, description, type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, perm.ID, perm.Key, perm.Resource, perm.Action, perm.Description, string(perm.Type), now, now)
	if err != nil {
		return storage.Classify("create permission", err)
	}

	perm.CreatedAt = now
	perm.UpdatedAt = now
	return nil
}

// GetPermission retrieves a permission by ID
func (s *Store) GetPermission(ctx context.Context, id string) (*Permission, error) {
	perm, err := scanPermission(s.db.QueryRowContext(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("permission %s", id)
	}
	if err != nil {
		return nil, storage.Classify("get permission", err)
	}
	return perm, nil
}

// GetPermissionByKey retrieves a permission by its resource:action key
func (s *Store) GetPermissionByKey(ctx context.Context, key string) (*Permission, error) {
	perm, err := scanPermission(s.db.QueryRowContext(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE perm_key = $1`, key))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("permission %s", key)
	}
	if err != nil {
		return nil, storage.Classify("get permission by key", err)
	}
	return perm, nil
}

// ListPermissions lists all permissions ordered by key
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.queryPermissions(ctx, "list permissions", `SELECT `+permissionColumns+` FROM permissions ORDER BY perm_key ASC`)
}

// GetPermissionsByIDs loads the given permissions keyed by id.
// Missing ids are absent from the map.
func (s *Store) GetPermissionsByIDs(ctx context.Context, ids []string) (map[string]Permission, error) {
	result := make(map[string]Permission, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	placeholders, args := inClause(ids, 1)
	perms, err := s.queryPermissions(ctx, "get permissions",
		`SELECT `+permissionColumns+` FROM permissions WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	for _, p := range perms {
		result[p.ID] = p
	}
	return result, nil
}

func (s *Store) queryPermissions(ctx context.Context, op, query string, args ...interface{}) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Classify(op, err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, storage.Classify(op, err)
		}
		perms = append(perms, *perm)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Classify(op, err)
	}
	return perms, nil
}

// UpdatePermission persists the description of a permission
func (s *Store) UpdatePermission(ctx context.Context, perm *Permission) error {
	now := time.Now().UTC()
	err := s.specChange(ctx, "update permission", now, func(tx *sql.Tx) error {
		return execOne(ctx, tx, "update permission", apperrors.NotFound("permission %s", perm.ID), `
			UPDATE permissions SET description = $1, updated_at = $2 WHERE id = $3
		`, perm.Description, now, perm.ID)
	})
	if err != nil {
		return err
	}
	perm.UpdatedAt = now
	return nil
}

// DeletePermission hard-deletes a permission. Grants and endpoint bindings cascade.
func (s *Store) DeletePermission(ctx context.Context, id string) error {
	return s.specChange(ctx, "delete permission", time.Now().UTC(), func(tx *sql.Tx) error {
		return execOne(ctx, tx, "delete permission", apperrors.NotFound("permission %s", id),
			`DELETE FROM permissions WHERE id = $1`, id)
	})
}

// ListRolePermissionIDs returns the ids of permissions granted to a role
func (s *Store) ListRolePermissionIDs(ctx context.Context, roleID string) ([]string, error) {
	return s.queryStrings(ctx, "list role permissions",
		`SELECT permission_id FROM role_permissions WHERE role_id = $1 ORDER BY permission_id`, roleID)
}

// InsertRolePermissions writes the grants in a single transaction
func (s *Store) InsertRolePermissions(ctx context.Context, roleID string, permissionIDs []string) ([]RolePermission, error) {
	now := time.Now().UTC()
	grants := make([]RolePermission, 0, len(permissionIDs))
	err := s.specChange(ctx, "grant", now, func(tx *sql.Tx) error {
		for _, permID := range permissionIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO role_permissions (role_id, permission_id, created_at) VALUES ($1, $2, $3)
			`, roleID, permID, now)
			if err != nil {
				return storage.Classify("insert role permission", err)
			}
			grants = append(grants, RolePermission{RoleID: roleID, PermissionID: permID, CreatedAt: now})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return grants, nil
}

// DeleteRolePermission removes a single grant
func (s *Store) DeleteRolePermission(ctx context.Context, roleID, permissionID string) error {
	return s.specChange(ctx, "revoke role permission", time.Now().UTC(), func(tx *sql.Tx) error {
		return execOne(ctx, tx, "delete role permission",
			apperrors.NotFound("permission %s is not granted to role %s", permissionID, roleID),
			`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	})
}

// ListPermissionKeysForRoles returns the distinct permission keys granted to any of the roles
func (s *Store) ListPermissionKeysForRoles(ctx context.Context, roleIDs []string) ([]string, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(roleIDs, 1)
	return s.queryStrings(ctx, "list permission keys", `
		SELECT DISTINCT p.perm_key
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id IN (`+placeholders+`)
		ORDER BY p.perm_key
	`, args...)
}

// ListRoleNamesForPermissions maps permission id to the names of roles holding it
func (s *Store) ListRoleNamesForPermissions(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rp.permission_id, r.name
		FROM role_permissions rp
		JOIN roles r ON r.id = rp.role_id
		ORDER BY rp.permission_id, r.name
	`)
	if err != nil {
		return nil, storage.Classify("list role names", err)
	}
	defer rows.Close()

	result := make(map[string][]string)
	for rows.Next() {
		var permID, name string
		if err := rows.Scan(&permID, &name); err != nil {
			return nil, storage.Classify("list role names", err)
		}
		result[permID] = append(result[permID], name)
	}
	return result, storage.Classify("list role names", rows.Err())
}

// InsertUserRole assigns a role to a user
func (s *Store) InsertUserRole(ctx context.Context, userRole *UserRole) error {
	userRole.AssignedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id, assigned_at) VALUES ($1, $2, $3)
	`, userRole.UserID, userRole.RoleID, userRole.AssignedAt)
	return storage.Classify("assign user role", err)
}

// DeleteUserRole hard-deletes an assignment
func (s *Store) DeleteUserRole(ctx context.Context, userID, roleID string) error {
	return execOne(ctx, s.db, "revoke user role",
		apperrors.NotFound("role %s is not assigned to user %s", roleID, userID),
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
}

// ListUserRoles returns every assignment of a user
func (s *Store) ListUserRoles(ctx context.Context, userID string) ([]UserRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, role_id, assigned_at FROM user_roles WHERE user_id = $1 ORDER BY assigned_at, role_id
	`, userID)
	if err != nil {
		return nil, storage.Classify("list user roles", err)
	}
	defer rows.Close()

	var userRoles []UserRole
	for rows.Next() {
		var ur UserRole
		if err := rows.Scan(&ur.UserID, &ur.RoleID, &ur.AssignedAt); err != nil {
			return nil, storage.Classify("list user roles", err)
		}
		userRoles = append(userRoles, ur)
	}
	return userRoles, storage.Classify("list user roles", rows.Err())
}

// CountRoleUsage counts user assignments and permission grants referencing a role
func (s *Store) CountRoleUsage(ctx context.Context, roleID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM user_roles WHERE role_id = $1)
		     + (SELECT COUNT(*) FROM role_permissions WHERE role_id = $1)
	`, roleID).Scan(&count)
	if err != nil {
		return 0, storage.Classify("count role usage", err)
	}
	return count, nil
}

// CountPermissionUsage counts grants and live endpoint bindings referencing a permission
func (s *Store) CountPermissionUsage(ctx context.Context, permissionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM role_permissions WHERE permission_id = $1)
		     + (SELECT COUNT(*) FROM permission_endpoints WHERE permission_id = $1 AND deleted_at IS NULL)
	`, permissionID).Scan(&count)
	if err != nil {
		return 0, storage.Classify("count permission usage", err)
	}
	return count, nil
}

func (s *Store) queryStrings(ctx context.Context, op, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Classify(op, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, storage.Classify(op, err)
		}
		values = append(values, v)
	}
	return values, storage.Classify(op, rows.Err())
}

func scanRole(scanner interface {
	Scan(dest ...interface{}) error
}) (*Role, error) {
	var role Role
	var scope, roleType string
	var tenantID, serviceID sql.NullString

	err := scanner.Scan(&role.ID, &role.Name, &role.Description, &scope, &tenantID, &serviceID,
		&roleType, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, err
	}

	role.Scope = Scope(scope)
	role.Type = Type(roleType)
	if tenantID.Valid {
		id := tenantID.String
		role.TenantID = &id
	}
	if serviceID.Valid {
		id := serviceID.String
		role.ServiceID = &id
	}
	return &role, nil
}

func scanPermission(scanner interface {
	Scan(dest ...interface{}) error
}) (*Permission, error) {
	var perm Permission
	var permType string
	err := scanner.Scan(&perm.ID, &perm.Key, &perm.Resource, &perm.Action, &perm.Description,
		&permType, &perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		return nil, err
	}
	perm.Type = Type(permType)
	return &perm, nil
}

// inClause renders "$start, $start+1, ..." for values
func inClause(values []string, start int) (string, []interface{}) {
	placeholders := make([]string, len(values))
	args := make([]interface{}, len(values))
	for i, v := range values {
		placeholders[i] = fmt.Sprintf("$%d", start+i)
		args[i] = v
	}
	return strings.Join(placeholders, ", "), args
}

func execOne(ctx context.Context, db storage.Execer, op string, notFound error, query string, args ...interface{}) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return storage.Classify(op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.Classify(op, err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
