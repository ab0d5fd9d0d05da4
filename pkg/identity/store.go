package identity

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// Store handles identity data persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new identity store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateTenant creates a new tenant. An empty status defaults to ACTIVE.
func (s *Store) CreateTenant(ctx context.Context, tenant *Tenant) error {
	tenant.Name = strings.TrimSpace(tenant.Name)
	if tenant.Name == "" {
		return apperrors.InvalidInput("tenant name is required")
	}
	if tenant.Status == "" {
		tenant.Status = StatusActive
	}
	if !ValidStatus(tenant.Status) {
		return apperrors.InvalidInput("unknown tenant status %q", tenant.Status)
	}
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, tenant.ID, tenant.Name, string(tenant.Status), now, now)
	if err != nil {
		return storage.Classify("create tenant", err)
	}

	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	return nil
}

// GetTenant retrieves a tenant by ID
func (s *Store) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	var t Tenant
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, created_at, updated_at
		FROM tenants WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("tenant %s", id)
	}
	if err != nil {
		return nil, storage.Classify("get tenant", err)
	}
	t.Status = Status(status)
	return &t, nil
}

// UpdateTenantStatus changes a tenant's status
func (s *Store) UpdateTenantStatus(ctx context.Context, id string, status Status) error {
	if !ValidStatus(status) {
		return apperrors.InvalidInput("unknown tenant status %q", status)
	}
	return s.execOne(ctx, "update tenant status", apperrors.NotFound("tenant %s", id), `
		UPDATE tenants SET status = $1, updated_at = $2 WHERE id = $3
	`, string(status), time.Now().UTC(), id)
}

// CreateOrganization creates an organization inside an existing tenant
func (s *Store) CreateOrganization(ctx context.Context, org *Organization) error {
	org.Name = strings.TrimSpace(org.Name)
	if org.Name == "" || org.TenantID == "" {
		return apperrors.InvalidInput("organization name and tenant are required")
	}
	if org.Status == "" {
		org.Status = StatusActive
	}
	if !ValidStatus(org.Status) {
		return apperrors.InvalidInput("unknown organization status %q", org.Status)
	}
	if _, err := s.GetTenant(ctx, org.TenantID); err != nil {
		return err
	}
	if org.ID == "" {
		org.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, tenant_id, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, org.ID, org.TenantID, org.Name, string(org.Status), now, now)
	if err != nil {
		return storage.Classify("create organization", err)
	}

	org.CreatedAt = now
	org.UpdatedAt = now
	return nil
}

// GetOrganization retrieves an organization by ID
func (s *Store) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	var o Organization
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, status, created_at, updated_at
		FROM organizations WHERE id = $1
	`, id).Scan(&o.ID, &o.TenantID, &o.Name, &status, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("organization %s", id)
	}
	if err != nil {
		return nil, storage.Classify("get organization", err)
	}
	o.Status = Status(status)
	return &o, nil
}

// CreateUser creates a user. The organization must exist and belong to the
// user's tenant; TenantID is filled from the organization when empty.
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	user.Identifier = strings.TrimSpace(user.Identifier)
	if user.Identifier == "" || user.OrganizationID == "" {
		return apperrors.InvalidInput("user identifier and organization are required")
	}
	if user.HashedPassword == "" {
		return apperrors.InvalidInput("user password hash is required")
	}
	if user.Status == "" {
		user.Status = UserActive
	}
	if !ValidUserStatus(user.Status) {
		return apperrors.InvalidInput("unknown user status %q", user.Status)
	}

	org, err := s.GetOrganization(ctx, user.OrganizationID)
	if err != nil {
		return err
	}
	if user.TenantID == "" {
		user.TenantID = org.TenantID
	}
	if user.TenantID != org.TenantID {
		return apperrors.InvalidInput("organization %s does not belong to tenant %s", org.ID, user.TenantID)
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, tenant_id, organization_id, identifier, email, phone_number, hashed_password, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, user.ID, user.TenantID, user.OrganizationID, user.Identifier, user.Email, user.PhoneNumber,
		user.HashedPassword, string(user.Status), now, now)
	if err != nil {
		return storage.Classify("create user", err)
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

const userColumns = `id, tenant_id, organization_id, identifier, email, phone_number, hashed_password, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var status string
	err := row.Scan(&u.ID, &u.TenantID, &u.OrganizationID, &u.Identifier, &u.Email, &u.PhoneNumber,
		&u.HashedPassword, &status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Status = UserStatus(status)
	return &u, nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("user %s", id)
	}
	if err != nil {
		return nil, storage.Classify("get user", err)
	}
	return u, nil
}

// UserTenant returns the tenant a user belongs to, NotFound for unknown users
func (s *Store) UserTenant(ctx context.Context, id string) (string, error) {
	var tenantID string
	err := s.db.QueryRowContext(ctx, `SELECT tenant_id FROM users WHERE id = $1`, id).Scan(&tenantID)
	if err == sql.ErrNoRows {
		return "", apperrors.NotFound("user %s", id)
	}
	if err != nil {
		return "", storage.Classify("get user tenant", err)
	}
	return tenantID, nil
}

// FindUsersByIdentifier returns every user with the identifier across
// organizations. organizationID narrows the search when not empty.
func (s *Store) FindUsersByIdentifier(ctx context.Context, identifier, organizationID string) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE identifier = $1`
	args := []interface{}{strings.TrimSpace(identifier)}
	if organizationID != "" {
		query += ` AND organization_id = $2`
		args = append(args, organizationID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Classify("find users", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, storage.Classify("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Classify("find users", err)
	}
	return users, nil
}

// UpdateUserStatus moves a user to a new status. DELETED users cannot change.
func (s *Store) UpdateUserStatus(ctx context.Context, id string, status UserStatus) error {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if err := CheckUserTransition(user.Status, status); err != nil {
		return err
	}
	return s.execOne(ctx, "update user status", apperrors.NotFound("user %s", id), `
		UPDATE users SET status = $1, updated_at = $2 WHERE id = $3 AND status <> $4
	`, string(status), time.Now().UTC(), id, string(UserDeleted))
}

// UpdateUserPassword replaces a user's password hash
func (s *Store) UpdateUserPassword(ctx context.Context, id, hashedPassword string) error {
	if hashedPassword == "" {
		return apperrors.InvalidInput("password hash is required")
	}
	return s.execOne(ctx, "update user password", apperrors.NotFound("user %s", id), `
		UPDATE users SET hashed_password = $1, updated_at = $2 WHERE id = $3
	`, hashedPassword, time.Now().UTC(), id)
}

// CreateService registers a downstream service
func (s *Store) CreateService(ctx context.Context, svc *Service) error {
	svc.ServiceCode = strings.TrimSpace(svc.ServiceCode)
	if svc.ServiceCode == "" {
		return apperrors.InvalidInput("service code is required")
	}
	if svc.Name == "" {
		svc.Name = svc.ServiceCode
	}
	if svc.Status == "" {
		svc.Status = StatusActive
	}
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (id, service_code, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, svc.ID, svc.ServiceCode, svc.Name, string(svc.Status), now, now)
	if err != nil {
		return storage.Classify("create service", err)
	}

	svc.CreatedAt = now
	svc.UpdatedAt = now
	return nil
}

// GetServiceByCode retrieves a service by its unique code
func (s *Store) GetServiceByCode(ctx context.Context, code string) (*Service, error) {
	var svc Service
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, service_code, name, status, created_at, updated_at
		FROM services WHERE service_code = $1
	`, code).Scan(&svc.ID, &svc.ServiceCode, &svc.Name, &status, &svc.CreatedAt, &svc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("service %s", code)
	}
	if err != nil {
		return nil, storage.Classify("get service", err)
	}
	svc.Status = Status(status)
	return &svc, nil
}

// execOne runs a statement that must affect exactly one row
func (s *Store) execOne(ctx context.Context, op string, notFound error, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
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
