package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
	"github.com/platinummonkey/gatekeeper/pkg/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedOrg(t *testing.T, store *Store) (*Tenant, *Organization) {
	t.Helper()
	ctx := context.Background()

	tenant := &Tenant{Name: "acme"}
	require.NoError(t, store.CreateTenant(ctx, tenant))

	org := &Organization{TenantID: tenant.ID, Name: "engineering"}
	require.NoError(t, store.CreateOrganization(ctx, org))

	return tenant, org
}

func TestStore_TenantLifecycle(t *testing.T) {
	store := NewStore(storagetest.NewSQLiteDB(t))
	ctx := context.Background()

	tenant := &Tenant{Name: "  acme  "}
	require.NoError(t, store.CreateTenant(ctx, tenant))
	assert.NotEmpty(t, tenant.ID)
	assert.Equal(t, "acme", tenant.Name)
	assert.Equal(t, StatusActive, tenant.Status)

	got, err := store.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Name)

	err = store.CreateTenant(ctx, &Tenant{Name: "acme"})
	assert.True(t, errors.Is(err, apperrors.ErrConflict))

	require.NoError(t, store.UpdateTenantStatus(ctx, tenant.ID, StatusInactive))
	got, err = store.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, got.Status)

	_, err = store.GetTenant(ctx, "missing")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestStore_CreateOrganization_UnknownTenant(t *testing.T) {
	store := NewStore(storagetest.NewSQLiteDB(t))

	err := store.CreateOrganization(context.Background(), &Organization{TenantID: "nope", Name: "ops"})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestStore_Users(t *testing.T) {
	store := NewStore(storagetest.NewSQLiteDB(t))
	ctx := context.Background()
	tenant, org := seedOrg(t, store)

	user := &User{OrganizationID: org.ID, Identifier: "alice", Email: "alice@example.com", HashedPassword: "hash"}
	require.NoError(t, store.CreateUser(ctx, user))
	assert.Equal(t, tenant.ID, user.TenantID)
	assert.Equal(t, UserActive, user.Status)

	dup := &User{OrganizationID: org.ID, Identifier: "alice", HashedPassword: "hash"}
	assert.True(t, errors.Is(store.CreateUser(ctx, dup), apperrors.ErrConflict))

	users, err := store.FindUsersByIdentifier(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, user.ID, users[0].ID)
	assert.Equal(t, "hash", users[0].HashedPassword)

	users, err = store.FindUsersByIdentifier(ctx, "alice", "other-org")
	require.NoError(t, err)
	assert.Empty(t, users)

	tenantID, err := store.UserTenant(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, org.TenantID, tenantID)

	_, err = store.UserTenant(ctx, "ghost")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestStore_UserStatusTransitions(t *testing.T) {
	store := NewStore(storagetest.NewSQLiteDB(t))
	ctx := context.Background()
	_, org := seedOrg(t, store)

	user := &User{OrganizationID: org.ID, Identifier: "bob", HashedPassword: "hash"}
	require.NoError(t, store.CreateUser(ctx, user))

	require.NoError(t, store.UpdateUserStatus(ctx, user.ID, UserSuspended))
	require.NoError(t, store.UpdateUserStatus(ctx, user.ID, UserDeleted))

	err := store.UpdateUserStatus(ctx, user.ID, UserActive)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))

	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, UserDeleted, got.Status)
	assert.False(t, got.IsActive())
}

func TestStore_CreateUser_TenantMismatch(t *testing.T) {
	store := NewStore(storagetest.NewSQLiteDB(t))
	ctx := context.Background()
	_, org := seedOrg(t, store)

	other := &Tenant{Name: "globex"}
	require.NoError(t, store.CreateTenant(ctx, other))

	err := store.CreateUser(ctx, &User{TenantID: other.ID, OrganizationID: org.ID, Identifier: "eve", HashedPassword: "x"})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestStore_Services(t *testing.T) {
	store := NewStore(storagetest.NewSQLiteDB(t))
	ctx := context.Background()

	svc := &Service{ServiceCode: "orders"}
	require.NoError(t, store.CreateService(ctx, svc))
	assert.Equal(t, "orders", svc.Name)

	got, err := store.GetServiceByCode(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, svc.ID, got.ID)

	assert.True(t, errors.Is(store.CreateService(ctx, &Service{ServiceCode: "orders"}), apperrors.ErrConflict))

	_, err = store.GetServiceByCode(ctx, "billing")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestCheckUserTransition(t *testing.T) {
	assert.NoError(t, CheckUserTransition(UserActive, UserInactive))
	assert.NoError(t, CheckUserTransition(UserSuspended, UserActive))
	assert.True(t, errors.Is(CheckUserTransition(UserDeleted, UserActive), apperrors.ErrConflict))
	assert.True(t, errors.Is(CheckUserTransition(UserActive, "BANNED"), apperrors.ErrInvalidInput))
}
