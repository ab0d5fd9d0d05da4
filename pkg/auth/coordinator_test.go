package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
	"github.com/platinummonkey/gatekeeper/pkg/identity"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memorySessions struct {
	mu       sync.Mutex
	sessions map[string]string
	byUser   map[string][]string
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: make(map[string]string), byUser: make(map[string][]string)}
}

func (s *memorySessions) Persist(ctx context.Context, userID, tokenID, tokenValue string, expiresIn time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := HashToken(tokenValue)
	s.sessions[hash] = userID
	s.byUser[userID] = append(s.byUser[userID], hash)
	return nil
}

func (s *memorySessions) Exists(ctx context.Context, tokenValue string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.sessions[HashToken(tokenValue)]
	return userID, ok, nil
}

func (s *memorySessions) RevokeByToken(ctx context.Context, tokenValue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, HashToken(tokenValue))
	return nil
}

func (s *memorySessions) RevokeByUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, hash := range s.byUser[userID] {
		delete(s.sessions, hash)
	}
	delete(s.byUser, userID)
	return nil
}

func (s *memorySessions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

type loginFixture struct {
	coordinator *Coordinator
	users       *identity.Store
	resolver    *rbac.Resolver
	sessions    *memorySessions
	blacklist   *memoryBlacklist
	tenantID    string
	orgID       string
}

func newLoginFixture(t *testing.T) *loginFixture {
	t.Helper()
	db := storagetest.NewSQLiteDB(t)
	ctx := context.Background()

	users := identity.NewStore(db)
	tenant := &identity.Tenant{Name: "acme"}
	require.NoError(t, users.CreateTenant(ctx, tenant))
	org := &identity.Organization{TenantID: tenant.ID, Name: "engineering"}
	require.NoError(t, users.CreateOrganization(ctx, org))

	resolver := rbac.NewResolver(rbac.NewStore(db), rbac.ResolverConfig{Users: users})
	blacklist := newMemoryBlacklist()
	issuer := newTestIssuer(t).WithBlacklist(blacklist)
	sessions := newMemorySessions()

	return &loginFixture{
		coordinator: NewCoordinator(users, resolver, issuer, sessions, blacklist),
		users:       users,
		resolver:    resolver,
		sessions:    sessions,
		blacklist:   blacklist,
		tenantID:    tenant.ID,
		orgID:       org.ID,
	}
}

func (f *loginFixture) user(t *testing.T, orgID, identifier, password string) *identity.User {
	t.Helper()
	hash, err := HashPasswordWithCost(password, bcrypt.MinCost)
	require.NoError(t, err)
	u := &identity.User{OrganizationID: orgID, Identifier: identifier, Email: identifier + "@example.com", HashedPassword: hash}
	require.NoError(t, f.users.CreateUser(context.Background(), u))
	return u
}

func (f *loginFixture) grantRole(t *testing.T, userID, roleName string) {
	t.Helper()
	ctx := context.Background()
	role := &rbac.Role{Name: roleName, Scope: rbac.ScopeTenant, TenantID: &f.tenantID}
	require.NoError(t, f.resolver.CreateRole(ctx, role))
	_, err := f.resolver.AssignUserRole(ctx, userID, role.ID)
	require.NoError(t, err)
}

func TestCoordinator_Login(t *testing.T) {
	f := newLoginFixture(t)
	ctx := context.Background()
	user := f.user(t, f.orgID, "alice", "correct horse")
	f.grantRole(t, user.ID, "editor")

	pair, err := f.coordinator.Login(ctx, LoginRequest{Identifier: "alice", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, int64(3600), pair.AccessExpiresIn)
	assert.Equal(t, 1, f.sessions.count())

	claims, err := f.coordinator.Introspect(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
	assert.Equal(t, f.tenantID, claims.TenantID)
	assert.Equal(t, f.orgID, claims.OrgID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, []string{"editor"}, claims.Roles)
}

func TestCoordinator_LoginFailuresAreIndistinguishable(t *testing.T) {
	f := newLoginFixture(t)
	ctx := context.Background()
	f.user(t, f.orgID, "alice", "correct horse")

	_, wrongPassword := f.coordinator.Login(ctx, LoginRequest{Identifier: "alice", Password: "battery staple"})
	_, unknownUser := f.coordinator.Login(ctx, LoginRequest{Identifier: "mallory", Password: "battery staple"})
	_, empty := f.coordinator.Login(ctx, LoginRequest{Identifier: "alice"})

	assert.Equal(t, apperrors.ErrInvalidCredentials, wrongPassword)
	assert.Equal(t, apperrors.ErrInvalidCredentials, unknownUser)
	assert.Equal(t, apperrors.ErrInvalidCredentials, empty)
	assert.Equal(t, 0, f.sessions.count())
}

func TestCoordinator_LoginInactiveAccount(t *testing.T) {
	f := newLoginFixture(t)
	ctx := context.Background()
	user := f.user(t, f.orgID, "alice", "correct horse")

	require.NoError(t, f.users.UpdateUserStatus(ctx, user.ID, identity.UserSuspended))
	_, err := f.coordinator.Login(ctx, LoginRequest{Identifier: "alice", Password: "correct horse"})
	assert.Equal(t, apperrors.ErrInvalidCredentials, err)

	require.NoError(t, f.users.UpdateUserStatus(ctx, user.ID, identity.UserActive))
	require.NoError(t, f.users.UpdateTenantStatus(ctx, f.tenantID, identity.StatusInactive))
	_, err = f.coordinator.Login(ctx, LoginRequest{Identifier: "alice", Password: "correct horse"})
	assert.Equal(t, apperrors.ErrInvalidCredentials, err)
}

func TestCoordinator_LoginComparesPasswordOnEveryFailure(t *testing.T) {
	f := newLoginFixture(t)
	ctx := context.Background()
	user := f.user(t, f.orgID, "alice", "correct horse")

	var mu sync.Mutex
	var hashes [][]byte
	f.coordinator.compare = func(hash, password []byte) error {
		mu.Lock()
		hashes = append(hashes, hash)
		mu.Unlock()
		return bcrypt.CompareHashAndPassword(hash, password)
	}
	attempt := func(identifier, password string) ([][]byte, error) {
		mu.Lock()
		hashes = nil
		mu.Unlock()
		_, err := f.coordinator.Login(ctx, LoginRequest{Identifier: identifier, Password: password})
		mu.Lock()
		defer mu.Unlock()
		return hashes, err
	}

	compared, err := attempt("mallory", "correct horse")
	assert.Equal(t, apperrors.ErrInvalidCredentials, err)
	require.Len(t, compared, 1)
	assert.Equal(t, dummyHash, compared[0])

	compared, err = attempt("alice", "battery staple")
	assert.Equal(t, apperrors.ErrInvalidCredentials, err)
	require.Len(t, compared, 1)
	assert.Equal(t, user.HashedPassword, string(compared[0]))

	require.NoError(t, f.users.UpdateUserStatus(ctx, user.ID, identity.UserSuspended))
	compared, err = attempt("alice", "correct horse")
	assert.Equal(t, apperrors.ErrInvalidCredentials, err)
	assert.Len(t, compared, 1)

	require.NoError(t, f.users.UpdateUserStatus(ctx, user.ID, identity.UserActive))
	require.NoError(t, f.users.UpdateTenantStatus(ctx, f.tenantID, identity.StatusInactive))
	compared, err = attempt("alice", "battery staple")
	assert.Equal(t, apperrors.ErrInvalidCredentials, err)
	assert.Len(t, compared, 1)

	require.NoError(t, f.users.UpdateTenantStatus(ctx, f.tenantID, identity.StatusActive))
	compared, err = attempt("alice", "correct horse")
	require.NoError(t, err)
	assert.Len(t, compared, 1)
}

func TestCoordinator_LoginSharedIdentifier(t *testing.T) {
	f := newLoginFixture(t)
	ctx := context.Background()

	other := &identity.Organization{TenantID: f.tenantID, Name: "sales"}
	require.NoError(t, f.users.CreateOrganization(ctx, other))
	f.user(t, f.orgID, "alice", "first password")
	second := f.user(t, other.ID, "alice", "second password")

	_, err := f.coordinator.Login(ctx, LoginRequest{Identifier: "alice", Password: "second password"})
	assert.Equal(t, apperrors.ErrInvalidCredentials, err)

	pair, err := f.coordinator.Login(ctx, LoginRequest{Identifier: "alice", Password: "second password", OrganizationID: other.ID})
	require.NoError(t, err)
	claims, err := f.coordinator.Introspect(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, second.ID, claims.Subject)
	assert.Equal(t, other.ID, claims.OrgID)
}

func TestCoordinator_RefreshRotates(t *testing.T) {
	f := newLoginFixture(t)
	ctx := context.Background()
	f.user(t, f.orgID, "alice", "correct horse")

	first, err := f.coordinator.Login(ctx, LoginRequest{Identifier: "alice", Password: "correct horse"})
	require.NoError(t, err)

	second, err := f.coordinator.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, 1, f.sessions.count())

	_, err = f.coordinator.Refresh(ctx, first.RefreshToken)
	assert.True(t, errors.Is(err, apperrors.ErrTokenInvalid), "a rotated refresh token is dead")

	_, err = f.coordinator.Refresh(ctx, second.AccessToken)
	assert.True(t, errors.Is(err, apperrors.ErrTokenInvalid), "access tokens cannot refresh")

	_, err = f.coordinator.Refresh(ctx, second.RefreshToken)
	assert.NoError(t, err)
}

func TestCoordinator_RefreshPicksUpRoleChanges(t *testing.T) {
	f := newLoginFixture(t)
	ctx := context.Background()
	user := f.user(t, f.orgID, "alice", "correct horse")

	pair, err := f.coordinator.Login(ctx, LoginRequest{Identifier: "alice", Password: "correct horse"})
	require.NoError(t, err)

	f.grantRole(t, user.ID, "auditor")
	pair, err = f.coordinator.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	claims, err := f.coordinator.Introspect(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"auditor"}, claims.Roles)
}

func TestCoordinator_RefreshSuspendedUser(t *testing.T) {
	f := newLoginFixture(t)
	ctx := context.Background()
	user := f.user(t, f.orgID, "alice", "correct horse")

	pair, err := f.coordinator.Login(ctx, LoginRequest{Identifier: "alice", Password: "correct horse"})
	require.NoError(t, err)

	require.NoError(t, f.users.UpdateUserStatus(ctx, user.ID, identity.UserSuspended))
	_, err = f.coordinator.Refresh(ctx, pair.RefreshToken)
	assert.True(t, errors.Is(err, apperrors.ErrTokenInvalid))
}

func TestCoordinator_Logout(t *testing.T) {
	f := newLoginFixture(t)
	ctx := context.Background()
	f.user(t, f.orgID, "alice", "correct horse")

	first, err := f.coordinator.Login(ctx, LoginRequest{Identifier: "alice", Password: "correct horse"})
	require.NoError(t, err)
	second, err := f.coordinator.Login(ctx, LoginRequest{Identifier: "alice", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, 2, f.sessions.count())

	require.NoError(t, f.coordinator.Logout(ctx, first.AccessToken))

	_, err = f.coordinator.Introspect(ctx, first.AccessToken)
	assert.True(t, errors.Is(err, apperrors.ErrTokenBlacklisted))
	assert.Equal(t, 0, f.sessions.count())

	_, err = f.coordinator.Refresh(ctx, second.RefreshToken)
	assert.True(t, errors.Is(err, apperrors.ErrTokenInvalid))

	err = f.coordinator.Logout(ctx, first.AccessToken)
	assert.True(t, errors.Is(err, apperrors.ErrTokenBlacklisted))
}
