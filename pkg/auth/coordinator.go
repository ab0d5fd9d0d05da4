package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
	"github.com/platinummonkey/gatekeeper/pkg/identity"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"golang.org/x/crypto/bcrypt"
)

// UserLookup is the identity store as seen by the login flow
type UserLookup interface {
	FindUsersByIdentifier(ctx context.Context, identifier, organizationID string) ([]*identity.User, error)
	GetUser(ctx context.Context, id string) (*identity.User, error)
	GetOrganization(ctx context.Context, id string) (*identity.Organization, error)
	GetTenant(ctx context.Context, id string) (*identity.Tenant, error)
}

// PermissionResolver resolves the roles embedded in access tokens
type PermissionResolver interface {
	ResolveEffectivePermissions(ctx context.Context, userID string) (*rbac.EffectivePermissions, error)
}

// SessionStore tracks live refresh tokens
type SessionStore interface {
	Persist(ctx context.Context, userID, tokenID, tokenValue string, expiresIn time.Duration) error
	Exists(ctx context.Context, tokenValue string) (userID string, ok bool, err error)
	RevokeByToken(ctx context.Context, tokenValue string) error
	RevokeByUser(ctx context.Context, userID string) error
}

// Blacklist revokes access tokens by id until they expire
type Blacklist interface {
	BlacklistChecker
	Add(ctx context.Context, jti string, until time.Time) error
}

// LoginRequest carries the credentials of one login attempt.
// OrganizationID disambiguates identifiers shared across organizations.
type LoginRequest struct {
	Identifier     string
	Password       string
	OrganizationID string
}

// Coordinator runs login, refresh, logout and introspection
type Coordinator struct {
	users     UserLookup
	resolver  PermissionResolver
	issuer    *Issuer
	sessions  SessionStore
	blacklist Blacklist
	metrics   *observability.Metrics
	// compare checks a password against a bcrypt hash
	compare func(hash, password []byte) error
}

// NewCoordinator wires the login flow. blacklist may be nil, in which case
// logout only revokes refresh sessions.
func NewCoordinator(users UserLookup, resolver PermissionResolver, issuer *Issuer, sessions SessionStore, blacklist Blacklist) *Coordinator {
	return &Coordinator{
		users:     users,
		resolver:  resolver,
		issuer:    issuer,
		sessions:  sessions,
		blacklist: blacklist,
		compare:   bcrypt.CompareHashAndPassword,
	}
}

// WithMetrics counts login attempts by result
func (c *Coordinator) WithMetrics(m *observability.Metrics) *Coordinator {
	c.metrics = m
	return c
}

// Login authenticates the credentials and issues a token pair. Every
// credential failure returns apperrors.ErrInvalidCredentials itself, so
// callers cannot tell an unknown identifier from a wrong password.
func (c *Coordinator) Login(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	pair, err := c.login(ctx, req)
	switch {
	case err == nil:
		c.metrics.RecordLogin("success")
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		c.metrics.RecordLogin("failure")
	default:
		c.metrics.RecordLogin("error")
	}
	return pair, err
}

func (c *Coordinator) login(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || req.Password == "" {
		return nil, apperrors.ErrInvalidCredentials
	}

	user, err := c.loadUser(ctx, identifier, req.OrganizationID)
	if err != nil && !errors.Is(err, apperrors.ErrInvalidCredentials) {
		return nil, err
	}

	// every credential outcome pays for exactly one bcrypt comparison
	hash := dummyHash
	if user != nil && user.HashedPassword != "" {
		hash = []byte(user.HashedPassword)
	}
	passwordOK := c.compare(hash, []byte(req.Password)) == nil
	if user == nil || user.HashedPassword == "" {
		return nil, apperrors.ErrInvalidCredentials
	}

	org, err := c.activeAccount(ctx, user)
	if err != nil {
		return nil, err
	}
	if !passwordOK {
		return nil, apperrors.ErrInvalidCredentials
	}

	return c.issue(ctx, Identity{
		UserID:   user.ID,
		TenantID: org.TenantID,
		OrgID:    org.ID,
		Email:    user.Email,
	})
}

func (c *Coordinator) loadUser(ctx context.Context, identifier, organizationID string) (*identity.User, error) {
	users, err := c.users.FindUsersByIdentifier(ctx, identifier, organizationID)
	if err != nil {
		return nil, credentialError(err)
	}
	// an identifier shared by several organizations needs an organization id
	if len(users) != 1 {
		return nil, apperrors.ErrInvalidCredentials
	}
	return users[0], nil
}

// activeAccount checks that the user, its organization and its tenant are
// all ACTIVE and returns the organization
func (c *Coordinator) activeAccount(ctx context.Context, user *identity.User) (*identity.Organization, error) {
	if !user.IsActive() {
		return nil, apperrors.ErrInvalidCredentials
	}

	org, err := c.users.GetOrganization(ctx, user.OrganizationID)
	if err != nil {
		return nil, credentialError(err)
	}
	if org.Status != identity.StatusActive {
		return nil, apperrors.ErrInvalidCredentials
	}

	tenant, err := c.users.GetTenant(ctx, org.TenantID)
	if err != nil {
		return nil, credentialError(err)
	}
	if tenant.Status != identity.StatusActive {
		return nil, apperrors.ErrInvalidCredentials
	}
	return org, nil
}

// credentialError folds a missing record into ErrInvalidCredentials and
// passes transient and unexpected failures through
func credentialError(err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return apperrors.ErrInvalidCredentials
	}
	return err
}

func (c *Coordinator) issue(ctx context.Context, id Identity) (*TokenPair, error) {
	effective, err := c.resolver.ResolveEffectivePermissions(ctx, id.UserID)
	if err != nil {
		return nil, err
	}

	pair, err := c.issuer.IssueTokenPair(ctx, id, effective)
	if err != nil {
		return nil, err
	}

	ttl := time.Duration(pair.RefreshExpiresIn) * time.Second
	if err := c.sessions.Persist(ctx, id.UserID, pair.RefreshTokenID, pair.RefreshToken, ttl); err != nil {
		return nil, fmt.Errorf("failed to persist refresh session: %w", err)
	}
	return pair, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair with freshly resolved roles is issued. A refresh token without a live
// session fails with ErrTokenInvalid.
func (c *Coordinator) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := c.issuer.ValidateRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	userID, ok, err := c.sessions.Exists(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if !ok || userID != claims.Subject {
		return nil, fmt.Errorf("%w: refresh session not found", apperrors.ErrTokenInvalid)
	}

	if err := c.sessions.RevokeByToken(ctx, refreshToken); err != nil {
		return nil, err
	}

	user, err := c.users.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: subject no longer exists", apperrors.ErrTokenInvalid)
		}
		return nil, err
	}
	org, err := c.activeAccount(ctx, user)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidCredentials) {
			return nil, fmt.Errorf("%w: account is not active", apperrors.ErrTokenInvalid)
		}
		return nil, err
	}

	return c.issue(ctx, Identity{
		UserID:   user.ID,
		TenantID: org.TenantID,
		OrgID:    org.ID,
		Email:    user.Email,
	})
}

// Logout blacklists the access token until it expires and revokes every
// refresh session of its user
func (c *Coordinator) Logout(ctx context.Context, accessToken string) error {
	claims, err := c.issuer.ValidateAccess(ctx, accessToken)
	if err != nil {
		return err
	}

	if c.blacklist != nil && claims.ExpiresAt != nil {
		if err := c.blacklist.Add(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			return err
		}
	}
	return c.sessions.RevokeByUser(ctx, claims.Subject)
}

// Introspect returns the claims of a valid token or the typed token error
func (c *Coordinator) Introspect(ctx context.Context, token string) (*Claims, error) {
	return c.issuer.Validate(ctx, token)
}

// Issuer returns the token issuer
func (c *Coordinator) Issuer() *Issuer {
	return c.issuer
}
