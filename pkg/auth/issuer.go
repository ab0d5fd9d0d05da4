package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

// TokenType discriminates access from refresh tokens
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the claims carried by every gatekeeper token. Roles are only
// present on access tokens.
type Claims struct {
	TenantID  string    `json:"tenant_id"`
	OrgID     string    `json:"org_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	TokenType TokenType `json:"token_type"`
	Roles     []string  `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject
func (c *Claims) UserID() string {
	return c.Subject
}

// Identity is who a token pair is issued to
type Identity struct {
	UserID   string
	TenantID string
	OrgID    string
	Email    string
}

// TokenPair is the result of a login or refresh. Lifetimes are in seconds.
type TokenPair struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	AccessExpiresIn  int64  `json:"accessExpiresIn"`
	RefreshExpiresIn int64  `json:"refreshExpiresIn"`
	TokenType        string `json:"tokenType"`

	// RefreshTokenID is the jti of the refresh token
	RefreshTokenID string `json:"-"`
}

// IssuerConfig holds token lifetimes and the issuer name
type IssuerConfig struct {
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// DefaultIssuerConfig returns one hour access and fourteen day refresh tokens
func DefaultIssuerConfig() IssuerConfig {
	return IssuerConfig{
		Issuer:     "gatekeeper",
		AccessTTL:  3600 * time.Second,
		RefreshTTL: 1209600 * time.Second,
	}
}

// BlacklistChecker reports revoked token ids
type BlacklistChecker interface {
	Contains(ctx context.Context, jti string) (bool, error)
}

// Issuer signs and validates token pairs
type Issuer struct {
	scheme    SigningScheme
	config    IssuerConfig
	blacklist BlacklistChecker
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewIssuer creates an issuer. Zero lifetimes fall back to the defaults.
func NewIssuer(scheme SigningScheme, config IssuerConfig) *Issuer {
	defaults := DefaultIssuerConfig()
	if config.Issuer == "" {
		config.Issuer = defaults.Issuer
	}
	if config.AccessTTL <= 0 {
		config.AccessTTL = defaults.AccessTTL
	}
	if config.RefreshTTL <= 0 {
		config.RefreshTTL = defaults.RefreshTTL
	}
	return &Issuer{scheme: scheme, config: config, now: time.Now}
}

// WithBlacklist makes Validate reject blacklisted token ids
func (i *Issuer) WithBlacklist(b BlacklistChecker) *Issuer {
	i.blacklist = b
	return i
}

// WithMetrics counts issued and validated tokens
func (i *Issuer) WithMetrics(m *observability.Metrics) *Issuer {
	i.metrics = m
	return i
}

// Config returns the effective configuration
func (i *Issuer) Config() IssuerConfig {
	return i.config
}

// IssueTokenPair signs an access token carrying the role names and a refresh
// token without them
func (i *Issuer) IssueTokenPair(ctx context.Context, id Identity, effective *rbac.EffectivePermissions) (*TokenPair, error) {
	if strings.TrimSpace(id.UserID) == "" {
		return nil, apperrors.InvalidInput("token subject is required")
	}

	var roles []string
	if effective != nil {
		roles = append([]string{}, effective.RoleNames...)
	}

	now := i.now().UTC()
	access, _, err := i.sign(id, TokenTypeAccess, roles, now, i.config.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshID, err := i.sign(id, TokenTypeRefresh, nil, now, i.config.RefreshTTL)
	if err != nil {
		return nil, err
	}

	i.metrics.RecordTokenIssued(string(TokenTypeAccess))
	i.metrics.RecordTokenIssued(string(TokenTypeRefresh))

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresIn:  int64(i.config.AccessTTL / time.Second),
		RefreshExpiresIn: int64(i.config.RefreshTTL / time.Second),
		TokenType:        "Bearer",
		RefreshTokenID:   refreshID,
	}, nil
}

func (i *Issuer) sign(id Identity, tokenType TokenType, roles []string, now time.Time, ttl time.Duration) (string, string, error) {
	jti := uuid.NewString()
	claims := Claims{
		TenantID:  id.TenantID,
		OrgID:     id.OrgID,
		Email:     id.Email,
		TokenType: tokenType,
		Roles:     roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.config.Issuer,
			Subject:   id.UserID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := i.scheme.Sign(claims)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, jti, nil
}

// Validate checks signature, issuer and expiry, then the blacklist. An
// expired token with a good signature fails with ErrTokenExpired; anything
// else malformed fails with ErrTokenInvalid.
func (i *Issuer) Validate(ctx context.Context, token string) (*Claims, error) {
	claims, err := i.parse(ctx, token)
	i.metrics.RecordTokenValidation(validationResult(err))
	return claims, err
}

func (i *Issuer) parse(ctx context.Context, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", apperrors.ErrTokenInvalid)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(i.scheme.Algorithms()),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)

	var claims Claims
	if _, err := parser.ParseWithClaims(token, &claims, i.scheme.Keyfunc); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTokenInvalid, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing sub or jti", apperrors.ErrTokenInvalid)
	}
	if claims.TokenType != TokenTypeAccess && claims.TokenType != TokenTypeRefresh {
		return nil, fmt.Errorf("%w: unknown token_type %q", apperrors.ErrTokenInvalid, claims.TokenType)
	}

	if i.blacklist != nil {
		listed, err := i.blacklist.Contains(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if listed {
			return nil, apperrors.ErrTokenBlacklisted
		}
	}
	return &claims, nil
}

// ValidateAccess validates token and requires an access token
func (i *Issuer) ValidateAccess(ctx context.Context, token string) (*Claims, error) {
	return i.validateType(ctx, token, TokenTypeAccess)
}

// ValidateRefresh validates token and requires a refresh token
func (i *Issuer) ValidateRefresh(ctx context.Context, token string) (*Claims, error) {
	return i.validateType(ctx, token, TokenTypeRefresh)
}

func (i *Issuer) validateType(ctx context.Context, token string, want TokenType) (*Claims, error) {
	claims, err := i.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != want {
		return nil, fmt.Errorf("%w: expected %s token", apperrors.ErrTokenInvalid, want)
	}
	return claims, nil
}

func validationResult(err error) string {
	if err == nil {
		return "ok"
	}
	return apperrors.Code(err)
}
