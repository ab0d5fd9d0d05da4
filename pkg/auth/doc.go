// Package auth issues and validates gatekeeper tokens and runs the login flow.
//
// # Overview
//
// A login exchanges an identifier and password for a token pair: a short
// lived access token carrying the user's role names and a long lived refresh
// token carrying none. Both are JWTs signed by one SigningScheme chosen at
// startup:
//
//	scheme, err := auth.NewHMACScheme(secret)          // HS256
//	scheme, err := auth.LoadRSAScheme(path, kid, ring) // RS256 with key ids
//
// # Token Pairs
//
//	issuer := auth.NewIssuer(scheme, auth.DefaultIssuerConfig())
//	pair, err := issuer.IssueTokenPair(ctx, id, effective)
//	// pair.AccessExpiresIn == 3600, pair.RefreshExpiresIn == 1209600
//
// Validation distinguishes three failures, all mapped to HTTP 401:
//
//	apperrors.ErrTokenExpired     - good signature, past exp
//	apperrors.ErrTokenBlacklisted - jti revoked by logout
//	apperrors.ErrTokenInvalid     - anything else
//
// # Login Flow
//
// The Coordinator ties the identity store, the RBAC resolver and the refresh
// session store together:
//
//	coordinator := auth.NewCoordinator(users, resolver, issuer, sessions, blacklist)
//	pair, err := coordinator.Login(ctx, auth.LoginRequest{Identifier: "alice", Password: "..."})
//
// Unknown identifiers, wrong passwords and inactive accounts all return
// apperrors.ErrInvalidCredentials. Refresh rotates the refresh token: the
// presented one stops working once a new pair is issued. Logout blacklists
// the access token until it expires and revokes every refresh session of
// the user.
//
// # Key Rotation
//
// With RS256 every token carries a "kid" header. Verification keys live in a
// Keyring, which can be loaded from a directory of PEM files and kept in sync
// with it:
//
//	ring := auth.NewKeyring()
//	ring.LoadDir("/etc/gatekeeper/keys")
//	ring.Watch(ctx, "/etc/gatekeeper/keys", logger)
//
// # Related Packages
//
//   - pkg/sessions: Refresh session store and access token blacklist
//   - pkg/rbac: Role resolution for access tokens
//   - pkg/middleware: Bearer token authentication for HTTP routes
package auth
