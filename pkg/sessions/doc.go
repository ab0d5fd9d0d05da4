// Package sessions tracks refresh tokens and revoked access tokens.
//
// A refresh session lives in two places: a durable refresh_tokens row and a
// Redis entry refresh:<sha256(token)> holding the user id with the token's
// remaining lifetime as TTL. Lookups only touch Redis. The durable rows let
// RevokeByUser find every token of a user and survive a cache flush; the
// Reaper deletes rows whose tokens have expired naturally.
//
// Access tokens are revoked by id on logout. The Blacklist keeps
// blacklist:<jti> until the token would have expired anyway.
package sessions
