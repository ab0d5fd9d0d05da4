package sessions

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

const refreshKeyPrefix = "refresh:"

// RefreshSession is the durable record of an issued refresh token
type RefreshSession struct {
	TokenID   string    `json:"token_id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists refresh sessions in SQL and caches them in Redis
type Store struct {
	db    *sql.DB
	redis *redis.Client
	now   func() time.Time
}

// NewStore creates a session store
func NewStore(db *sql.DB, redisClient *redis.Client) *Store {
	return &Store{db: db, redis: redisClient, now: time.Now}
}

func refreshKey(hash string) string {
	return refreshKeyPrefix + hash
}

// Persist records a refresh token. The durable row is written first; when
// the cache write fails afterwards the error is returned and the row stays.
func (s *Store) Persist(ctx context.Context, userID, tokenID, tokenValue string, expiresIn time.Duration) error {
	if strings.TrimSpace(userID) == "" || tokenID == "" || tokenValue == "" {
		return apperrors.InvalidInput("user id, token id and token are required")
	}
	if expiresIn <= 0 {
		return apperrors.InvalidInput("refresh token lifetime must be positive")
	}

	hash := auth.HashToken(tokenValue)
	issuedAt := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token_id, user_id, token_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, tokenID, userID, hash, issuedAt, issuedAt.Add(expiresIn))
	if err != nil {
		return storage.Classify("insert refresh token", err)
	}

	if err := s.redis.Set(ctx, refreshKey(hash), userID, expiresIn).Err(); err != nil {
		return storage.ClassifyRedis("cache refresh token", err)
	}
	return nil
}

// Exists reports whether tokenValue is a live refresh token and returns the
// user it was issued to
func (s *Store) Exists(ctx context.Context, tokenValue string) (string, bool, error) {
	if tokenValue == "" {
		return "", false, nil
	}
	userID, err := s.redis.Get(ctx, refreshKey(auth.HashToken(tokenValue))).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, storage.ClassifyRedis("lookup refresh token", err)
	}
	return userID, true, nil
}

// RevokeByToken deletes the cache entry and the durable row of one token.
// Revoking an unknown token is not an error.
func (s *Store) RevokeByToken(ctx context.Context, tokenValue string) error {
	hash := auth.HashToken(tokenValue)
	if err := s.redis.Del(ctx, refreshKey(hash)).Err(); err != nil {
		return storage.ClassifyRedis("revoke refresh token", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, hash); err != nil {
		return storage.Classify("delete refresh token", err)
	}
	return nil
}

// RevokeByUser deletes every refresh session of a user
func (s *Store) RevokeByUser(ctx context.Context, userID string) error {
	sessions, err := s.ListByUser(ctx, userID)
	if err != nil {
		return err
	}

	if len(sessions) > 0 {
		keys := make([]string, 0, len(sessions))
		for _, sess := range sessions {
			keys = append(keys, refreshKey(sess.TokenHash))
		}
		if err := s.redis.Del(ctx, keys...).Err(); err != nil {
			return storage.ClassifyRedis("revoke user refresh tokens", err)
		}
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID); err != nil {
		return storage.Classify("delete user refresh tokens", err)
	}
	return nil
}

// ListByUser returns the durable sessions of a user, newest first
func (s *Store) ListByUser(ctx context.Context, userID string) ([]RefreshSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token_id, user_id, token_hash, issued_at, expires_at
		FROM refresh_tokens WHERE user_id = $1
		ORDER BY issued_at DESC
	`, userID)
	if err != nil {
		return nil, storage.Classify("list refresh tokens", err)
	}
	defer rows.Close()

	var sessions []RefreshSession
	for rows.Next() {
		var sess RefreshSession
		if err := rows.Scan(&sess.TokenID, &sess.UserID, &sess.TokenHash, &sess.IssuedAt, &sess.ExpiresAt); err != nil {
			return nil, storage.Classify("scan refresh token", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Classify("list refresh tokens", err)
	}
	return sessions, nil
}

// DeleteExpired removes durable rows that expired before cutoff and returns
// how many were removed. Their cache entries have already timed out.
func (s *Store) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, storage.Classify("delete expired refresh tokens", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, storage.Classify("delete expired refresh tokens", err)
	}
	return n, nil
}
