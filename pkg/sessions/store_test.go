package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	db := storagetest.NewSQLiteDB(t)
	mr, client := storagetest.NewRedis(t)
	return NewStore(db, client), mr
}

func TestStore_PersistAndExists(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Persist(ctx, "user-1", "jti-1", "token-a", time.Hour))

	userID, ok, err := store.Exists(ctx, "token-a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "user-1", userID)

	key := "refresh:" + auth.HashToken("token-a")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))
	assert.False(t, mr.Exists("refresh:token-a"), "the raw token is never a key")

	_, ok, err = store.Exists(ctx, "token-b")
	require.NoError(t, err)
	assert.False(t, ok)

	sessions, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "jti-1", sessions[0].TokenID)
	assert.Equal(t, auth.HashToken("token-a"), sessions[0].TokenHash)
	assert.WithinDuration(t, sessions[0].IssuedAt.Add(time.Hour), sessions[0].ExpiresAt, time.Second)
}

func TestStore_ExistsAfterTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Persist(ctx, "user-1", "jti-1", "token-a", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := store.Exists(ctx, "token-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_PersistValidation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	err := store.Persist(ctx, "", "jti-1", "token-a", time.Hour)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	err = store.Persist(ctx, "user-1", "jti-1", "token-a", 0)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	require.NoError(t, store.Persist(ctx, "user-1", "jti-1", "token-a", time.Hour))
	err = store.Persist(ctx, "user-1", "jti-1", "token-b", time.Hour)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
}

func TestStore_PersistCacheFailureKeepsRow(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	mr.SetError("ERR cache unavailable")
	err := store.Persist(ctx, "user-1", "jti-1", "token-a", time.Hour)
	assert.True(t, apperrors.IsTransient(err))
	mr.SetError("")

	sessions, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestStore_RevokeByToken(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Persist(ctx, "user-1", "jti-1", "token-a", time.Hour))
	require.NoError(t, store.Persist(ctx, "user-1", "jti-2", "token-b", time.Hour))

	require.NoError(t, store.RevokeByToken(ctx, "token-a"))
	require.NoError(t, store.RevokeByToken(ctx, "token-a"), "revocation is idempotent")

	_, ok, err := store.Exists(ctx, "token-a")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.Exists(ctx, "token-b")
	require.NoError(t, err)
	assert.True(t, ok)

	sessions, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "jti-2", sessions[0].TokenID)
}

func TestStore_RevokeByUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Persist(ctx, "user-1", "jti-1", "token-a", time.Hour))
	require.NoError(t, store.Persist(ctx, "user-1", "jti-2", "token-b", time.Hour))
	require.NoError(t, store.Persist(ctx, "user-2", "jti-3", "token-c", time.Hour))

	require.NoError(t, store.RevokeByUser(ctx, "user-1"))
	require.NoError(t, store.RevokeByUser(ctx, "nobody"))

	for _, token := range []string{"token-a", "token-b"} {
		_, ok, err := store.Exists(ctx, token)
		require.NoError(t, err)
		assert.False(t, ok, token)
	}
	userID, ok, err := store.Exists(ctx, "token-c")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "user-2", userID)

	sessions, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestStore_RedisDown(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	mr.Close()

	_, _, err := store.Exists(ctx, "token-a")
	assert.True(t, apperrors.IsTransient(err))
}
