package sessions

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

const blacklistKeyPrefix = "blacklist:"

// Blacklist holds revoked access token ids in Redis
type Blacklist struct {
	redis *redis.Client
	now   func() time.Time
}

// NewBlacklist creates a blacklist
func NewBlacklist(redisClient *redis.Client) *Blacklist {
	return &Blacklist{redis: redisClient, now: time.Now}
}

// Add revokes jti until the given time. A token that has already expired is
// not recorded.
func (b *Blacklist) Add(ctx context.Context, jti string, until time.Time) error {
	if strings.TrimSpace(jti) == "" {
		return apperrors.InvalidInput("token id is required")
	}
	ttl := until.Sub(b.now())
	if ttl <= 0 {
		return nil
	}
	if err := b.redis.Set(ctx, blacklistKeyPrefix+jti, "1", ttl).Err(); err != nil {
		return storage.ClassifyRedis("blacklist token", err)
	}
	return nil
}

// Contains reports whether jti has been revoked
func (b *Blacklist) Contains(ctx context.Context, jti string) (bool, error) {
	n, err := b.redis.Exists(ctx, blacklistKeyPrefix+jti).Result()
	if err != nil {
		return false, storage.ClassifyRedis("check blacklist", err)
	}
	return n > 0, nil
}
