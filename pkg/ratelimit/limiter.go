package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// Type selects the rule a counter is checked against
type Type string

const (
	TypeIP       Type = "IP"
	TypeUser     Type = "USER"
	TypeEndpoint Type = "ENDPOINT"
)

// ParseType parses a rule type, case-insensitively
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TypeIP, TypeUser, TypeEndpoint:
		return t, nil
	}
	return "", apperrors.InvalidInput("unknown rate limit type %q", s)
}

// Rule is the number of requests allowed per window
type Rule struct {
	Type   Type          `json:"type" yaml:"type"`
	Limit  int64         `json:"limit" yaml:"limit"`
	Window time.Duration `json:"window" yaml:"window"`
}

// DefaultRules returns the built-in rules
func DefaultRules() map[Type]Rule {
	return map[Type]Rule{
		TypeIP:       {Type: TypeIP, Limit: 100, Window: 60 * time.Second},
		TypeUser:     {Type: TypeUser, Limit: 1000, Window: 60 * time.Second},
		TypeEndpoint: {Type: TypeEndpoint, Limit: 5000, Window: 60 * time.Second},
	}
}

// Status is the state of one counter
type Status struct {
	Exceeded  bool  `json:"exceeded"`
	Remaining int64 `json:"remaining"`
	Limit     int64 `json:"limit"`
	Count     int64 `json:"count"`
}

// Limiter counts requests in Redis
type Limiter struct {
	redis *redis.Client
	rules map[Type]Rule
}

// NewLimiter creates a limiter. Rules missing from overrides, or with a
// non-positive limit or window, fall back to the defaults.
func NewLimiter(redisClient *redis.Client, overrides map[Type]Rule) *Limiter {
	rules := DefaultRules()
	for t, rule := range overrides {
		def, ok := rules[t]
		if !ok {
			continue
		}
		if rule.Limit > 0 {
			def.Limit = rule.Limit
		}
		if rule.Window > 0 {
			def.Window = rule.Window
		}
		rules[t] = def
	}
	return &Limiter{redis: redisClient, rules: rules}
}

// Rule returns the rule applied to t
func (l *Limiter) Rule(t Type) (Rule, error) {
	rule, ok := l.rules[t]
	if !ok {
		return Rule{}, apperrors.InvalidInput("unknown rate limit type %q", t)
	}
	return rule, nil
}

// Key returns the Redis key of a counter
func Key(t Type, identifier, endpoint string) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", t, identifier, endpoint)
}

// Check reads a counter without changing it. A missing counter is zero.
func (l *Limiter) Check(ctx context.Context, identifier, endpoint string, t Type) (*Status, error) {
	rule, err := l.Rule(t)
	if err != nil {
		return nil, err
	}

	count, err := l.redis.Get(ctx, Key(t, identifier, endpoint)).Int64()
	if err == redis.Nil {
		count = 0
	} else if err != nil {
		return nil, storage.ClassifyRedis("read rate limit", err)
	}

	return statusOf(rule, count), nil
}

func statusOf(rule Rule, count int64) *Status {
	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &Status{
		Exceeded:  count > rule.Limit,
		Remaining: remaining,
		Limit:     rule.Limit,
		Count:     count,
	}
}

// incrementScript bumps a counter and starts its window in one round trip.
// A counter left without an expiry also gets one, so it cannot block forever.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 or redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// Increment adds one request to a counter and returns the new count. The
// first request of a window sets the expiry; ttl <= 0 uses the rule window.
func (l *Limiter) Increment(ctx context.Context, identifier, endpoint string, t Type, ttl time.Duration) (int64, error) {
	rule, err := l.Rule(t)
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		ttl = rule.Window
	}

	count, err := incrementScript.Run(ctx, l.redis, []string{Key(t, identifier, endpoint)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, storage.ClassifyRedis("increment rate limit", err)
	}
	return count, nil
}

// Hit increments a counter and returns its status after the increment
func (l *Limiter) Hit(ctx context.Context, identifier, endpoint string, t Type) (*Status, error) {
	rule, err := l.Rule(t)
	if err != nil {
		return nil, err
	}
	count, err := l.Increment(ctx, identifier, endpoint, t, rule.Window)
	if err != nil {
		return nil, err
	}
	return statusOf(rule, count), nil
}

// Reset deletes a counter. Resetting a missing counter is not an error.
func (l *Limiter) Reset(ctx context.Context, identifier, endpoint string, t Type) error {
	if _, err := l.Rule(t); err != nil {
		return err
	}
	if err := l.redis.Del(ctx, Key(t, identifier, endpoint)).Err(); err != nil {
		return storage.ClassifyRedis("reset rate limit", err)
	}
	return nil
}

// TTL returns how long the current window of a counter lasts, or zero when
// there is no window
func (l *Limiter) TTL(ctx context.Context, identifier, endpoint string, t Type) (time.Duration, error) {
	ttl, err := l.redis.TTL(ctx, Key(t, identifier, endpoint)).Result()
	if err != nil {
		return 0, storage.ClassifyRedis("read rate limit ttl", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
