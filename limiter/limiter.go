package limiter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Strategy is a rate limiting algorithm evaluated atomically in Redis.
type Strategy interface {
	// Allow reports whether one more hit on key fits in limit per window.
	Allow(ctx context.Context, rdb *redis.Client, key string, limit int, window time.Duration) (bool, error)
}

type Manager struct {
	rdb      *redis.Client
	strategy Strategy
}

func NewManager(rdb *redis.Client, strategy Strategy) *Manager {
	return &Manager{
		rdb:      rdb,
		strategy: strategy,
	}
}

func (m *Manager) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return m.strategy.Allow(ctx, m.rdb, key, limit, window)
}

// NewStrategy maps a configured name to a Strategy. Unknown names get the fixed window.
func NewStrategy(name string) Strategy {
	switch name {
	case "token_bucket":
		return &TokenBucketStrategy{}
	default:
		return &FixedWindowStrategy{}
	}
}

// KeyedLimit applies one fixed limit to every key under a common prefix.
type KeyedLimit struct {
	manager *Manager
	prefix  string
	limit   int
	window  time.Duration
}

func NewKeyedLimit(manager *Manager, prefix string, limit int, window time.Duration) *KeyedLimit {
	return &KeyedLimit{manager: manager, prefix: prefix, limit: limit, window: window}
}

func (l *KeyedLimit) Allow(ctx context.Context, key string) (bool, error) {
	return l.manager.Allow(ctx, l.prefix+key, l.limit, l.window)
}

type FixedWindowStrategy struct{}

func (s *FixedWindowStrategy) Allow(ctx context.Context, rdb *redis.Client, key string, limit int, window time.Duration) (bool, error) {
	const script = `
		local key = KEYS[1]
		local limit = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])

		local current = redis.call("INCR", key)
		if current == 1 then
			redis.call("EXPIRE", key, window)
		end

		if current > limit then
			return 0
		end
		return 1
	`

	seconds := int(window.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	result, err := rdb.Eval(ctx, script, []string{key}, limit, seconds).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

type TokenBucketStrategy struct{}

func (s *TokenBucketStrategy) Allow(ctx context.Context, rdb *redis.Client, key string, limit int, window time.Duration) (bool, error) {
	// KEYS[1]: bucket hash
	// ARGV[1]: capacity, ARGV[2]: tokens per second, ARGV[3]: now (seconds)
	const script = `
		local key = KEYS[1]
		local capacity = tonumber(ARGV[1])
		local rate = tonumber(ARGV[2])
		local now = tonumber(ARGV[3])

		local info = redis.call("HMGET", key, "tokens", "last_time")
		local tokens = tonumber(info[1])
		local last_time = tonumber(info[2])

		if tokens == nil then
			tokens = capacity
			last_time = now
		end

		local delta = math.max(0, now - last_time)
		tokens = math.min(capacity, tokens + delta * rate)

		if tokens >= 1 then
			tokens = tokens - 1
			redis.call("HSET", key, "tokens", tokens, "last_time", now)
			redis.call("EXPIRE", key, 60)
			return 1
		end
		return 0
	`

	rate := float64(limit) / window.Seconds()
	if rate <= 0 {
		rate = 1
	}

	now := time.Now().Unix()
	result, err := rdb.Eval(ctx, script, []string{key}, limit, rate, now).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}
