// Package ratelimit caps how often a code may be sent to, or guessed for,
// one identifier.
//
// REDIS (shared by every API instance):
// Fixed window counter. The first hit in a window creates the key with a
// TTL of one window; every hit increments it. A hit is allowed while the
// counter stays at or below the limit.
//
//	INCR  otp:login:email:a@b.c        → 1
//	EXPIRE otp:login:email:a@b.c 900   (only when the counter is 1)
//
// MEMORY (single instance, no Redis configured):
// A token bucket per key from golang.org/x/time/rate holding limit tokens
// and refilling one every window/limit.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter reports whether one more action is permitted for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter is a fixed-window limiter backed by Redis.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

// NewRedis parses a redis:// URL and pings the server.
func NewRedis(ctx context.Context, redisURL string, limit int, window time.Duration) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ratelimit: pinging redis: %w", err)
	}
	return NewRedisLimiter(client, limit, window), nil
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: "ratelimit:",
		limit:  int64(limit),
		window: window,
	}
}

var incrWithExpire = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := incrWithExpire.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("ratelimit: incrementing %s: %w", key, err)
	}
	return n <= l.limit, nil
}

// WithLimit returns a limiter with another limit on the same client and
// window. Close only the original.
func (l *RedisLimiter) WithLimit(limit int) *RedisLimiter {
	c := *l
	c.limit = int64(limit)
	return &c
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// sweepAt is the bucket count above which idle buckets are dropped.
const sweepAt = 10_000

// Memory is an in-process token-bucket limiter.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	every   rate.Limit
	burst   int
	now     func() time.Time
}

// NewMemory allows limit hits per key per window. limit must be positive.
func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		buckets: make(map[string]*rate.Limiter),
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		now:     time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok {
		if len(m.buckets) >= sweepAt {
			m.sweep(now)
		}
		b = rate.NewLimiter(m.every, m.burst)
		m.buckets[key] = b
	}
	return b.AllowN(now, 1), nil
}

// sweep drops buckets that have refilled; a fresh bucket behaves the same.
func (m *Memory) sweep(now time.Time) {
	for k, b := range m.buckets {
		if b.TokensAt(now) >= float64(m.burst) {
			delete(m.buckets, k)
		}
	}
}

// Noop allows everything. Used when the configured limit is 0.
type Noop struct{}

func (Noop) Allow(context.Context, string) (bool, error) { return true, nil }
