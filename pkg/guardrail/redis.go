package guardrail

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisConsumeScript increments a fixed-window counter atomically.
// KEYS[1] = counter key
// ARGV[1] = weight to consume
// ARGV[2] = window in milliseconds
// Returns {total, pttl_ms}.
var redisConsumeScript = redis.NewScript(`
local key = KEYS[1]
local weight = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local total = redis.call("INCRBY", key, weight)
if total == weight then
    redis.call("PEXPIRE", key, window)
end

local ttl = redis.call("PTTL", key)
if ttl < 0 then
    redis.call("PEXPIRE", key, window)
    ttl = window
end

return {total, ttl}
`)

// RedisStore backs both guardrail store contracts with a shared Redis client,
// providing the cross-process atomicity the in-process stores lack.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a Redis-backed guardrail store
func NewRedisStore(addr, password string, db int, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "outrigger"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// NewRedisStoreFromClient wraps an existing client, e.g. one shared with
// other subsystems or a test double.
func NewRedisStoreFromClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "outrigger"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

// Register implements IdempotencyStore via SET NX PX
func (s *RedisStore) Register(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	accepted, err := s.client.SetNX(ctx, s.keyPrefix+":idem:"+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return accepted, nil
}

// Consume implements RateLimitStore via an atomic INCRBY+PEXPIRE script
func (s *RedisStore) Consume(ctx context.Context, key string, weight int, window time.Duration) (int, time.Time, error) {
	res, err := redisConsumeScript.Run(ctx, s.client,
		[]string{s.keyPrefix + ":rate:" + key},
		weight, window.Milliseconds(),
	).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis consume: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, time.Time{}, fmt.Errorf("redis consume: unexpected script result %v", res)
	}

	total, _ := values[0].(int64)
	ttlMs, _ := values[1].(int64)

	return int(total), time.Now().Add(time.Duration(ttlMs) * time.Millisecond), nil
}

// Close releases the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
