package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "ratelimit:"
	scanBatchSize = 100
)

// hitScript performs the whole bucket check in one server-side step.
// KEYS[1] bucket key, ARGV now, end, max. Returns {allowed, count, end}.
var hitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local fresh_end = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local data = redis.call('HMGET', KEYS[1], 'count', 'end')
local count = tonumber(data[1])
local bucket_end = tonumber(data[2])
if count == nil or bucket_end == nil or now >= bucket_end then
	redis.call('HSET', KEYS[1], 'count', 1, 'end', fresh_end)
	redis.call('EXPIRE', KEYS[1], math.max(fresh_end - now, 1))
	return {1, 1, fresh_end}
end
if count >= max then
	return {0, count, bucket_end}
end
count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, count, bucket_end}
`)

// RedisStore keeps buckets in Redis so several instances share limits.
// Buckets also carry a Redis TTL, so Sweep mostly finds nothing to do.
type RedisStore struct {
	client redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed store. Returns nil if the client is nil.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	if client == nil {
		return nil
	}
	return &RedisStore{client: client}
}

func (s *RedisStore) Hit(ctx context.Context, key string, nowS, end uint64, max uint32) (HitResult, error) {
	raw, err := hitScript.Run(ctx, s.client, []string{keyPrefix + key}, nowS, end, max).Int64Slice()
	if err != nil {
		return HitResult{}, fmt.Errorf("redis rate limit script: %w", err)
	}
	if len(raw) != 3 {
		return HitResult{}, fmt.Errorf("redis rate limit script: unexpected reply length %d", len(raw))
	}
	return HitResult{Allowed: raw[0] == 1, Count: uint32(raw[1]), End: uint64(raw[2])}, nil
}

// Sweep scans bucket keys and deletes the ones whose end has passed
func (s *RedisStore) Sweep(ctx context.Context, nowS uint64) (int, error) {
	removed := 0
	err := s.scan(ctx, func(keys []string) error {
		for _, key := range keys {
			end, err := s.client.HGet(ctx, key, "end").Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return fmt.Errorf("redis hget: %w", err)
			}
			endS, err := strconv.ParseUint(end, 10, 64)
			if err != nil || nowS >= endS {
				n, err := s.client.Del(ctx, key).Result()
				if err != nil {
					return fmt.Errorf("redis delete: %w", err)
				}
				removed += int(n)
			}
		}
		return nil
	})
	return removed, err
}

// Reset clears all rate limit keys from the storage
func (s *RedisStore) Reset(ctx context.Context) error {
	return s.scan(ctx, func(keys []string) error {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis batch delete: %w", err)
		}
		return nil
	})
}

func (s *RedisStore) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, nextCursor, err := s.client.Scan(ctx, cursor, keyPrefix+"*", scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = nextCursor
		if cursor == 0 {
			return nil
		}
	}
}
