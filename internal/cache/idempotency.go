// Package cache holds the Redis-backed stores.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

const keyPrefix = "idem:"

// redisClient is the subset of redis.Cmdable the store uses.
type redisClient interface {
	SetArgs(ctx context.Context, key string, value interface{}, a redis.SetArgs) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// IdempotencyStore tracks Idempotency-Key usage in Redis.
//
// A key is locked with SET NX for lockTTL while the first request runs, then
// overwritten with the stored response for ttl.
type IdempotencyStore struct {
	client  redisClient
	ttl     time.Duration
	lockTTL time.Duration
}

// NewIdempotencyStore wraps client. Non-positive TTLs fall back to 24h and 1m.
func NewIdempotencyStore(client redis.UniversalClient, ttl, lockTTL time.Duration) *IdempotencyStore {
	return newIdempotencyStore(client, ttl, lockTTL)
}

func newIdempotencyStore(client redisClient, ttl, lockTTL time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	return &IdempotencyStore{client: client, ttl: ttl, lockTTL: lockTTL}
}

// NewRedisClient parses a redis:// or rediss:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Begin tries to take key within scope. When it is already taken the
// existing record is returned and acquired is false.
func (s *IdempotencyStore) Begin(ctx context.Context, key, scope string) (existing *types.IdempotencyRecord, acquired bool, err error) {
	if key == "" {
		return nil, false, errors.New("idempotency key cannot be empty")
	}
	k := storageKey(key, scope)

	lock, err := json.Marshal(types.IdempotencyRecord{Status: types.IdempotencyStatusProcessing})
	if err != nil {
		return nil, false, err
	}

	// One retry covers a lock that expires between SET NX and GET.
	for attempt := 0; attempt < 2; attempt++ {
		status, err := s.client.SetArgs(ctx, k, lock, redis.SetArgs{Mode: "NX", TTL: s.lockTTL}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, false, fmt.Errorf("redis SET NX: %w", err)
		}
		if status == "OK" {
			return nil, true, nil
		}

		raw, err := s.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("redis get: %w", err)
		}

		var rec types.IdempotencyRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, false, fmt.Errorf("decode idempotency record: %w", err)
		}
		return &rec, false, nil
	}
	return nil, false, errors.New("idempotency key churned during lookup")
}

// Complete stores the final response for replay.
func (s *IdempotencyStore) Complete(ctx context.Context, key, scope string, code int, body []byte) error {
	rec, err := json.Marshal(types.IdempotencyRecord{
		Status:       types.IdempotencyStatusCompleted,
		ResponseCode: code,
		ResponseBody: body,
	})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, storageKey(key, scope), rec, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Release drops the key so the request can be retried.
func (s *IdempotencyStore) Release(ctx context.Context, key, scope string) error {
	if err := s.client.Del(ctx, storageKey(key, scope)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *IdempotencyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func storageKey(key, scope string) string {
	return keyPrefix + scope + ":" + key
}
