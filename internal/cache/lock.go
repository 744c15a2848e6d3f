package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockPrefix = "lock:"

// releaseScript deletes the lock only while the caller still owns it.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

type lockClient interface {
	SetArgs(ctx context.Context, key string, value interface{}, a redis.SetArgs) *redis.StatusCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// JobLock is a best-effort mutual exclusion for scheduled sweeps. Two
// overlapping reclaimer runs would otherwise publish duplicate messages.
type JobLock struct {
	client lockClient
}

// NewJobLock wraps client.
func NewJobLock(client redis.UniversalClient) *JobLock {
	return &JobLock{client: client}
}

// Acquire takes name for owner until ttl elapses. It returns false when
// another owner holds it.
func (l *JobLock) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	err := l.client.SetArgs(ctx, lockPrefix+name, []byte(owner), redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis lock %s: %w", name, err)
	}
	return true, nil
}

// Release drops the lock if owner still holds it.
func (l *JobLock) Release(ctx context.Context, name, owner string) error {
	if err := l.client.Eval(ctx, releaseScript, []string{lockPrefix + name}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis unlock %s: %w", name, err)
	}
	return nil
}
