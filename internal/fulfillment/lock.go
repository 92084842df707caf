package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionLocker serializes concurrent webhook deliveries for the same
// session. It is advisory: the order store's unique session index is the
// authoritative guard, the lock just avoids doing the work twice.
type SessionLocker interface {
	Acquire(ctx context.Context, sessionID string) (bool, error)
	Release(ctx context.Context, sessionID string) error
}

// RedisSessionLock implements SessionLocker with SETNX + TTL. The TTL bounds
// the lock in case a holder dies mid-fulfillment; the provider retries the
// delivery after that anyway.
type RedisSessionLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionLock(client *redis.Client, ttl time.Duration) *RedisSessionLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisSessionLock{client: client, ttl: ttl}
}

func (l *RedisSessionLock) Acquire(ctx context.Context, sessionID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(sessionID), "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

func (l *RedisSessionLock) Release(ctx context.Context, sessionID string) error {
	if err := l.client.Del(ctx, lockKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func lockKey(sessionID string) string {
	return fmt.Sprintf("fulfillment:lock:%s", sessionID)
}
