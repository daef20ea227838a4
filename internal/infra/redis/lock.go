package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"product-image-pipeline/internal/domain"
)

// ErrClaimLost is returned by Unlock when the claim expired or was taken over.
var ErrClaimLost = errors.New("claim no longer held")

// RedisLocker claims jobs across service instances with SET NX PX.
type RedisLocker struct {
	cli     *redis.Client
	retries int
	backoff time.Duration
}

func NewLocker(c *Client) *RedisLocker {
	return &RedisLocker{cli: c.cli, retries: 3, backoff: 50 * time.Millisecond}
}

// TryLock claims key once. Transport errors are retried; a claim held by
// someone else is reported as domain.ErrLockNotAcquired straight away.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	key = keyPrefix + "claim:" + key
	token := uuid.NewString()
	var lastErr error
	for attempt := 0; attempt < l.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(l.backoff * time.Duration(attempt)):
			}
		}
		ok, err := l.cli.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			lastErr = err
			continue
		}
		if !ok {
			return "", domain.ErrLockNotAcquired
		}
		return token, nil
	}
	return "", lastErr
}

var releaseClaim = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	n, err := releaseClaim.Run(ctx, l.cli, []string{keyPrefix + "claim:" + key}, token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrClaimLost
	}
	return nil
}
