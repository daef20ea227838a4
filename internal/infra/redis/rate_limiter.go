package redis

import (
	"context"
	"time"
)

// RateLimiter counts hits per key in fixed windows.
type RateLimiter struct {
	client RedisClient
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow records one hit and reports whether key is still within limit for
// the current window. A limit <= 0 allows everything.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	n, err := r.client.IncrWindow(ctx, key, window)
	if err != nil {
		return false, err
	}
	return n <= int64(limit), nil
}

// UploadKey is the limiter key for job creation by one client address.
func UploadKey(client string) string {
	return keyPrefix + "ratelimit:upload:" + client
}
