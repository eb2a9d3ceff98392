// Package ratelimit implements a fixed-window counter on Redis. Each
// (key, window) bucket is an INCR'd counter that expires with the window, so
// idle keys cost nothing and restarts do not leak state.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Limiter struct {
	client   *redis.Client
	window   time.Duration
	maxCalls int
}

func New(client *redis.Client, window time.Duration, maxCalls int) *Limiter {
	return &Limiter{client: client, window: window, maxCalls: maxCalls}
}

// Allow counts the call and reports whether it is within the window's
// budget. Redis errors fail open: a degraded cache should not take the API
// down with it.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := time.Now().Unix() / int64(l.window.Seconds())
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, bucket)

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, err
	}

	return count.Val() <= int64(l.maxCalls), nil
}
