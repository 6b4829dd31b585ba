package util

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RetryCounter counts failed deliveries of one message across redeliveries and
// consumer restarts. Counts expire after ttl so abandoned keys clean themselves up.
type RetryCounter struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRetryCounter(rdb *redis.Client, ttl time.Duration) *RetryCounter {
	return &RetryCounter{rdb: rdb, ttl: ttl}
}

// IncrementAndGet bumps the counter and refreshes its expiry in one round trip.
func (r *RetryCounter) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	var incr *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Reset forgets the failures of a message once it was handled or parked.
func (r *RetryCounter) Reset(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

// FormatRetryKey 生成重试计数 key: retry:<handler>:<id>
func FormatRetryKey(handler, id string) string {
	return "retry:" + handler + ":" + id
}
