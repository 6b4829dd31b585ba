package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: zap.NewNop(),
	}
}

// NewDeduperWithLogger creates a deduper with logger support
func NewDeduperWithLogger(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// FormatDedupKey formats the redis key guarding handler + id.
func FormatDedupKey(handler, id string) string {
	return fmt.Sprintf("dedup:%s:%s", handler, id)
}

// AcquireOnce tries to acquire a dedup lock for a given handler + id.
// Returns true on the first call within the TTL and false for duplicates.
func (d *Deduper) AcquireOnce(ctx context.Context, handler, id string) bool {
	key := FormatDedupKey(handler, id)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		// Redis 不可用时不阻止处理，由数据库唯一约束兜底
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("handler", handler),
			zap.String("id", id),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Info("Skipped duplicated event",
			zap.String("handler", handler),
			zap.String("id", id),
			zap.String("dedup_key", key),
		)
	}

	return ok
}

// Release drops the lock so a later redelivery is processed again.
func (d *Deduper) Release(ctx context.Context, handler, id string) {
	if err := d.rdb.Del(ctx, FormatDedupKey(handler, id)).Err(); err != nil {
		d.logger.Warn("Redis dedup release failed",
			zap.String("handler", handler),
			zap.String("id", id),
			zap.Error(err),
		)
	}
}
