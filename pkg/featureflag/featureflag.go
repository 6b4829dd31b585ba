// Package featureflag evaluates rollout flags from a store through an in-process TTL cache.
package featureflag

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
	"unicode/utf16"

	"go.uber.org/zap"
)

const (
	AISummaries  = "ai_summaries"
	AIThumbnails = "ai_thumbnails"
)

var ErrNotFound = errors.New("feature flag not found")

type Flag struct {
	Name              string    `json:"name"`
	Enabled           bool      `json:"enabled"`
	RolloutPercentage int       `json:"rollout_percentage"`
	TargetUsers       []string  `json:"target_users"`
	Description       string    `json:"description"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Evaluate reports whether the flag is on for userID. An empty userID only passes a full rollout.
func (f *Flag) Evaluate(userID string) bool {
	if f == nil || !f.Enabled {
		return false
	}
	if f.RolloutPercentage < 100 {
		if userID == "" || UserBucket(userID) >= int64(f.RolloutPercentage) {
			return false
		}
	}
	if len(f.TargetUsers) > 0 {
		return slices.Contains(f.TargetUsers, userID)
	}
	return true
}

// UserBucket maps a user id to a stable bucket in [0, 100).
func UserBucket(userID string) int64 {
	var h int32
	for _, c := range utf16.Encode([]rune(userID)) {
		h = h*31 + int32(c)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return abs % 100
}

type Store interface {
	GetFlag(ctx context.Context, name string) (*Flag, error)
	UpsertFlag(ctx context.Context, flag *Flag) error
}

type entry struct {
	flag      *Flag // nil caches a miss
	expiresAt time.Time
}

// Cache is safe for concurrent use. Construct one per process and share it.
type Cache struct {
	store    Store
	ttl      time.Duration
	now      func() time.Time
	defaults map[string]bool
	logger   *zap.Logger

	mu      sync.Mutex
	entries map[string]entry
}

func NewCache(store Store, ttl time.Duration, now func() time.Time, defaults map[string]bool, logger *zap.Logger) *Cache {
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:    store,
		ttl:      ttl,
		now:      now,
		defaults: defaults,
		logger:   logger,
		entries:  make(map[string]entry),
	}
}

// Get returns the cached flag, loading it from the store once the entry expired.
// A missing flag yields (nil, nil).
func (c *Cache) Get(ctx context.Context, name string) (*Flag, error) {
	c.mu.Lock()
	e, ok := c.entries[name]
	c.mu.Unlock()
	if ok && c.now().Before(e.expiresAt) {
		return e.flag, nil
	}

	flag, err := c.store.GetFlag(ctx, name)
	if errors.Is(err, ErrNotFound) {
		flag, err = nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[name] = entry{flag: flag, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return flag, nil
}

// IsEnabled never fails: store errors and unknown flags fall back to the configured default.
func (c *Cache) IsEnabled(ctx context.Context, name, userID string) bool {
	flag, err := c.Get(ctx, name)
	if err != nil {
		c.logger.Warn("feature flag lookup failed, using default",
			zap.String("flag", name),
			zap.Error(err),
		)
		return c.defaults[name]
	}
	if flag == nil {
		return c.defaults[name]
	}
	return flag.Evaluate(userID)
}

func (c *Cache) Set(ctx context.Context, flag *Flag) error {
	if flag.RolloutPercentage < 0 || flag.RolloutPercentage > 100 {
		return errors.New("rollout percentage must be within 0..100")
	}
	flag.UpdatedAt = c.now()
	if err := c.store.UpsertFlag(ctx, flag); err != nil {
		return err
	}
	c.Invalidate(flag.Name)
	return nil
}

func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}
