package featureflag

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingStore struct {
	flags map[string]*Flag
	gets  int
	err   error
}

func (s *countingStore) GetFlag(_ context.Context, name string) (*Flag, error) {
	s.gets++
	if s.err != nil {
		return nil, s.err
	}
	f, ok := s.flags[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *countingStore) UpsertFlag(_ context.Context, f *Flag) error {
	cp := *f
	s.flags[f.Name] = &cp
	return nil
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func TestCacheHonorsTTL(t *testing.T) {
	t.Parallel()

	store := &countingStore{flags: map[string]*Flag{
		AISummaries: {Name: AISummaries, Enabled: true, RolloutPercentage: 100},
	}}
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewCache(store, time.Minute, clk.Now, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !cache.IsEnabled(ctx, AISummaries, "u1") {
			t.Fatal("expected flag enabled")
		}
	}
	if store.gets != 1 {
		t.Fatalf("expected 1 store read within TTL, got %d", store.gets)
	}

	clk.t = clk.t.Add(time.Minute)
	cache.IsEnabled(ctx, AISummaries, "u1")
	if store.gets != 2 {
		t.Fatalf("expected reload after TTL, got %d reads", store.gets)
	}
}

func TestSetInvalidates(t *testing.T) {
	t.Parallel()

	store := &countingStore{flags: map[string]*Flag{}}
	clk := &clock{t: time.Unix(100, 0)}
	cache := NewCache(store, time.Hour, clk.Now, nil, nil)
	ctx := context.Background()

	if cache.IsEnabled(ctx, AIThumbnails, "u1") {
		t.Fatal("unknown flag without default should be off")
	}
	if err := cache.Set(ctx, &Flag{Name: AIThumbnails, Enabled: true, RolloutPercentage: 100}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !cache.IsEnabled(ctx, AIThumbnails, "u1") {
		t.Fatal("expected flag visible immediately after Set")
	}
}

func TestDefaultsOnStoreError(t *testing.T) {
	t.Parallel()

	store := &countingStore{err: errors.New("db down")}
	cache := NewCache(store, time.Minute, nil, map[string]bool{AISummaries: true}, nil)

	if !cache.IsEnabled(context.Background(), AISummaries, "u1") {
		t.Fatal("expected configured default on store error")
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		flag *Flag
		user string
		want bool
	}{
		{"disabled", &Flag{Enabled: false, RolloutPercentage: 100}, "u1", false},
		{"full rollout", &Flag{Enabled: true, RolloutPercentage: 100}, "u1", true},
		{"zero rollout", &Flag{Enabled: true, RolloutPercentage: 0}, "u1", false},
		{"partial without user", &Flag{Enabled: true, RolloutPercentage: 99}, "", false},
		{"targeted hit", &Flag{Enabled: true, RolloutPercentage: 100, TargetUsers: []string{"u1"}}, "u1", true},
		{"targeted miss", &Flag{Enabled: true, RolloutPercentage: 100, TargetUsers: []string{"u2"}}, "u1", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.flag.Evaluate(tc.user); got != tc.want {
				t.Fatalf("Evaluate(%q) = %v, want %v", tc.user, got, tc.want)
			}
		})
	}
}

func TestUserBucketStable(t *testing.T) {
	t.Parallel()

	// "abc": ((97*31)+98)*31+99 = 96354
	if got := UserBucket("abc"); got != 54 {
		t.Fatalf("UserBucket(abc) = %d, want 54", got)
	}
	for _, id := range []string{"", "user-1", "a-very-long-user-identifier-that-overflows-int32"} {
		b := UserBucket(id)
		if b < 0 || b >= 100 || b != UserBucket(id) {
			t.Fatalf("bucket for %q out of range or unstable: %d", id, b)
		}
	}
}
