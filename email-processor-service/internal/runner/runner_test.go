package runner

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"digestgenie/contracts/db"
)

type memStore struct {
	mu       sync.Mutex
	jobs     map[string]*db.ProcessingJob
	claimErr error
	gcCalls  int
}

func newMemStore(jobs ...*db.ProcessingJob) *memStore {
	s := &memStore{jobs: make(map[string]*db.ProcessingJob)}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *memStore) ClaimPending(_ context.Context, limit int, now time.Time) ([]*db.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	var due []*db.ProcessingJob
	for _, j := range s.jobs {
		if j.Status == db.JobPending && j.Attempts < j.MaxAttempts && !j.ScheduledAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].ScheduledAt.Before(due[k].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]*db.ProcessingJob, 0, len(due))
	for _, j := range due {
		j.Status = db.JobProcessing
		j.Attempts++
		started := now
		j.StartedAt = &started
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Status = db.JobCompleted
	s.jobs[id].CompletedAt = &at
	return nil
}

func (s *memStore) Requeue(ctx context.Context, id string, at time.Time, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Status = db.JobPending
	s.jobs[id].ScheduledAt = at
	s.jobs[id].ErrorMessage = &reason
	return nil
}

func (s *memStore) MarkFailed(ctx context.Context, id string, at time.Time, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Status = db.JobFailed
	s.jobs[id].CompletedAt = &at
	s.jobs[id].ErrorMessage = &reason
	return nil
}

func (s *memStore) RecoverStale(_ context.Context, staleBefore, now time.Time) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var requeued, failed int64
	for _, j := range s.jobs {
		if j.Status != db.JobProcessing || j.StartedAt == nil || !j.StartedAt.Before(staleBefore) {
			continue
		}
		if j.Attempts < j.MaxAttempts {
			j.Status = db.JobPending
			j.ScheduledAt = now
			requeued++
		} else {
			j.Status = db.JobFailed
			j.CompletedAt = &now
			failed++
		}
	}
	return requeued, failed, nil
}

func (s *memStore) Release(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if j := s.jobs[id]; j.Status == db.JobProcessing {
			j.Status = db.JobPending
			j.StartedAt = nil
			j.Attempts--
		}
	}
	return nil
}

func (s *memStore) DeleteCompletedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gcCalls++
	var n int64
	for id, j := range s.jobs {
		if j.Status == db.JobCompleted && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) get(id string) db.ProcessingJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func pendingJob(id, jobType string, scheduled time.Time) *db.ProcessingJob {
	return &db.ProcessingJob{
		ID:          id,
		JobType:     jobType,
		Payload:     []byte(`{"raw_email_id":"e1","trace_id":"t-1"}`),
		Status:      db.JobPending,
		MaxAttempts: 3,
		ScheduledAt: scheduled,
	}
}

func newTestRunner(store Store, clock *fakeClock) *Runner {
	return New(store, zap.NewNop()).WithClock(clock.Now, nil)
}

func TestRunOnceCompletesJob(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: epoch}
	store := newMemStore(pendingJob("j1", "email_processing", epoch))
	r := newTestRunner(store, clock)

	var seen string
	r.Register("email_processing", func(ctx context.Context, job *db.ProcessingJob) error {
		seen = job.ID
		return nil
	})

	stats, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if seen != "j1" || stats.Completed != 1 {
		t.Fatalf("unexpected stats %+v seen=%q", stats, seen)
	}
	if got := store.get("j1"); got.Status != db.JobCompleted || got.Attempts != 1 {
		t.Fatalf("unexpected job state %+v", got)
	}
}

func TestRetryCapThreeAttemptsThenFailed(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: epoch}
	store := newMemStore(pendingJob("j1", "email_processing", epoch))
	r := newTestRunner(store, clock)

	calls := 0
	r.Register("email_processing", func(context.Context, *db.ProcessingJob) error {
		calls++
		return errors.New("ai timeout")
	})

	wantStatus := []db.JobStatus{db.JobPending, db.JobPending, db.JobFailed}
	for i, want := range wantStatus {
		if _, err := r.RunOnce(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		got := store.get("j1")
		if got.Status != want {
			t.Fatalf("cycle %d: status %s, want %s", i, got.Status, want)
		}
		if want == db.JobPending && !got.ScheduledAt.Equal(clock.Now().Add(5*time.Minute)) {
			t.Fatalf("cycle %d: requeue at %v, want now+5m", i, got.ScheduledAt)
		}
		clock.Advance(5 * time.Minute)
	}

	clock.Advance(time.Hour)
	stats, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("final cycle: %v", err)
	}
	if stats.Claimed != 0 || calls != 3 {
		t.Fatalf("failed job must never be picked again: claimed=%d calls=%d", stats.Claimed, calls)
	}
}

func TestRequeuedJobWaitsForBackoff(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: epoch}
	store := newMemStore(pendingJob("j1", "email_processing", epoch))
	r := newTestRunner(store, clock)
	r.Register("email_processing", func(context.Context, *db.ProcessingJob) error { return errors.New("boom") })

	_, _ = r.RunOnce(context.Background())
	clock.Advance(4 * time.Minute)
	stats, _ := r.RunOnce(context.Background())
	if stats.Claimed != 0 {
		t.Fatalf("job claimed before its backoff elapsed")
	}
}

func TestPermanentErrorFailsImmediately(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: epoch}
	store := newMemStore(pendingJob("j1", "email_processing", epoch))
	r := newTestRunner(store, clock)
	r.Register("email_processing", func(context.Context, *db.ProcessingJob) error {
		return Permanent(errors.New("raw email missing"))
	})

	stats, err := r.RunOnce(context.Background())
	if err != nil || stats.Failed != 1 {
		t.Fatalf("stats=%+v err=%v", stats, err)
	}
	if got := store.get("j1"); got.Status != db.JobFailed || got.Attempts != 1 {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestUnknownJobTypeFails(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: epoch}
	store := newMemStore(pendingJob("j1", "mystery", epoch))
	r := newTestRunner(store, clock)

	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := store.get("j1"); got.Status != db.JobFailed {
		t.Fatalf("unknown job type should fail, got %s", got.Status)
	}
}

func TestPanicIsolatedFromSiblings(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: epoch}
	store := newMemStore(
		pendingJob("j1", "email_processing", epoch),
		pendingJob("j2", "email_processing", epoch.Add(time.Second)),
	)
	clock.Advance(time.Minute)
	r := newTestRunner(store, clock)
	r.Register("email_processing", func(_ context.Context, job *db.ProcessingJob) error {
		if job.ID == "j1" {
			panic("nil map")
		}
		return nil
	})

	stats, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Requeued != 1 || stats.Completed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if store.get("j2").Status != db.JobCompleted {
		t.Fatalf("sibling job should complete")
	}
}

func TestBatchSizeAndOrder(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: epoch.Add(time.Hour)}
	var jobs []*db.ProcessingJob
	for i := 0; i < 7; i++ {
		id := string(rune('a' + i))
		jobs = append(jobs, pendingJob(id, "email_processing", epoch.Add(time.Duration(6-i)*time.Minute)))
	}
	store := newMemStore(jobs...)
	r := newTestRunner(store, clock)

	var order []string
	r.Register("email_processing", func(_ context.Context, job *db.ProcessingJob) error {
		order = append(order, job.ID)
		return nil
	})

	stats, _ := r.RunOnce(context.Background())
	if stats.Claimed != 5 {
		t.Fatalf("claimed %d, want 5", stats.Claimed)
	}
	want := []string{"g", "f", "e", "d", "c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order %v, want %v", order, want)
		}
	}
}

func TestJobTimeoutCountsAsFailure(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: epoch}
	store := newMemStore(pendingJob("j1", "email_processing", epoch))
	r := newTestRunner(store, clock).WithJobTimeout(10 * time.Millisecond)
	r.Register("email_processing", func(ctx context.Context, _ *db.ProcessingJob) error {
		<-ctx.Done()
		return ctx.Err()
	})

	stats, err := r.RunOnce(context.Background())
	if err != nil || stats.Requeued != 1 {
		t.Fatalf("stats=%+v err=%v", stats, err)
	}
}

func TestGarbageCollectionRespectsRetentionAndInterval(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: epoch}
	old := epoch.Add(-8 * 24 * time.Hour)
	recent := epoch.Add(-24 * time.Hour)
	store := newMemStore(
		&db.ProcessingJob{ID: "old", Status: db.JobCompleted, CompletedAt: &old},
		&db.ProcessingJob{ID: "recent", Status: db.JobCompleted, CompletedAt: &recent},
	)
	r := newTestRunner(store, clock)

	stats, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Collected != 1 {
		t.Fatalf("collected %d, want 1", stats.Collected)
	}
	if _, ok := store.jobs["recent"]; !ok {
		t.Fatalf("job inside retention window was deleted")
	}

	clock.Advance(time.Minute)
	_, _ = r.RunOnce(context.Background())
	if store.gcCalls != 1 {
		t.Fatalf("gc ran %d times within one interval", store.gcCalls)
	}
}

func TestStartBacksOffOnStoreError(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: epoch}
	store := newMemStore()
	store.claimErr = errors.New("connection refused")

	ctx, cancel := context.WithCancel(context.Background())
	var waits []time.Duration
	after := func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		if len(waits) == 2 {
			store.mu.Lock()
			store.claimErr = nil
			store.mu.Unlock()
		}
		if len(waits) >= 3 {
			cancel()
			return make(chan time.Time)
		}
		ch := make(chan time.Time, 1)
		ch <- clock.Now()
		return ch
	}
	r := New(store, zap.NewNop()).WithClock(clock.Now, after)

	if err := r.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Start returned %v", err)
	}
	want := []time.Duration{60 * time.Second, 60 * time.Second, 30 * time.Second}
	if len(waits) < len(want) {
		t.Fatalf("waits %v, want prefix %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("waits %v, want prefix %v", waits, want)
		}
	}
}

func TestWakeSkipsIdleWait(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: epoch}
	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())

	cycles := 0
	r := New(store, zap.NewNop())
	after := func(time.Duration) <-chan time.Time {
		cycles++
		if cycles == 1 {
			r.Wake()
			r.Wake()
		} else {
			cancel()
		}
		return make(chan time.Time)
	}
	r.WithClock(clock.Now, after)

	if err := r.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Start returned %v", err)
	}
	if cycles != 2 {
		t.Fatalf("expected wake to trigger exactly one extra cycle, got %d waits", cycles)
	}
}

func TestCancelMidBatchReleasesUnstartedJobs(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: epoch.Add(time.Minute)}
	store := newMemStore(
		pendingJob("a", "email_processing", epoch),
		pendingJob("b", "email_processing", epoch.Add(time.Second)),
		pendingJob("c", "email_processing", epoch.Add(2*time.Second)),
	)
	r := newTestRunner(store, clock)

	ctx, cancel := context.WithCancel(context.Background())
	var ran []string
	r.Register("email_processing", func(_ context.Context, job *db.ProcessingJob) error {
		ran = append(ran, job.ID)
		cancel()
		return nil
	})

	if _, err := r.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("RunOnce returned %v", err)
	}
	if got := store.get("a"); got.Status != db.JobCompleted {
		t.Fatalf("in-flight job outcome lost on shutdown: %s", got.Status)
	}
	for _, id := range []string{"b", "c"} {
		got := store.get(id)
		if got.Status != db.JobPending || got.Attempts != 0 || got.StartedAt != nil {
			t.Fatalf("job %s = %+v, want released to pending", id, got)
		}
	}

	restarted := newTestRunner(store, clock)
	restarted.Register("email_processing", func(_ context.Context, job *db.ProcessingJob) error {
		ran = append(ran, job.ID)
		return nil
	})
	stats, err := restarted.RunOnce(context.Background())
	if err != nil || stats.Completed != 2 {
		t.Fatalf("after restart stats=%+v err=%v", stats, err)
	}
	if len(ran) != 3 {
		t.Fatalf("ran %v, want every job exactly once", ran)
	}
}

func TestAbandonedProcessingJobsAreRecovered(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: epoch}
	started := epoch.Add(-10 * time.Minute)
	fresh := epoch.Add(-30 * time.Second)
	store := newMemStore(
		&db.ProcessingJob{ID: "retry", JobType: "email_processing", Status: db.JobProcessing, Attempts: 1, MaxAttempts: 3, StartedAt: &started, ScheduledAt: started},
		&db.ProcessingJob{ID: "spent", JobType: "email_processing", Status: db.JobProcessing, Attempts: 3, MaxAttempts: 3, StartedAt: &started, ScheduledAt: started},
		&db.ProcessingJob{ID: "running", JobType: "email_processing", Status: db.JobProcessing, Attempts: 1, MaxAttempts: 3, StartedAt: &fresh, ScheduledAt: fresh},
	)
	r := newTestRunner(store, clock)

	var ran []string
	r.Register("email_processing", func(_ context.Context, job *db.ProcessingJob) error {
		ran = append(ran, job.ID)
		return nil
	})

	stats, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Recovered != 2 {
		t.Fatalf("recovered %d, want 2", stats.Recovered)
	}
	if got := store.get("retry"); got.Status != db.JobCompleted || got.Attempts != 2 {
		t.Fatalf("abandoned job with attempts left = %+v", got)
	}
	if got := store.get("spent"); got.Status != db.JobFailed {
		t.Fatalf("abandoned job without attempts left = %s, want failed", got.Status)
	}
	if got := store.get("running"); got.Status != db.JobProcessing {
		t.Fatalf("job inside its timeout must not be touched, got %s", got.Status)
	}
	if len(ran) != 1 || ran[0] != "retry" {
		t.Fatalf("ran %v", ran)
	}
}
