package ops

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"digestgenie/contracts/db"
	"digestgenie/internal/repository"
	"digestgenie/pkg/featureflag"
)

type fakeJobs struct {
	jobs     map[string]*db.ProcessingJob
	enqueued []any
}

func (f *fakeJobs) List(_ context.Context, flt repository.JobFilter) ([]*db.ProcessingJob, error) {
	out := []*db.ProcessingJob{}
	for _, j := range f.jobs {
		if flt.Status == "" || j.Status == flt.Status {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeJobs) Retry(_ context.Context, id string, now time.Time) error {
	j, ok := f.jobs[id]
	if !ok || j.Status != db.JobFailed {
		return repository.ErrNotFound
	}
	j.Status, j.Attempts, j.ScheduledAt = db.JobPending, 0, now
	return nil
}

func (f *fakeJobs) Enqueue(_ context.Context, jobType string, payload any, _ int, at time.Time) (string, error) {
	f.enqueued = append(f.enqueued, payload)
	body, _ := json.Marshal(payload)
	id := "job-new"
	f.jobs[id] = &db.ProcessingJob{ID: id, JobType: jobType, Payload: body, Status: db.JobPending, ScheduledAt: at}
	return id, nil
}

type fakeEmails map[string]*db.RawEmail

func (f fakeEmails) FindRawByID(_ context.Context, id string) (*db.RawEmail, error) {
	if e, ok := f[id]; ok {
		return e, nil
	}
	return nil, repository.ErrNotFound
}

func (f fakeEmails) ListUnprocessed(_ context.Context, _ string, limit uint64) ([]*db.RawEmail, error) {
	out := []*db.RawEmail{}
	for _, e := range f {
		if !e.Processed && uint64(len(out)) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeFlags struct{ set []*featureflag.Flag }

func (f *fakeFlags) ListFlags(context.Context) ([]*featureflag.Flag, error) { return f.set, nil }
func (f *fakeFlags) Set(_ context.Context, flag *featureflag.Flag) error {
	f.set = append(f.set, flag)
	return nil
}

type fakeUsers struct {
	taken    map[string]bool
	assigned map[string]string
}

func (f *fakeUsers) SystemEmailExists(_ context.Context, addr string) (bool, error) {
	return f.taken[addr], nil
}

func (f *fakeUsers) AssignSystemEmail(_ context.Context, userID, addr string) (string, error) {
	if existing, ok := f.assigned[userID]; ok {
		return existing, nil
	}
	f.assigned[userID] = addr
	return addr, nil
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService() (*Service, *fakeJobs, *fakeFlags, *fakeUsers) {
	jobs := &fakeJobs{jobs: map[string]*db.ProcessingJob{
		"job-failed": {ID: "job-failed", Status: db.JobFailed, Attempts: 3},
		"job-done":   {ID: "job-done", Status: db.JobCompleted, Attempts: 1},
	}}
	emails := fakeEmails{
		"raw-1": {ID: "raw-1", Processed: false},
		"raw-2": {ID: "raw-2", Processed: true},
	}
	flags := &fakeFlags{}
	users := &fakeUsers{taken: map[string]bool{}, assigned: map[string]string{}}
	svc := NewService(Deps{
		Jobs:       jobs,
		Emails:     emails,
		Flags:      flags,
		FlagWriter: flags,
		Users:      users,
	}, "newsletters.localhost", 3, zap.NewNop()).WithClock(func() time.Time { return now })
	return svc, jobs, flags, users
}

func TestRetryJob(t *testing.T) {
	t.Parallel()

	svc, jobs, _, _ := newTestService()
	if err := svc.RetryJob(context.Background(), "job-failed"); err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if j := jobs.jobs["job-failed"]; j.Status != db.JobPending || j.Attempts != 0 || !j.ScheduledAt.Equal(now) {
		t.Fatalf("job = %+v", j)
	}
	if err := svc.RetryJob(context.Background(), "job-done"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("completed job must not be retried, got %v", err)
	}
}

func TestListJobsRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestService()
	if _, err := svc.ListJobs(context.Background(), repository.JobFilter{Status: "stuck"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	jobs, err := svc.ListJobs(context.Background(), repository.JobFilter{Status: db.JobFailed})
	if err != nil || len(jobs) != 1 {
		t.Fatalf("failed jobs = %v, %v", jobs, err)
	}
}

func TestReprocess(t *testing.T) {
	t.Parallel()

	svc, jobs, _, _ := newTestService()

	id, err := svc.Reprocess(context.Background(), "raw-1")
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	var payload db.EmailJobPayload
	if err := json.Unmarshal(jobs.jobs[id].Payload, &payload); err != nil || payload.RawEmailID != "raw-1" {
		t.Fatalf("payload = %+v, %v", payload, err)
	}
	if jobs.jobs[id].JobType != db.JobTypeEmailProcessing {
		t.Fatalf("job type = %s", jobs.jobs[id].JobType)
	}

	if _, err := svc.Reprocess(context.Background(), "raw-2"); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	if _, err := svc.Reprocess(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetFlagValidation(t *testing.T) {
	t.Parallel()

	svc, _, flags, _ := newTestService()
	if err := svc.SetFlag(context.Background(), &featureflag.Flag{Name: " ", Enabled: true}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty name: %v", err)
	}
	if err := svc.SetFlag(context.Background(), &featureflag.Flag{Name: "ai_summaries", RolloutPercentage: 120}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("rollout > 100: %v", err)
	}
	if err := svc.SetFlag(context.Background(), &featureflag.Flag{Name: " ai_summaries ", Enabled: true, RolloutPercentage: 50}); err != nil {
		t.Fatalf("SetFlag: %v", err)
	}
	if len(flags.set) != 1 || flags.set[0].Name != "ai_summaries" {
		t.Fatalf("stored = %+v", flags.set)
	}
}

func TestReplayWithoutBroker(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestService()
	if err := svc.ReplayEvent(context.Background(), 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestAssignAddressKeepsExisting(t *testing.T) {
	t.Parallel()

	svc, _, _, users := newTestService()
	addr, err := svc.AssignAddress(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("AssignAddress: %v", err)
	}
	if !strings.HasPrefix(addr, "user-") || !strings.HasSuffix(addr, "@newsletters.localhost") {
		t.Fatalf("address = %q", addr)
	}

	again, err := svc.AssignAddress(context.Background(), "user-1")
	if err != nil || again != addr {
		t.Fatalf("second assignment = %q, %v", again, err)
	}
	if len(users.assigned) != 1 {
		t.Fatalf("assigned = %v", users.assigned)
	}
}
