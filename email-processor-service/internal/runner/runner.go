// Package runner drives processing_jobs: claim a small batch, run each job's handler, record the
// outcome, repeat.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"digestgenie/contracts/db"
	"digestgenie/pkg/config"
	"digestgenie/pkg/logger"
	"digestgenie/pkg/metrics"
	"digestgenie/pkg/trace"
)

// Store is the subset of the job repository the runner needs.
type Store interface {
	ClaimPending(ctx context.Context, limit int, now time.Time) ([]*db.ProcessingJob, error)
	// RecoverStale handles processing jobs started before staleBefore: back to pending while
	// attempts remain, failed otherwise.
	RecoverStale(ctx context.Context, staleBefore, now time.Time) (requeued, failed int64, err error)
	// Release returns claimed jobs that never ran to pending and refunds their attempt.
	Release(ctx context.Context, ids []string) error
	MarkCompleted(ctx context.Context, id string, at time.Time) error
	Requeue(ctx context.Context, id string, at time.Time, reason string) error
	MarkFailed(ctx context.Context, id string, at time.Time, reason string) error
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// HandlerFunc processes one claimed job.
type HandlerFunc func(ctx context.Context, job *db.ProcessingJob) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the job fails on this attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// staleGrace is added to the job timeout before a processing job counts as abandoned.
const staleGrace = time.Minute

// outcomeTimeout bounds outcome writes, which run detached from the caller's cancellation.
const outcomeTimeout = 10 * time.Second

// Stats summarizes one RunOnce cycle.
type Stats struct {
	Recovered int
	Claimed   int
	Completed int
	Requeued  int
	Failed    int
	Collected int64
}

type Runner struct {
	store    Store
	handlers map[string]HandlerFunc
	logger   *zap.Logger

	batchSize    int
	backoff      time.Duration
	interval     time.Duration
	errorBackoff time.Duration
	jobTimeout   time.Duration
	retention    time.Duration
	gcInterval   time.Duration

	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
	wake   chan struct{}
	lastGC time.Time
}

func New(store Store, logger *zap.Logger) *Runner {
	return &Runner{
		store:        store,
		handlers:     make(map[string]HandlerFunc),
		logger:       logger,
		batchSize:    5,
		backoff:      5 * time.Minute,
		interval:     30 * time.Second,
		errorBackoff: 60 * time.Second,
		jobTimeout:   2 * time.Minute,
		retention:    7 * 24 * time.Hour,
		gcInterval:   time.Hour,
		now:          time.Now,
		after:        time.After,
		wake:         make(chan struct{}, 1),
	}
}

// WithConfig applies a RunnerConfig; zero fields keep the current values.
func (r *Runner) WithConfig(cfg config.RunnerConfig) *Runner {
	if cfg.BatchSize > 0 {
		r.batchSize = cfg.BatchSize
	}
	if cfg.Backoff > 0 {
		r.backoff = cfg.Backoff
	}
	if cfg.Interval > 0 {
		r.interval = cfg.Interval
	}
	if cfg.ErrorBackoff > 0 {
		r.errorBackoff = cfg.ErrorBackoff
	}
	if cfg.JobTimeout > 0 {
		r.jobTimeout = cfg.JobTimeout
	}
	if cfg.Retention > 0 {
		r.retention = cfg.Retention
	}
	if cfg.GCInterval > 0 {
		r.gcInterval = cfg.GCInterval
	}
	return r
}

func (r *Runner) WithBatchSize(n int) *Runner {
	r.batchSize = n
	return r
}

func (r *Runner) WithBackoff(d time.Duration) *Runner {
	r.backoff = d
	return r
}

func (r *Runner) WithJobTimeout(d time.Duration) *Runner {
	r.jobTimeout = d
	return r
}

// WithClock replaces time.Now and time.After, so tests control every delay.
func (r *Runner) WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) *Runner {
	if now != nil {
		r.now = now
	}
	if after != nil {
		r.after = after
	}
	return r
}

func (r *Runner) Register(jobType string, h HandlerFunc) {
	r.handlers[jobType] = h
}

// Wake cuts the current idle wait short. Calls while a wake is pending are dropped.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start polls until ctx is cancelled. A store failure makes it wait errorBackoff instead of interval.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("Starting job runner",
		zap.Int("batch_size", r.batchSize),
		zap.Duration("interval", r.interval),
		zap.Duration("backoff", r.backoff),
	)
	for {
		wait := r.interval
		if _, err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			r.logger.Error("Job runner cycle failed, backing off",
				zap.Duration("backoff", r.errorBackoff),
				zap.Error(err),
			)
			wait = r.errorBackoff
		}

		select {
		case <-ctx.Done():
			r.logger.Info("Job runner stopped")
			return ctx.Err()
		case <-r.after(wait):
		case <-r.wake:
		}
	}
	r.logger.Info("Job runner stopped")
	return ctx.Err()
}

// RunOnce recovers abandoned jobs, then claims one batch and runs it sequentially. The returned
// error is store-level only; handler failures are recorded on the job. Claimed jobs that were not
// started when RunOnce returns early go back to pending.
func (r *Runner) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	now := r.now()
	requeued, failed, err := r.store.RecoverStale(ctx, now.Add(-(r.jobTimeout + staleGrace)), now)
	if err != nil {
		return stats, fmt.Errorf("recover stale jobs: %w", err)
	}
	stats.Recovered = int(requeued + failed)
	if stats.Recovered > 0 {
		r.logger.Warn("Recovered abandoned jobs",
			zap.Int64("requeued", requeued),
			zap.Int64("failed", failed),
		)
	}

	jobs, err := r.store.ClaimPending(ctx, r.batchSize, now)
	if err != nil {
		return stats, fmt.Errorf("claim jobs: %w", err)
	}
	stats.Claimed = len(jobs)

	for i, job := range jobs {
		if ctx.Err() != nil {
			r.release(ctx, jobs[i:])
			return stats, ctx.Err()
		}
		outcome, err := r.runJob(ctx, job)
		if err != nil {
			r.release(ctx, jobs[i+1:])
			return stats, err
		}
		switch outcome {
		case db.JobCompleted:
			stats.Completed++
		case db.JobPending:
			stats.Requeued++
		case db.JobFailed:
			stats.Failed++
		}
	}

	n, err := r.collectGarbage(ctx)
	if err != nil {
		return stats, err
	}
	stats.Collected = n
	return stats, nil
}

// release puts unstarted claims back. A failure here is left to RecoverStale.
func (r *Runner) release(ctx context.Context, jobs []*db.ProcessingJob) {
	if len(jobs) == 0 {
		return
	}
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeTimeout)
	defer cancel()
	if err := r.store.Release(wctx, ids); err != nil {
		r.logger.Error("Failed to release claimed jobs", zap.Strings("job_ids", ids), zap.Error(err))
		return
	}
	r.logger.Info("Released unstarted jobs", zap.Strings("job_ids", ids))
}

// runJob returns an error only when the outcome could not be recorded.
func (r *Runner) runJob(ctx context.Context, job *db.ProcessingJob) (db.JobStatus, error) {
	jobCtx := trace.WithContext(ctx, jobTraceID(job))
	log := logger.WithTrace(jobCtx, r.logger).With(
		zap.String("job_id", job.ID),
		zap.String("job_type", job.JobType),
		zap.Int("attempt", job.Attempts),
	)

	start := r.now()
	herr := r.invoke(jobCtx, job)
	finished := r.now()

	// The outcome must land even when the runner is shutting down.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeTimeout)
	defer cancel()

	if herr == nil {
		if err := r.store.MarkCompleted(wctx, job.ID, finished); err != nil {
			return "", fmt.Errorf("mark job %s completed: %w", job.ID, err)
		}
		metrics.RecordJob(job.JobType, "completed", finished.Sub(start))
		log.Info("Job completed")
		return db.JobCompleted, nil
	}

	if !IsPermanent(herr) && job.Attempts < job.MaxAttempts {
		next := finished.Add(r.backoff)
		if err := r.store.Requeue(wctx, job.ID, next, herr.Error()); err != nil {
			return "", fmt.Errorf("requeue job %s: %w", job.ID, err)
		}
		metrics.RecordJob(job.JobType, "requeued", finished.Sub(start))
		log.Warn("Job failed, requeued", zap.Time("scheduled_at", next), zap.Error(herr))
		return db.JobPending, nil
	}

	if err := r.store.MarkFailed(wctx, job.ID, finished, herr.Error()); err != nil {
		return "", fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}
	metrics.RecordJob(job.JobType, "failed", finished.Sub(start))
	log.Error("Job failed permanently", zap.Bool("permanent", IsPermanent(herr)), zap.Error(herr))
	return db.JobFailed, nil
}

func (r *Runner) invoke(ctx context.Context, job *db.ProcessingJob) (err error) {
	h, ok := r.handlers[job.JobType]
	if !ok {
		return Permanent(fmt.Errorf("no handler for job type %q", job.JobType))
	}

	ctx, cancel := context.WithTimeout(ctx, r.jobTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(ctx, job)
}

func (r *Runner) collectGarbage(ctx context.Context) (int64, error) {
	now := r.now()
	if !r.lastGC.IsZero() && now.Sub(r.lastGC) < r.gcInterval {
		return 0, nil
	}
	n, err := r.store.DeleteCompletedBefore(ctx, now.Add(-r.retention))
	if err != nil {
		return 0, fmt.Errorf("delete completed jobs: %w", err)
	}
	r.lastGC = now
	if n > 0 {
		r.logger.Info("Collected completed jobs", zap.Int64("deleted", n))
	}
	return n, nil
}

func jobTraceID(job *db.ProcessingJob) string {
	var p struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(job.Payload, &p); err == nil && p.TraceID != "" {
		return p.TraceID
	}
	return trace.GenerateTraceID()
}
