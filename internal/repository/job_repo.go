package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"digestgenie/contracts/db"
)

type JobRepository struct {
	db *pgxpool.Pool
}

func NewJobRepository(db *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: db}
}

var jobColumns = []string{
	"id", "job_type", "payload", "status", "attempts", "max_attempts",
	"scheduled_at", "started_at", "completed_at", "error_message", "created_at",
}

func scanJob(row pgx.Row) (*db.ProcessingJob, error) {
	var j db.ProcessingJob
	err := row.Scan(
		&j.ID,
		&j.JobType,
		&j.Payload,
		&j.Status,
		&j.Attempts,
		&j.MaxAttempts,
		&j.ScheduledAt,
		&j.StartedAt,
		&j.CompletedAt,
		&j.ErrorMessage,
		&j.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*db.ProcessingJob, error) {
	defer rows.Close()
	jobs := []*db.ProcessingJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// EnqueueTx inserts a pending job; use it in the same transaction as the data it refers to.
func EnqueueTx(ctx context.Context, q DBTX, jobType string, payload any, maxAttempts int, scheduledAt time.Time) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	id := uuid.NewString()
	_, err = q.Exec(ctx, `
        INSERT INTO processing_jobs (id, job_type, payload, status, attempts, max_attempts, scheduled_at)
        VALUES ($1, $2, $3, 'pending', 0, $4, $5)
    `, id, jobType, body, maxAttempts, scheduledAt)
	if err != nil {
		return "", fmt.Errorf("enqueue %s job: %w", jobType, err)
	}
	return id, nil
}

func (r *JobRepository) Enqueue(ctx context.Context, jobType string, payload any, maxAttempts int, scheduledAt time.Time) (string, error) {
	return EnqueueTx(ctx, r.db, jobType, payload, maxAttempts, scheduledAt)
}

// ClaimPending atomically moves up to limit due jobs to processing and bumps attempts.
// SKIP LOCKED lets concurrent runners claim disjoint sets.
func (r *JobRepository) ClaimPending(ctx context.Context, limit int, now time.Time) ([]*db.ProcessingJob, error) {
	due := sq.Select("id").
		From("processing_jobs").
		Where(sq.Eq{"status": db.JobPending}).
		Where("attempts < max_attempts").
		Where(sq.LtOrEq{"scheduled_at": now}).
		OrderBy("scheduled_at ASC").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED")

	query, args, err := psql.Update("processing_jobs").
		Set("status", db.JobProcessing).
		Set("started_at", now).
		Set("attempts", sq.Expr("attempts + 1")).
		Where(sq.Expr("id IN (?)", due)).
		Suffix("RETURNING " + strings.Join(jobColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING does not preserve the subquery order.
	sort.SliceStable(jobs, func(i, k int) bool { return jobs[i].ScheduledAt.Before(jobs[k].ScheduledAt) })
	return jobs, nil
}

// RecoverStale sweeps processing jobs whose claim is older than staleBefore. The runner that
// claimed them died or lost its outcome write; they are retried while attempts remain.
func (r *JobRepository) RecoverStale(ctx context.Context, staleBefore, now time.Time) (int64, int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	requeued, err := tx.Exec(ctx, `
        UPDATE processing_jobs
        SET status = 'pending', scheduled_at = $2, error_message = 'abandoned while processing'
        WHERE status = 'processing' AND started_at < $1 AND attempts < max_attempts
    `, staleBefore, now)
	if err != nil {
		return 0, 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	failed, err := tx.Exec(ctx, `
        UPDATE processing_jobs
        SET status = 'failed', completed_at = $2, error_message = 'abandoned while processing'
        WHERE status = 'processing' AND started_at < $1
    `, staleBefore, now)
	if err != nil {
		return 0, 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return requeued.RowsAffected(), failed.RowsAffected(), nil
}

// Release undoes a claim for jobs whose handler never started.
func (r *JobRepository) Release(ctx context.Context, ids []string) error {
	_, err := r.db.Exec(ctx, `
        UPDATE processing_jobs
        SET status = 'pending', started_at = NULL, attempts = GREATEST(attempts - 1, 0)
        WHERE id = ANY($1) AND status = 'processing'
    `, ids)
	return err
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
        UPDATE processing_jobs
        SET status = 'completed', completed_at = $2, error_message = NULL
        WHERE id = $1
    `, id, at)
	return err
}

// Requeue puts a failed attempt back to pending at the given time.
func (r *JobRepository) Requeue(ctx context.Context, id string, at time.Time, reason string) error {
	_, err := r.db.Exec(ctx, `
        UPDATE processing_jobs
        SET status = 'pending', scheduled_at = $2, error_message = $3
        WHERE id = $1
    `, id, at, reason)
	return err
}

// MarkFailed is terminal: the claim query never selects failed jobs.
func (r *JobRepository) MarkFailed(ctx context.Context, id string, at time.Time, reason string) error {
	_, err := r.db.Exec(ctx, `
        UPDATE processing_jobs
        SET status = 'failed', completed_at = $2, error_message = $3
        WHERE id = $1
    `, id, at, reason)
	return err
}

func (r *JobRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
        DELETE FROM processing_jobs
        WHERE status = 'completed' AND completed_at < $1
    `, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *JobRepository) FindByID(ctx context.Context, id string) (*db.ProcessingJob, error) {
	query, args, err := psql.Select(jobColumns...).From("processing_jobs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	return scanJob(r.db.QueryRow(ctx, query, args...))
}

// JobFilter narrows List; zero values mean no filter.
type JobFilter struct {
	Status  db.JobStatus
	JobType string
	Limit   uint64
	Offset  uint64
}

func (r *JobRepository) List(ctx context.Context, f JobFilter) ([]*db.ProcessingJob, error) {
	builder := psql.Select(jobColumns...).From("processing_jobs").OrderBy("scheduled_at DESC")
	if f.Status != "" {
		builder = builder.Where(sq.Eq{"status": f.Status})
	}
	if f.JobType != "" {
		builder = builder.Where(sq.Eq{"job_type": f.JobType})
	}
	if f.Limit == 0 || f.Limit > 500 {
		f.Limit = 50
	}
	query, args, err := builder.Limit(f.Limit).Offset(f.Offset).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// Retry gives a failed job a fresh set of attempts. Only failed jobs qualify.
func (r *JobRepository) Retry(ctx context.Context, id string, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE processing_jobs
        SET status = 'pending', attempts = 0, scheduled_at = $2, started_at = NULL,
            completed_at = NULL, error_message = NULL
        WHERE id = $1 AND status = 'failed'
    `, id, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

