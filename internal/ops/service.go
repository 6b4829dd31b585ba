// Package ops holds the operator actions shared by the admin API and digestctl: job
// inspection and retry, manual reprocessing, flag management, outbox replay and
// forwarding address assignment.
package ops

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"digestgenie/contracts/db"
	"digestgenie/internal/repository"
	"digestgenie/pkg/featureflag"
	"digestgenie/pkg/logger"
	"digestgenie/pkg/mailaddr"
	"digestgenie/pkg/trace"
)

var (
	ErrAlreadyProcessed = errors.New("email already processed")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotConfigured    = errors.New("operation not configured")
)

type JobStore interface {
	List(ctx context.Context, f repository.JobFilter) ([]*db.ProcessingJob, error)
	Retry(ctx context.Context, id string, now time.Time) error
	Enqueue(ctx context.Context, jobType string, payload any, maxAttempts int, scheduledAt time.Time) (string, error)
}

type EmailStore interface {
	FindRawByID(ctx context.Context, id string) (*db.RawEmail, error)
	ListUnprocessed(ctx context.Context, userID string, limit uint64) ([]*db.RawEmail, error)
}

type NewsletterStore interface {
	List(ctx context.Context, f repository.NewsletterFilter) ([]*db.Newsletter, error)
}

type FlagLister interface {
	ListFlags(ctx context.Context) ([]*featureflag.Flag, error)
}

// FlagWriter is satisfied by *featureflag.Cache so writes invalidate the local cache.
type FlagWriter interface {
	Set(ctx context.Context, flag *featureflag.Flag) error
}

type AddressStore interface {
	SystemEmailExists(ctx context.Context, addr string) (bool, error)
	AssignSystemEmail(ctx context.Context, userID, addr string) (string, error)
}

type Replayer interface {
	ReplayEvent(ctx context.Context, eventID int64) error
	ReplayFailedEvents(ctx context.Context, limit int) (int, error)
}

// Deps lists the stores an operator service works on. Outbox may be nil when the caller
// has no broker connection.
type Deps struct {
	Jobs        JobStore
	Emails      EmailStore
	Newsletters NewsletterStore
	Flags       FlagLister
	FlagWriter  FlagWriter
	Users       AddressStore
	Outbox      Replayer
}

type Service struct {
	deps        Deps
	addresses   mailaddr.Generator
	maxAttempts int
	now         func() time.Time
	logger      *zap.Logger
}

func NewService(deps Deps, domain string, maxAttempts int, logger *zap.Logger) *Service {
	return &Service{
		deps:        deps,
		addresses:   mailaddr.Generator{Domain: domain},
		maxAttempts: maxAttempts,
		now:         time.Now,
		logger:      logger,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.addresses.Now = now
	return s
}

func (s *Service) ListJobs(ctx context.Context, f repository.JobFilter) ([]*db.ProcessingJob, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, f.Status)
	}
	return s.deps.Jobs.List(ctx, f)
}

// RetryJob resets a failed job to pending with a fresh attempt budget.
func (s *Service) RetryJob(ctx context.Context, id string) error {
	if err := s.deps.Jobs.Retry(ctx, id, s.now()); err != nil {
		return err
	}
	logger.WithTrace(ctx, s.logger).Info("Job retried by operator", zap.String("job_id", id))
	return nil
}

// Reprocess enqueues a new email_processing job for an email the pipeline never finished.
func (s *Service) Reprocess(ctx context.Context, rawEmailID string) (string, error) {
	email, err := s.deps.Emails.FindRawByID(ctx, rawEmailID)
	if err != nil {
		return "", err
	}
	if email.Processed {
		return "", ErrAlreadyProcessed
	}

	payload := db.EmailJobPayload{RawEmailID: email.ID, TraceID: trace.FromContext(ctx)}
	jobID, err := s.deps.Jobs.Enqueue(ctx, db.JobTypeEmailProcessing, payload, s.maxAttempts, s.now())
	if err != nil {
		return "", err
	}
	logger.WithTrace(ctx, s.logger).Info("Email queued for reprocessing",
		zap.String("raw_email_id", email.ID),
		zap.String("job_id", jobID),
	)
	return jobID, nil
}

func (s *Service) ListUnprocessed(ctx context.Context, userID string, limit uint64) ([]*db.RawEmail, error) {
	if limit == 0 || limit > 500 {
		limit = 50
	}
	return s.deps.Emails.ListUnprocessed(ctx, userID, limit)
}

func (s *Service) ListNewsletters(ctx context.Context, f repository.NewsletterFilter) ([]*db.Newsletter, error) {
	return s.deps.Newsletters.List(ctx, f)
}

func (s *Service) ListFlags(ctx context.Context) ([]*featureflag.Flag, error) {
	return s.deps.Flags.ListFlags(ctx)
}

func (s *Service) SetFlag(ctx context.Context, flag *featureflag.Flag) error {
	flag.Name = strings.TrimSpace(flag.Name)
	if flag.Name == "" {
		return fmt.Errorf("%w: flag name is required", ErrInvalidInput)
	}
	if flag.RolloutPercentage < 0 || flag.RolloutPercentage > 100 {
		return fmt.Errorf("%w: rollout percentage must be within 0..100", ErrInvalidInput)
	}
	if err := s.deps.FlagWriter.Set(ctx, flag); err != nil {
		return err
	}
	logger.WithTrace(ctx, s.logger).Info("Feature flag updated",
		zap.String("flag", flag.Name),
		zap.Bool("enabled", flag.Enabled),
		zap.Int("rollout", flag.RolloutPercentage),
	)
	return nil
}

func (s *Service) ReplayEvent(ctx context.Context, eventID int64) error {
	if s.deps.Outbox == nil {
		return ErrNotConfigured
	}
	return s.deps.Outbox.ReplayEvent(ctx, eventID)
}

func (s *Service) ReplayFailed(ctx context.Context, limit int) (int, error) {
	if s.deps.Outbox == nil {
		return 0, ErrNotConfigured
	}
	if limit <= 0 {
		limit = 100
	}
	return s.deps.Outbox.ReplayFailedEvents(ctx, limit)
}

// AssignAddress gives the user a forwarding address, keeping one that already exists.
func (s *Service) AssignAddress(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	addr, err := s.addresses.Allocate(ctx, userID, s.deps.Users.SystemEmailExists)
	if err != nil {
		return "", err
	}
	return s.deps.Users.AssignSystemEmail(ctx, userID, addr)
}
