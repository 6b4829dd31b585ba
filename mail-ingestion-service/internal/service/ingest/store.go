package ingest

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"digestgenie/contracts/db"
	mqcontracts "digestgenie/contracts/mq"
	"digestgenie/internal/repository"
	"digestgenie/pkg/mq"
	"digestgenie/pkg/outbox"
	"digestgenie/pkg/trace"
)

// PgEmailStore writes the raw email, its email_processing job and the email.received
// event in one transaction.
type PgEmailStore struct {
	db          *pgxpool.Pool
	emails      *repository.EmailRepository
	maxAttempts int
}

func NewPgEmailStore(pool *pgxpool.Pool, emails *repository.EmailRepository, maxAttempts int) *PgEmailStore {
	return &PgEmailStore{db: pool, emails: emails, maxAttempts: maxAttempts}
}

func (s *PgEmailStore) SaveRaw(ctx context.Context, e *db.RawEmail) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, err := s.emails.InsertRawTx(ctx, tx, e)
	if err != nil || !inserted {
		return false, err
	}

	traceID := trace.FromContext(ctx)
	job := db.EmailJobPayload{RawEmailID: e.ID, TraceID: traceID}
	if _, err := repository.EnqueueTx(ctx, tx, db.JobTypeEmailProcessing, job, s.maxAttempts, e.ReceivedAt); err != nil {
		return false, err
	}

	event := mqcontracts.EmailReceivedPayload{
		RawEmailID: e.ID,
		UserID:     e.UserID,
		MessageID:  e.MessageID,
		Provider:   e.Provider,
		ReceivedAt: e.ReceivedAt,
		TraceID:    traceID,
	}
	if _, err := outbox.Insert(ctx, tx, "raw_email", e.ID, mq.RoutingKeyEmailReceived, event); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}
