package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"digestgenie/contracts/db"
)

type EmailRepository struct {
	db *pgxpool.Pool
}

func NewEmailRepository(db *pgxpool.Pool) *EmailRepository {
	return &EmailRepository{db: db}
}

const rawEmailColumns = `id, user_id, message_id, COALESCE(thread_id, ''), provider, sender, recipient,
            subject, snippet, text_body, html_body, raw_content, received_at, processed, processed_at, created_at`

func scanRawEmail(row pgx.Row) (*db.RawEmail, error) {
	var e db.RawEmail
	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.MessageID,
		&e.ThreadID,
		&e.Provider,
		&e.Sender,
		&e.Recipient,
		&e.Subject,
		&e.Snippet,
		&e.TextBody,
		&e.HTMLBody,
		&e.RawContent,
		&e.ReceivedAt,
		&e.Processed,
		&e.ProcessedAt,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// InsertRawTx stores the email unless (user_id, message_id) already exists.
// inserted is false for a redelivery.
func (r *EmailRepository) InsertRawTx(ctx context.Context, tx pgx.Tx, e *db.RawEmail) (inserted bool, err error) {
	query := `
        INSERT INTO raw_emails (id, user_id, message_id, thread_id, provider, sender, recipient,
                                subject, snippet, text_body, html_body, raw_content, received_at)
        VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13)
        ON CONFLICT (user_id, message_id) DO NOTHING
        RETURNING created_at
    `
	err = tx.QueryRow(ctx, query,
		e.ID, e.UserID, e.MessageID, e.ThreadID, e.Provider, e.Sender, e.Recipient,
		e.Subject, e.Snippet, e.TextBody, e.HTMLBody, e.RawContent, e.ReceivedAt,
	).Scan(&e.CreatedAt)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert raw email: %w", err)
	}
	return true, nil
}

// FindRawByID returns raw email by id.
func (r *EmailRepository) FindRawByID(ctx context.Context, id string) (*db.RawEmail, error) {
	query := `SELECT ` + rawEmailColumns + ` FROM raw_emails WHERE id = $1`
	return scanRawEmail(r.db.QueryRow(ctx, query, id))
}

func (r *EmailRepository) FindByMessageID(ctx context.Context, userID, messageID string) (*db.RawEmail, error) {
	query := `SELECT ` + rawEmailColumns + ` FROM raw_emails WHERE user_id = $1 AND message_id = $2`
	return scanRawEmail(r.db.QueryRow(ctx, query, userID, messageID))
}

// MarkProcessedTx flags the email processed in the same transaction as its articles.
func (r *EmailRepository) MarkProcessedTx(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	query := `
        UPDATE raw_emails
        SET processed = TRUE, processed_at = $2
        WHERE id = $1
    `
	_, err := tx.Exec(ctx, query, id, at)
	return err
}

// ListUnprocessed returns emails still waiting for (or abandoned by) the pipeline.
func (r *EmailRepository) ListUnprocessed(ctx context.Context, userID string, limit uint64) ([]*db.RawEmail, error) {
	builder := psql.Select(rawEmailColumns).
		From("raw_emails").
		Where("processed = FALSE").
		OrderBy("received_at DESC").
		Limit(limit)
	if userID != "" {
		builder = builder.Where("user_id = ?", userID)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	emails := []*db.RawEmail{}
	for rows.Next() {
		e, err := scanRawEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}
