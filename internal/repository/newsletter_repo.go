package repository

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"digestgenie/contracts/db"
)

type NewsletterRepository struct {
	db *pgxpool.Pool
}

func NewNewsletterRepository(db *pgxpool.Pool) *NewsletterRepository {
	return &NewsletterRepository{db: db}
}

var newsletterColumns = []string{
	"id", "name", "sender_email", "sender_domain", "description", "frequency",
	"is_predefined", "is_active", "created_at",
}

func scanNewsletter(row pgx.Row) (*db.Newsletter, error) {
	var n db.Newsletter
	err := row.Scan(
		&n.ID,
		&n.Name,
		&n.SenderEmail,
		&n.SenderDomain,
		&n.Description,
		&n.Frequency,
		&n.IsPredefined,
		&n.IsActive,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

func (r *NewsletterRepository) findOne(ctx context.Context, where sq.Sqlizer) (*db.Newsletter, error) {
	query, args, err := psql.Select(newsletterColumns...).
		From("newsletters").
		Where(where).
		OrderBy("is_predefined DESC", "created_at ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}
	return scanNewsletter(r.db.QueryRow(ctx, query, args...))
}

func (r *NewsletterRepository) FindBySenderEmail(ctx context.Context, email string) (*db.Newsletter, error) {
	return r.findOne(ctx, sq.Eq{"sender_email": strings.ToLower(email)})
}

func (r *NewsletterRepository) FindByDomain(ctx context.Context, domain string) (*db.Newsletter, error) {
	return r.findOne(ctx, sq.Eq{"sender_domain": strings.ToLower(domain)})
}

func (r *NewsletterRepository) FindByName(ctx context.Context, name string) (*db.Newsletter, error) {
	return r.findOne(ctx, sq.Expr("LOWER(name) = ?", strings.ToLower(name)))
}

// InsertIfAbsent creates the newsletter unless its sender_email exists, then returns the stored
// row. Racing workers therefore converge on one newsletter and the first name wins.
func (r *NewsletterRepository) InsertIfAbsent(ctx context.Context, n *db.Newsletter) (stored *db.Newsletter, created bool, err error) {
	query := `
        INSERT INTO newsletters (id, name, sender_email, sender_domain, description, frequency, is_predefined, is_active)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (sender_email) DO NOTHING
    `
	tag, err := r.db.Exec(ctx, query,
		n.ID, n.Name, strings.ToLower(n.SenderEmail), strings.ToLower(n.SenderDomain),
		n.Description, n.Frequency, n.IsPredefined, n.IsActive,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert newsletter: %w", err)
	}

	stored, err = r.FindBySenderEmail(ctx, n.SenderEmail)
	if err != nil {
		return nil, false, fmt.Errorf("reload newsletter: %w", err)
	}
	return stored, tag.RowsAffected() == 1, nil
}

// NewsletterFilter narrows List; zero values mean no filter.
type NewsletterFilter struct {
	Domain     string
	ActiveOnly bool
	Limit      uint64
	Offset     uint64
}

func (r *NewsletterRepository) List(ctx context.Context, f NewsletterFilter) ([]*db.Newsletter, error) {
	builder := psql.Select(newsletterColumns...).From("newsletters").OrderBy("name ASC")
	if f.Domain != "" {
		builder = builder.Where(sq.Eq{"sender_domain": strings.ToLower(f.Domain)})
	}
	if f.ActiveOnly {
		builder = builder.Where(sq.Eq{"is_active": true})
	}
	if f.Limit == 0 || f.Limit > 500 {
		f.Limit = 100
	}
	builder = builder.Limit(f.Limit).Offset(f.Offset)

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*db.Newsletter{}
	for rows.Next() {
		n, err := scanNewsletter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
