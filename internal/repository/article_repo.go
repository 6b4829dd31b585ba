package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"digestgenie/contracts/db"
)

type ArticleRepository struct {
	db *pgxpool.Pool
}

func NewArticleRepository(db *pgxpool.Pool) *ArticleRepository {
	return &ArticleRepository{db: db}
}

// ExistsByTitle is the dedup lookup on (user_id, newsletter_id, title).
func (r *ArticleRepository) ExistsByTitle(ctx context.Context, userID, newsletterID, title string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM articles WHERE user_id = $1 AND newsletter_id = $2 AND title = $3
        )
    `, userID, newsletterID, title).Scan(&exists)
	return exists, err
}

// InsertTx returns false when a concurrent writer already stored the same title.
func (r *ArticleRepository) InsertTx(ctx context.Context, tx pgx.Tx, a *db.Article) (bool, error) {
	query := `
        INSERT INTO articles (id, user_id, newsletter_id, source_email_id, title, content, excerpt, url,
                              published_at, processed_at)
        VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (user_id, newsletter_id, title) DO NOTHING
    `
	tag, err := tx.Exec(ctx, query,
		a.ID, a.UserID, a.NewsletterID, a.SourceEmailID, a.Title, a.Content, a.Excerpt, a.URL,
		a.PublishedAt, a.ProcessedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert article: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ArticleRepository) FindByID(ctx context.Context, id string) (*db.Article, error) {
	query := `
        SELECT id, user_id, newsletter_id, COALESCE(source_email_id::text, ''), title, content, excerpt, url,
               published_at, processed_at, ai_summary, ai_generated_title, ai_interest_score, ai_category,
               ai_tags, ai_generated_thumbnail, is_spam, enriched_at, is_read, is_saved
        FROM articles
        WHERE id = $1
    `
	var a db.Article
	err := r.db.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.UserID,
		&a.NewsletterID,
		&a.SourceEmailID,
		&a.Title,
		&a.Content,
		&a.Excerpt,
		&a.URL,
		&a.PublishedAt,
		&a.ProcessedAt,
		&a.AISummary,
		&a.AIGeneratedTitle,
		&a.AIInterestScore,
		&a.AICategory,
		&a.AITags,
		&a.AIGeneratedThumbnail,
		&a.IsSpam,
		&a.EnrichedAt,
		&a.IsRead,
		&a.IsSaved,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// UpdateEnrichmentTx writes the AI fields; nil fields stay NULL.
func (r *ArticleRepository) UpdateEnrichmentTx(ctx context.Context, tx pgx.Tx, id string, e db.ArticleEnrichment, at time.Time) error {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	query, args, err := psql.Update("articles").
		Set("ai_summary", e.Summary).
		Set("ai_generated_title", e.GeneratedTitle).
		Set("ai_interest_score", e.InterestScore).
		Set("ai_category", e.Category).
		Set("ai_tags", tags).
		Set("is_spam", e.IsSpam).
		Set("enriched_at", at).
		Where("id = ?", id).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update enrichment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetThumbnail stores the generated image url.
func (r *ArticleRepository) SetThumbnail(ctx context.Context, id, url string) error {
	tag, err := r.db.Exec(ctx, `UPDATE articles SET ai_generated_thumbnail = $2 WHERE id = $1`, id, url)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
