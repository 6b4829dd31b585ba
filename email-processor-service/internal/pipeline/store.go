package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"digestgenie/contracts/db"
	mqcontracts "digestgenie/contracts/mq"
	"digestgenie/internal/repository"
	"digestgenie/pkg/mq"
	"digestgenie/pkg/outbox"
	"digestgenie/pkg/trace"
)

// PgStore writes articles, their article.created events and the processed flag in one
// transaction.
type PgStore struct {
	db       *pgxpool.Pool
	emails   *repository.EmailRepository
	articles *repository.ArticleRepository
}

func NewPgStore(pool *pgxpool.Pool, emails *repository.EmailRepository, articles *repository.ArticleRepository) *PgStore {
	return &PgStore{db: pool, emails: emails, articles: articles}
}

func (s *PgStore) FindRawByID(ctx context.Context, id string) (*db.RawEmail, error) {
	return s.emails.FindRawByID(ctx, id)
}

func (s *PgStore) SaveArticles(ctx context.Context, emailID string, articles []*db.Article, processedAt time.Time) ([]*db.Article, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	traceID := trace.FromContext(ctx)
	inserted := make([]*db.Article, 0, len(articles))
	for _, a := range articles {
		ok, err := s.articles.InsertTx(ctx, tx, a)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		payload := mqcontracts.ArticleCreatedPayload{
			ArticleID:    a.ID,
			UserID:       a.UserID,
			NewsletterID: a.NewsletterID,
			TraceID:      traceID,
		}
		if _, err := outbox.Insert(ctx, tx, "article", a.ID, mq.RoutingKeyArticleCreated, payload); err != nil {
			return nil, err
		}
		inserted = append(inserted, a)
	}

	if err := s.emails.MarkProcessedTx(ctx, tx, emailID, processedAt); err != nil {
		return nil, fmt.Errorf("mark email processed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return inserted, nil
}
