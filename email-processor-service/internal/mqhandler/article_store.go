package mqhandler

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

// PgArticleStore is the Postgres ArticleStore.
type PgArticleStore struct {
	db                *pgxpool.Pool
	articles          *repository.ArticleRepository
	thumbnailAttempts int
}

func NewPgArticleStore(pool *pgxpool.Pool, articles *repository.ArticleRepository, thumbnailAttempts int) *PgArticleStore {
	return &PgArticleStore{db: pool, articles: articles, thumbnailAttempts: thumbnailAttempts}
}

func (s *PgArticleStore) FindByID(ctx context.Context, id string) (*db.Article, error) {
	return s.articles.FindByID(ctx, id)
}

func (s *PgArticleStore) SaveEnrichment(ctx context.Context, a *db.Article, e db.ArticleEnrichment, scheduleThumbnail bool, at time.Time) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.articles.UpdateEnrichmentTx(ctx, tx, a.ID, e, at); err != nil {
		return err
	}

	traceID := trace.FromContext(ctx)
	if scheduleThumbnail {
		job := db.ThumbnailJobPayload{ArticleID: a.ID, TraceID: traceID}
		if _, err := repository.EnqueueTx(ctx, tx, db.JobTypeThumbnailGeneration, job, s.thumbnailAttempts, at); err != nil {
			return err
		}
	}

	event := mqcontracts.ArticleEnrichedPayload{
		ArticleID:          a.ID,
		UserID:             a.UserID,
		InterestScore:      e.InterestScore,
		ThumbnailScheduled: scheduleThumbnail,
		TraceID:            traceID,
	}
	if e.Category != nil {
		event.Category = *e.Category
	}
	if _, err := outbox.Insert(ctx, tx, "article", a.ID, mq.RoutingKeyArticleEnriched, event); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
