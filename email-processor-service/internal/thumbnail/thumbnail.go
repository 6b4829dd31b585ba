// Package thumbnail runs thumbnail_generation jobs. Generation is best-effort: a provider failure
// is logged and the article keeps a null thumbnail.
package thumbnail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"digestgenie/contracts/db"
	"digestgenie/email-processor-service/internal/runner"
	"digestgenie/internal/repository"
	"digestgenie/pkg/featureflag"
	"digestgenie/pkg/logger"
	"digestgenie/pkg/metrics"
	"digestgenie/pkg/trace"
)

type Store interface {
	FindByID(ctx context.Context, id string) (*db.Article, error)
	SetThumbnail(ctx context.Context, id, url string) error
}

type Generator interface {
	GenerateThumbnail(ctx context.Context, content string) (string, error)
}

type FlagChecker interface {
	IsEnabled(ctx context.Context, name, userID string) bool
}

type Handler struct {
	store     Store
	generator Generator
	flags     FlagChecker
	logger    *zap.Logger
}

func NewHandler(store Store, generator Generator, flags FlagChecker, logger *zap.Logger) *Handler {
	return &Handler{store: store, generator: generator, flags: flags, logger: logger}
}

func (h *Handler) HandleJob(ctx context.Context, job *db.ProcessingJob) error {
	var p db.ThumbnailJobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return runner.Permanent(fmt.Errorf("bad thumbnail job payload: %w", err))
	}
	if p.TraceID != "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger).With(zap.String("article_id", p.ArticleID))

	article, err := h.store.FindByID(ctx, p.ArticleID)
	if errors.Is(err, repository.ErrNotFound) {
		return runner.Permanent(fmt.Errorf("article %s not found", p.ArticleID))
	}
	if err != nil {
		return fmt.Errorf("load article: %w", err)
	}
	if article.AIGeneratedThumbnail != nil {
		log.Info("Thumbnail already present, skip")
		return nil
	}
	if !h.flags.IsEnabled(ctx, featureflag.AIThumbnails, article.UserID) {
		log.Info("Thumbnails disabled, skip")
		return nil
	}

	content := article.Title
	if article.AISummary != nil && *article.AISummary != "" {
		content = *article.AISummary
	}
	url, err := h.generator.GenerateThumbnail(ctx, content)
	if err != nil {
		metrics.IncrementEnrichmentField("thumbnail", "error")
		log.Warn("Thumbnail generation failed, leaving it empty", zap.Error(err))
		return nil
	}

	if err := h.store.SetThumbnail(ctx, article.ID, url); err != nil {
		return fmt.Errorf("store thumbnail: %w", err)
	}
	metrics.IncrementEnrichmentField("thumbnail", "success")
	log.Info("Thumbnail stored")
	return nil
}
