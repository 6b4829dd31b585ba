package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"digestgenie/contracts/db"
	mqcontracts "digestgenie/contracts/mq"
	"digestgenie/email-processor-service/internal/ai"
	"digestgenie/email-processor-service/internal/enrichment"
	"digestgenie/internal/repository"
	"digestgenie/pkg/featureflag"
	"digestgenie/pkg/logger"
	"digestgenie/pkg/mq"
	"digestgenie/pkg/trace"
	"digestgenie/pkg/util"
)

const maxEnrichRetries = 5

// EnrichLockTTL bounds how long one delivery may hold the enrichment lock. It covers the
// concurrent AI calls plus the save; a holder that dies frees the article after this long.
const EnrichLockTTL = 5 * time.Minute

// errEnrichmentInProgress requeues a delivery whose article is locked but not yet enriched.
var errEnrichmentInProgress = errors.New("enrichment in progress elsewhere")

const defaultContentionDelay = 2 * time.Second

// ArticleStore loads articles and writes enrichment results. SaveEnrichment stores the fields,
// optionally enqueues a thumbnail job and inserts article.enriched into the outbox atomically.
type ArticleStore interface {
	FindByID(ctx context.Context, id string) (*db.Article, error)
	SaveEnrichment(ctx context.Context, a *db.Article, e db.ArticleEnrichment, scheduleThumbnail bool, at time.Time) error
}

type PreferenceStore interface {
	GetPreferences(ctx context.Context, userID string) (*db.UserPreferences, error)
}

type FlagChecker interface {
	IsEnabled(ctx context.Context, name, userID string) bool
}

type Enricher interface {
	Enrich(ctx context.Context, in enrichment.Input) enrichment.Result
}

// Deduper and RetryCounter are satisfied by the Redis helpers in pkg/util.
type Deduper interface {
	AcquireOnce(ctx context.Context, handler, id string) bool
	Release(ctx context.Context, handler, id string)
}

type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// EnrichmentHandler consumes article.created and fills the article's AI fields.
type EnrichmentHandler struct {
	articles     ArticleStore
	preferences  PreferenceStore
	flags        FlagChecker
	enricher     Enricher
	deduper      Deduper
	retryCounter RetryCounter
	now          func() time.Time
	logger       *zap.Logger

	// contentionDelay slows the requeue loop while another delivery holds the lock.
	contentionDelay time.Duration
}

func NewEnrichmentHandler(
	articles ArticleStore,
	preferences PreferenceStore,
	flags FlagChecker,
	enricher Enricher,
	deduper Deduper,
	retryCounter RetryCounter,
	logger *zap.Logger,
) *EnrichmentHandler {
	return &EnrichmentHandler{
		articles:     articles,
		preferences:  preferences,
		flags:        flags,
		enricher:     enricher,
		deduper:      deduper,
		retryCounter: retryCounter,
		now:          time.Now,
		logger:       logger,

		contentionDelay: defaultContentionDelay,
	}
}

func (h *EnrichmentHandler) WithContentionDelay(d time.Duration) *EnrichmentHandler {
	h.contentionDelay = d
	return h
}

func (h *EnrichmentHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	// --------------------------
	// Step 1: decode payload
	// --------------------------
	var payload mqcontracts.ArticleCreatedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.logger.Error("Invalid ArticleCreatedPayload, dropping",
			zap.String("raw", string(raw)),
			zap.Error(err),
		)
		return nil
	}
	if payload.TraceID != "" {
		ctx = trace.WithContext(ctx, payload.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("article_id", payload.ArticleID),
		zap.String("user_id", payload.UserID),
	)

	// --------------------------
	// Step 2: load article
	// --------------------------
	article, err := h.articles.FindByID(ctx, payload.ArticleID)
	if err != nil {
		return h.handleRepoError(log, "FindByID", err)
	}
	if article.EnrichedAt != nil {
		log.Info("Article already enriched, skip")
		return nil
	}

	// EnrichedAt is the authority; the lock only keeps concurrent deliveries apart. A lock
	// without a result means the holder is working or died, so the message goes back.
	if !h.deduper.AcquireOnce(ctx, "enrich", payload.ArticleID) {
		log.Info("Article locked by another delivery, requeueing")
		if h.contentionDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(h.contentionDelay):
			}
		}
		return fmt.Errorf("article %s: %w", payload.ArticleID, errEnrichmentInProgress)
	}

	// --------------------------
	// Step 3: enrich unless disabled
	// --------------------------
	var (
		result    enrichment.Result
		thumbnail bool
	)
	if h.flags.IsEnabled(ctx, featureflag.AISummaries, article.UserID) {
		prefs, err := h.preferences.GetPreferences(ctx, article.UserID)
		if err != nil {
			log.Warn("Failed to load preferences, using defaults", zap.Error(err))
			prefs = db.DefaultPreferences(article.UserID)
		}
		result = h.enricher.Enrich(ctx, enrichment.Input{
			Content:           enrichmentText(article),
			Interests:         prefs.InterestKeywords,
			SummaryLength:     ai.ParseSummaryLength(prefs.SummaryLength),
			ThumbnailsAllowed: prefs.ThumbnailsEnabled && h.flags.IsEnabled(ctx, featureflag.AIThumbnails, article.UserID),
		})
		thumbnail = result.ShouldGenerateThumbnail
	} else {
		log.Info("AI summaries disabled for user, marking article enriched without AI fields")
	}

	// --------------------------
	// Step 4: persist (fields + thumbnail job + outbox in one tx)
	// --------------------------
	if err := h.articles.SaveEnrichment(ctx, article, result.Enrichment(), thumbnail, h.now()); err != nil {
		return h.handleSaveError(ctx, log, payload.ArticleID, err)
	}
	_ = h.retryCounter.Reset(ctx, util.FormatRetryKey("enrich", payload.ArticleID))

	fields := []zap.Field{zap.Bool("thumbnail_scheduled", thumbnail)}
	if result.Category != nil {
		fields = append(fields, zap.String("category", *result.Category))
	}
	if result.InterestScore != nil {
		fields = append(fields, zap.Float64("interest_score", *result.InterestScore))
	}
	log.Info("Article enriched", fields...)
	return nil
}

// handleRepoError nacks retryable errors and acks the rest.
func (h *EnrichmentHandler) handleRepoError(log *zap.Logger, op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("Article not found, dropping event", zap.String("op", op))
		return nil
	}
	retryable, errType := util.IsRetryableError(err)
	log.Error("Repo error",
		zap.String("op", op),
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Error(err),
	)
	if retryable {
		return err
	}
	return nil
}

// handleSaveError releases the dedup lock so the redelivery can run, up to maxEnrichRetries;
// after that the message is dead-lettered.
func (h *EnrichmentHandler) handleSaveError(ctx context.Context, log *zap.Logger, articleID string, err error) error {
	key := util.FormatRetryKey("enrich", articleID)
	count, _ := h.retryCounter.IncrementAndGet(ctx, key)
	retryable, errType := util.IsRetryableError(err)

	log.Error("Failed to save enrichment",
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Int64("retry", count),
		zap.Error(err),
	)
	if !util.ShouldRetry(count, maxEnrichRetries, retryable) {
		_ = h.retryCounter.Reset(ctx, key)
		if retryable {
			return fmt.Errorf("%w: enrichment of %s failed %d times: %v", mq.ErrDeadLetter, articleID, count, err)
		}
		return nil
	}
	h.deduper.Release(ctx, "enrich", articleID)
	return fmt.Errorf("save enrichment: %w", err)
}

func enrichmentText(a *db.Article) string {
	if a.Content != "" {
		return a.Content
	}
	return a.Title
}
