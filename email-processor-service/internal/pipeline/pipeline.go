// Package pipeline turns one stored RawEmail into Articles.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"digestgenie/contracts/db"
	"digestgenie/email-processor-service/internal/classifier"
	"digestgenie/email-processor-service/internal/dedup"
	"digestgenie/email-processor-service/internal/extractor"
	"digestgenie/email-processor-service/internal/resolver"
	"digestgenie/email-processor-service/internal/runner"
	"digestgenie/email-processor-service/internal/sanitizer"
	"digestgenie/internal/repository"
	"digestgenie/pkg/logger"
	"digestgenie/pkg/metrics"
	"digestgenie/pkg/trace"
)

// Store loads emails and persists a processed email atomically. SaveArticles returns the
// articles that were actually inserted and always marks the email processed.
type Store interface {
	FindRawByID(ctx context.Context, id string) (*db.RawEmail, error)
	SaveArticles(ctx context.Context, emailID string, articles []*db.Article, processedAt time.Time) ([]*db.Article, error)
}

// Outcome describes what processing one email did.
type Outcome struct {
	Skipped      bool
	IsNewsletter bool
	Reason       classifier.Reason
	NewsletterID string
	Extracted    int
	Created      []*db.Article
	Duplicates   int
}

type Processor struct {
	store    Store
	resolver *resolver.Resolver
	gate     *dedup.Gate
	now      func() time.Time
	logger   *zap.Logger
}

func NewProcessor(store Store, res *resolver.Resolver, gate *dedup.Gate, logger *zap.Logger) *Processor {
	return &Processor{
		store:    store,
		resolver: res,
		gate:     gate,
		now:      time.Now,
		logger:   logger,
	}
}

// HandleJob is the runner handler for email_processing jobs.
func (p *Processor) HandleJob(ctx context.Context, job *db.ProcessingJob) error {
	var payload db.EmailJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return runner.Permanent(fmt.Errorf("bad email job payload: %w", err))
	}
	if payload.RawEmailID == "" {
		return runner.Permanent(errors.New("email job without raw_email_id"))
	}
	if payload.TraceID != "" {
		ctx = trace.WithContext(ctx, payload.TraceID)
	}
	_, err := p.Process(ctx, payload.RawEmailID)
	return err
}

func (p *Processor) Process(ctx context.Context, rawEmailID string) (*Outcome, error) {
	log := logger.WithTrace(ctx, p.logger).With(zap.String("raw_email_id", rawEmailID))

	email, err := p.store.FindRawByID(ctx, rawEmailID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, runner.Permanent(fmt.Errorf("raw email %s not found", rawEmailID))
	}
	if err != nil {
		return nil, fmt.Errorf("load raw email: %w", err)
	}
	if email.Processed {
		log.Info("Email already processed, skip")
		return &Outcome{Skipped: true}, nil
	}

	verdict := classifier.Classify(email.Sender, email.Subject)
	out := &Outcome{IsNewsletter: verdict.IsNewsletter, Reason: verdict.Reason}
	if !verdict.IsNewsletter {
		if _, err := p.store.SaveArticles(ctx, email.ID, nil, p.now()); err != nil {
			return nil, err
		}
		metrics.IncrementEmailProcessed("not_newsletter")
		log.Info("Email is not a newsletter", zap.String("sender", email.Sender))
		return out, nil
	}

	candidates := extractor.Extract(extractor.Input{
		Text:    plainText(email),
		HTML:    email.HTMLBody,
		Subject: email.Subject,
	})
	out.Extracted = len(candidates)
	if len(candidates) == 0 {
		if _, err := p.store.SaveArticles(ctx, email.ID, nil, p.now()); err != nil {
			return nil, err
		}
		metrics.IncrementEmailProcessed("empty")
		log.Info("Newsletter yielded no articles", zap.String("reason", string(verdict.Reason)))
		return out, nil
	}

	newsletter, created, err := p.resolver.Resolve(ctx, resolver.SenderFromHeader(email.Sender))
	if errors.Is(err, resolver.ErrEmptySender) {
		return nil, runner.Permanent(err)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve newsletter: %w", err)
	}
	out.NewsletterID = newsletter.ID

	fresh, skipped, err := p.gate.Filter(ctx, email.UserID, newsletter.ID, candidates)
	if err != nil {
		return nil, fmt.Errorf("dedup: %w", err)
	}

	now := p.now()
	articles := make([]*db.Article, 0, len(fresh))
	for _, c := range fresh {
		articles = append(articles, &db.Article{
			ID:            uuid.NewString(),
			UserID:        email.UserID,
			NewsletterID:  newsletter.ID,
			SourceEmailID: email.ID,
			Title:         c.Title,
			Content:       c.Content,
			Excerpt:       c.Excerpt,
			URL:           c.URL,
			PublishedAt:   email.ReceivedAt,
			ProcessedAt:   now,
		})
	}

	inserted, err := p.store.SaveArticles(ctx, email.ID, articles, now)
	if err != nil {
		return nil, err
	}
	out.Created = inserted
	out.Duplicates = skipped + len(articles) - len(inserted)

	metrics.IncrementEmailProcessed("newsletter")
	metrics.AddArticles("created", len(inserted))
	metrics.AddArticles("duplicate", out.Duplicates)

	log.Info("Newsletter processed",
		zap.String("newsletter_id", newsletter.ID),
		zap.String("newsletter", newsletter.Name),
		zap.Bool("newsletter_created", created),
		zap.Int("extracted", out.Extracted),
		zap.Int("created", len(inserted)),
		zap.Int("duplicates", out.Duplicates),
	)
	return out, nil
}

// plainText prefers the text part and falls back to the stripped HTML part.
func plainText(e *db.RawEmail) string {
	if text := sanitizer.CleanText(e.TextBody); strings.TrimSpace(text) != "" {
		return text
	}
	return sanitizer.StripHTML(e.HTMLBody)
}
