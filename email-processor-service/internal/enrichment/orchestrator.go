// Package enrichment fills in the AI fields of an article. Every sub-call is independent and
// degrades to its default, so Enrich never fails.
package enrichment

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"digestgenie/contracts/db"
	"digestgenie/email-processor-service/internal/ai"
	"digestgenie/pkg/logger"
	"digestgenie/pkg/metrics"
)

// DefaultThumbnailScore is the minimum interest score that earns a thumbnail.
const DefaultThumbnailScore = 0.7

const maxKeywords = 5

type Input struct {
	Content           string
	Interests         []string
	SummaryLength     ai.SummaryLength
	ThumbnailsAllowed bool
}

// Result fields are nil when the matching call produced nothing usable.
type Result struct {
	Summary                 *string
	GeneratedTitle          *string
	Category                *string
	InterestScore           *float64
	Tags                    []string
	IsSpam                  bool
	ShouldGenerateThumbnail bool
}

func (r Result) Enrichment() db.ArticleEnrichment {
	return db.ArticleEnrichment{
		Summary:        r.Summary,
		GeneratedTitle: r.GeneratedTitle,
		InterestScore:  r.InterestScore,
		Category:       r.Category,
		Tags:           r.Tags,
		IsSpam:         r.IsSpam,
	}
}

type Orchestrator struct {
	capability ai.Capability
	annotator  ai.Annotator
	threshold  float64
	logger     *zap.Logger
}

// NewOrchestrator accepts a nil annotator; tags, generated titles and spam detection are then skipped.
func NewOrchestrator(capability ai.Capability, annotator ai.Annotator, threshold float64, logger *zap.Logger) *Orchestrator {
	if threshold <= 0 {
		threshold = DefaultThumbnailScore
	}
	return &Orchestrator{
		capability: capability,
		annotator:  annotator,
		threshold:  threshold,
		logger:     logger,
	}
}

func (o *Orchestrator) Enrich(ctx context.Context, in Input) Result {
	log := logger.WithTrace(ctx, o.logger)
	var (
		res      Result
		summary  string
		title    string
		category string
		score    float64
		tags     []string
		spam     bool
		scoreOK  bool
	)

	// Sub-calls never return errors to the group, so one failure cannot cancel the others.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := o.capability.Summarize(gctx, in.Content, in.SummaryLength)
		if o.observe(log, "summary", err) && s != "" {
			summary = s
		}
		return nil
	})
	g.Go(func() error {
		c, err := o.capability.Categorize(gctx, in.Content)
		if !errors.Is(err, ai.ErrNotConfigured) {
			o.observe(log, "category", err)
			category = c
		}
		return nil
	})
	g.Go(func() error {
		s, err := o.capability.ScoreInterest(gctx, in.Content, in.Interests)
		if !errors.Is(err, ai.ErrNotConfigured) {
			o.observe(log, "interest_score", err)
			score, scoreOK = clampScore(s), true
		}
		return nil
	})
	if o.annotator != nil {
		g.Go(func() error {
			k, err := o.annotator.ExtractKeywords(gctx, in.Content, maxKeywords)
			if o.observe(log, "tags", err) {
				tags = k
			}
			return nil
		})
		g.Go(func() error {
			t, err := o.annotator.GenerateTitle(gctx, in.Content, ai.TitleNews)
			if o.observe(log, "generated_title", err) && t != "" {
				title = t
			}
			return nil
		})
		g.Go(func() error {
			s, err := o.annotator.DetectSpam(gctx, in.Content)
			if o.observe(log, "spam", err) {
				spam = s
			}
			return nil
		})
	}
	_ = g.Wait()

	if summary != "" {
		res.Summary = &summary
	}
	if title != "" {
		res.GeneratedTitle = &title
	}
	if category != "" {
		res.Category = &category
	}
	if scoreOK {
		res.InterestScore = &score
	}
	res.Tags = tags
	res.IsSpam = spam
	res.ShouldGenerateThumbnail = o.ShouldGenerateThumbnail(in.ThumbnailsAllowed, res)
	return res
}

// ShouldGenerateThumbnail requires user consent, a non-spam article and a high enough score.
func (o *Orchestrator) ShouldGenerateThumbnail(allowed bool, r Result) bool {
	if !allowed || r.IsSpam || r.InterestScore == nil {
		return false
	}
	return *r.InterestScore >= o.threshold
}

// observe logs and counts a sub-call outcome and reports whether it succeeded.
func (o *Orchestrator) observe(log *zap.Logger, field string, err error) bool {
	switch {
	case err == nil:
		metrics.IncrementEnrichmentField(field, "success")
		return true
	case errors.Is(err, ai.ErrNotConfigured):
		metrics.IncrementEnrichmentField(field, "skipped")
	default:
		metrics.IncrementEnrichmentField(field, "error")
		log.Warn("enrichment step failed", zap.String("field", field), zap.Error(err))
	}
	return false
}

func clampScore(s float64) float64 {
	if math.IsNaN(s) || s < 0 || s > 1 {
		return ai.NeutralScore
	}
	return s
}
