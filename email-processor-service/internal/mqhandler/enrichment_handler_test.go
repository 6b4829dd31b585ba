package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"digestgenie/contracts/db"
	mqcontracts "digestgenie/contracts/mq"
	"digestgenie/email-processor-service/internal/ai"
	"digestgenie/email-processor-service/internal/enrichment"
	"digestgenie/internal/repository"
	"digestgenie/pkg/featureflag"
	"digestgenie/pkg/mq"
)

type saved struct {
	enrichment db.ArticleEnrichment
	thumbnail  bool
}

type memArticles struct {
	articles map[string]*db.Article
	saveErr  error
	saves    []saved
}

func (m *memArticles) FindByID(_ context.Context, id string) (*db.Article, error) {
	a, ok := m.articles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (m *memArticles) SaveEnrichment(_ context.Context, a *db.Article, e db.ArticleEnrichment, thumb bool, at time.Time) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves = append(m.saves, saved{enrichment: e, thumbnail: thumb})
	m.articles[a.ID].EnrichedAt = &at
	return nil
}

type prefs map[string]*db.UserPreferences

func (p prefs) GetPreferences(_ context.Context, userID string) (*db.UserPreferences, error) {
	if v, ok := p[userID]; ok {
		return v, nil
	}
	return db.DefaultPreferences(userID), nil
}

type flagSet map[string]bool

func (f flagSet) IsEnabled(_ context.Context, name, _ string) bool { return f[name] }

type fakeEnricher struct {
	calls []enrichment.Input
	res   enrichment.Result
}

func (f *fakeEnricher) Enrich(_ context.Context, in enrichment.Input) enrichment.Result {
	f.calls = append(f.calls, in)
	res := f.res
	res.ShouldGenerateThumbnail = in.ThumbnailsAllowed && res.ShouldGenerateThumbnail
	return res
}

type memDeduper map[string]bool

func (d memDeduper) AcquireOnce(_ context.Context, handler, id string) bool {
	if d[handler+id] {
		return false
	}
	d[handler+id] = true
	return true
}

func (d memDeduper) Release(_ context.Context, handler, id string) { delete(d, handler+id) }

type memCounter map[string]int64

func (c memCounter) IncrementAndGet(_ context.Context, key string) (int64, error) {
	c[key]++
	return c[key], nil
}

func (c memCounter) Reset(_ context.Context, key string) error {
	delete(c, key)
	return nil
}

func articleCreated(id string) json.RawMessage {
	b, _ := json.Marshal(mqcontracts.ArticleCreatedPayload{ArticleID: id, UserID: "u1", NewsletterID: "n1", TraceID: "t1"})
	return b
}

type fixture struct {
	articles *memArticles
	enricher *fakeEnricher
	deduper  memDeduper
	handler  *EnrichmentHandler
}

func newFixture(flags flagSet, p prefs) *fixture {
	score := 0.9
	category := "Technology"
	f := &fixture{
		articles: &memArticles{articles: map[string]*db.Article{
			"a1": {ID: "a1", UserID: "u1", Title: "Go 1.26", Content: "Release notes"},
		}},
		enricher: &fakeEnricher{res: enrichment.Result{
			Category:                &category,
			InterestScore:           &score,
			ShouldGenerateThumbnail: true,
		}},
		deduper: memDeduper{},
	}
	f.handler = NewEnrichmentHandler(f.articles, p, flags, f.enricher, f.deduper, memCounter{}, zap.NewNop()).
		WithContentionDelay(0)
	return f
}

func TestEnrichmentHandlerEnrichesAndSchedulesThumbnail(t *testing.T) {
	t.Parallel()

	f := newFixture(flagSet{featureflag.AISummaries: true, featureflag.AIThumbnails: true}, prefs{
		"u1": {UserID: "u1", InterestKeywords: []string{"golang"}, SummaryLength: "short", ThumbnailsEnabled: true},
	})
	if err := f.handler.Handle(context.Background(), articleCreated("a1")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(f.enricher.calls) != 1 {
		t.Fatalf("expected one enrichment call")
	}
	in := f.enricher.calls[0]
	if in.Content != "Release notes" || in.SummaryLength != ai.SummaryShort || len(in.Interests) != 1 {
		t.Fatalf("unexpected enrichment input %+v", in)
	}
	if len(f.articles.saves) != 1 || !f.articles.saves[0].thumbnail {
		t.Fatalf("expected a save with thumbnail scheduled: %+v", f.articles.saves)
	}
	if c := f.articles.saves[0].enrichment.Category; c == nil || *c != "Technology" {
		t.Fatalf("category not saved")
	}
}

func TestEnrichmentHandlerThumbnailFlagOff(t *testing.T) {
	t.Parallel()

	f := newFixture(flagSet{featureflag.AISummaries: true}, prefs{})
	if err := f.handler.Handle(context.Background(), articleCreated("a1")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if f.enricher.calls[0].ThumbnailsAllowed || f.articles.saves[0].thumbnail {
		t.Fatalf("thumbnail must not be scheduled when the flag is off")
	}
}

func TestEnrichmentHandlerSummariesOff(t *testing.T) {
	t.Parallel()

	f := newFixture(flagSet{}, prefs{})
	if err := f.handler.Handle(context.Background(), articleCreated("a1")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(f.enricher.calls) != 0 {
		t.Fatalf("AI must not be called when ai_summaries is off")
	}
	if len(f.articles.saves) != 1 || f.articles.saves[0].enrichment.Summary != nil {
		t.Fatalf("article should be marked enriched with empty fields: %+v", f.articles.saves)
	}
}

func TestEnrichmentHandlerIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(flagSet{featureflag.AISummaries: true}, prefs{})
	for i := 0; i < 2; i++ {
		if err := f.handler.Handle(context.Background(), articleCreated("a1")); err != nil {
			t.Fatalf("Handle %d: %v", i, err)
		}
	}
	if len(f.enricher.calls) != 1 || len(f.articles.saves) != 1 {
		t.Fatalf("redelivery must be a no-op: calls=%d saves=%d", len(f.enricher.calls), len(f.articles.saves))
	}
}

func TestEnrichmentHandlerRequeuesWhileLockedAndUnenriched(t *testing.T) {
	t.Parallel()

	// A previous delivery took the lock and died before saving.
	f := newFixture(flagSet{featureflag.AISummaries: true}, prefs{})
	f.deduper["enricha1"] = true

	err := f.handler.Handle(context.Background(), articleCreated("a1"))
	if !errors.Is(err, errEnrichmentInProgress) || errors.Is(err, mq.ErrDeadLetter) {
		t.Fatalf("locked, unenriched article must be requeued, got %v", err)
	}
	if len(f.enricher.calls) != 0 {
		t.Fatalf("enrichment must not run while locked")
	}

	// Lock expired: the redelivery does the work.
	delete(f.deduper, "enricha1")
	if err := f.handler.Handle(context.Background(), articleCreated("a1")); err != nil {
		t.Fatalf("Handle after lock expiry: %v", err)
	}
	if len(f.articles.saves) != 1 || f.articles.articles["a1"].EnrichedAt == nil {
		t.Fatalf("article never enriched: %+v", f.articles.saves)
	}
}

func TestEnrichmentHandlerMissingArticleAcks(t *testing.T) {
	t.Parallel()

	f := newFixture(flagSet{featureflag.AISummaries: true}, prefs{})
	if err := f.handler.Handle(context.Background(), articleCreated("gone")); err != nil {
		t.Fatalf("missing article should be acked, got %v", err)
	}
	if err := f.handler.Handle(context.Background(), json.RawMessage(`{"article_id":`)); err != nil {
		t.Fatalf("bad payload should be acked, got %v", err)
	}
}

func TestEnrichmentHandlerRetryableSaveErrorNacks(t *testing.T) {
	t.Parallel()

	f := newFixture(flagSet{featureflag.AISummaries: true}, prefs{})
	f.articles.saveErr = errors.New("connection reset by peer")

	if err := f.handler.Handle(context.Background(), articleCreated("a1")); err == nil {
		t.Fatalf("retryable save failure should nack")
	}
	if f.deduper["enricha1"] {
		t.Fatalf("dedup lock should be released for the redelivery")
	}

	f.articles.saveErr = errors.New("check constraint")
	if err := f.handler.Handle(context.Background(), articleCreated("a1")); err != nil {
		t.Fatalf("non-retryable save failure should ack, got %v", err)
	}
}

func TestEnrichmentHandlerDeadLettersAfterRetries(t *testing.T) {
	t.Parallel()

	f := newFixture(flagSet{featureflag.AISummaries: true}, prefs{})
	f.articles.saveErr = errors.New("connection reset by peer")

	for i := 1; i <= maxEnrichRetries; i++ {
		err := f.handler.Handle(context.Background(), articleCreated("a1"))
		if err == nil || errors.Is(err, mq.ErrDeadLetter) {
			t.Fatalf("attempt %d: expected a requeue, got %v", i, err)
		}
	}
	if err := f.handler.Handle(context.Background(), articleCreated("a1")); !errors.Is(err, mq.ErrDeadLetter) {
		t.Fatalf("expected ErrDeadLetter once retries are spent, got %v", err)
	}
}

func TestEmailReceivedHandlerWakesRunner(t *testing.T) {
	t.Parallel()

	woken := 0
	h := NewEmailReceivedHandler(func() { woken++ }, zap.NewNop())
	b, _ := json.Marshal(mqcontracts.EmailReceivedPayload{RawEmailID: "e1", UserID: "u1"})
	if err := h.Handle(context.Background(), b); err != nil || woken != 1 {
		t.Fatalf("err=%v woken=%d", err, woken)
	}
	if err := h.Handle(context.Background(), json.RawMessage(`nope`)); err != nil || woken != 1 {
		t.Fatalf("bad payload should be dropped without waking")
	}
}
