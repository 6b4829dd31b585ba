package ai

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"digestgenie/pkg/circuitbreaker"
	"digestgenie/pkg/config"
	"digestgenie/pkg/metrics"
)

// Service implements Capability and Annotator on top of the provider adapters.
type Service struct {
	text         Completer
	image        ImageGenerator
	textBreaker  *circuitbreaker.CircuitBreaker
	imageBreaker *circuitbreaker.CircuitBreaker
	timeout      time.Duration
	logger       *zap.Logger
}

var (
	_ Capability = (*Service)(nil)
	_ Annotator  = (*Service)(nil)
)

// NewService accepts nil adapters; the matching calls then report ErrNotConfigured.
func NewService(text Completer, image ImageGenerator, timeout time.Duration, logger *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	onChange := func(name string, from, to circuitbreaker.State) {
		logger.Warn("ai circuit breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	textCfg := circuitbreaker.DefaultConfig("ai-text")
	textCfg.OnStateChange = onChange
	imageCfg := circuitbreaker.DefaultConfig("ai-image")
	imageCfg.FailureThreshold = 3
	imageCfg.OnStateChange = onChange

	return &Service{
		text:         text,
		image:        image,
		textBreaker:  circuitbreaker.NewCircuitBreaker(textCfg),
		imageBreaker: circuitbreaker.NewCircuitBreaker(imageCfg),
		timeout:      timeout,
		logger:       logger,
	}
}

func (s *Service) Configured() bool {
	return s.text != nil
}

func (s *Service) complete(ctx context.Context, req CompletionRequest) (string, error) {
	if s.text == nil {
		return "", ErrNotConfigured
	}
	var out string
	err := s.call(ctx, s.textBreaker, req.Operation, func(ctx context.Context) error {
		var err error
		out, err = s.text.Complete(ctx, req)
		return err
	})
	return strings.TrimSpace(out), err
}

// call applies the per-call timeout and breaker and records latency.
func (s *Service) call(ctx context.Context, cb *circuitbreaker.CircuitBreaker, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := cb.ExecuteContext(ctx, fn)

	status := "success"
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen):
		status = "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		status = "timeout"
	case err != nil:
		status = "error"
	}
	metrics.RecordAICallLatency(op, status, time.Since(start))
	return err
}

func (s *Service) Summarize(ctx context.Context, content string, length SummaryLength) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", nil
	}
	if _, ok := summaryInstructions[length]; !ok {
		length = SummaryMedium
	}
	return s.complete(ctx, CompletionRequest{
		Operation:   "summarize",
		Prompt:      summaryPrompt(content, length),
		MaxTokens:   300,
		Temperature: 0.3,
	})
}

// Categorize always returns a member of Categories.
func (s *Service) Categorize(ctx context.Context, content string) (string, error) {
	out, err := s.complete(ctx, CompletionRequest{
		Operation:   "categorize",
		Prompt:      categoryPrompt(content),
		MaxTokens:   20,
		Temperature: 0.1,
	})
	if err != nil {
		return OtherCategory, err
	}
	return NormalizeCategory(out), nil
}

// NormalizeCategory maps model output onto the closed category set.
func NormalizeCategory(raw string) string {
	raw = strings.Trim(strings.TrimSpace(raw), `."'`)
	for _, c := range Categories {
		if strings.EqualFold(raw, c) {
			return c
		}
	}
	return OtherCategory
}

// ScoreInterest always returns a value in [0, 1].
func (s *Service) ScoreInterest(ctx context.Context, content string, interests []string) (float64, error) {
	out, err := s.complete(ctx, CompletionRequest{
		Operation:   "score_interest",
		Prompt:      interestPrompt(content, interests),
		MaxTokens:   10,
		Temperature: 0.1,
	})
	if err != nil {
		return NeutralScore, err
	}
	return ParseScore(out), nil
}

// ParseScore returns NeutralScore for anything that is not a number in [0, 1].
func ParseScore(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || v < 0 || v > 1 {
		return NeutralScore
	}
	return v
}

func (s *Service) ExtractKeywords(ctx context.Context, content string, max int) ([]string, error) {
	if max <= 0 {
		max = 5
	}
	out, err := s.complete(ctx, CompletionRequest{
		Operation:   "extract_keywords",
		Prompt:      keywordsPrompt(content, max),
		MaxTokens:   100,
		Temperature: 0.2,
	})
	if err != nil {
		return []string{}, err
	}
	keywords := []string{}
	for _, k := range strings.Split(out, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
		if len(keywords) == max {
			break
		}
	}
	return keywords, nil
}

func (s *Service) GenerateTitle(ctx context.Context, content string, style TitleStyle) (string, error) {
	out, err := s.complete(ctx, CompletionRequest{
		Operation:   "generate_title",
		Prompt:      titlePrompt(content, style),
		MaxTokens:   50,
		Temperature: 0.4,
	})
	if err != nil {
		return "", err
	}
	return head(strings.Trim(out, `"'`), 60), nil
}

func (s *Service) DetectSpam(ctx context.Context, content string) (bool, error) {
	out, err := s.complete(ctx, CompletionRequest{
		Operation:   "detect_spam",
		Prompt:      spamPrompt(content),
		MaxTokens:   10,
		Temperature: 0.1,
	})
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.Trim(out, `."`), "true"), nil
}

func (s *Service) GenerateThumbnail(ctx context.Context, content string) (string, error) {
	if s.image == nil {
		return "", ErrNotConfigured
	}
	var url string
	err := s.call(ctx, s.imageBreaker, "generate_thumbnail", func(ctx context.Context) error {
		var err error
		url, err = s.image.GenerateImage(ctx, thumbnailPrompt(content))
		return err
	})
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", errors.New("image provider returned no url")
	}
	return url, nil
}

// New builds a Service from configuration. Missing keys leave the matching adapter unset.
func New(cfg config.AIConfig, logger *zap.Logger) *Service {
	var text Completer
	switch {
	case cfg.APIKey == "":
		logger.Warn("ai provider key missing, enrichment disabled")
	case cfg.Provider == "openai":
		text = NewOpenAICompleter(cfg.APIKey, cfg.Model, cfg.MaxTokens)
	default:
		text = NewAnthropicCompleter(cfg.APIKey, cfg.Model, cfg.MaxTokens)
	}

	var images ImageGenerator
	if cfg.ImageAPIKey != "" {
		images = NewOpenAIImages(cfg.ImageAPIKey, cfg.ImageModel)
	}
	return NewService(text, images, cfg.Timeout, logger)
}
