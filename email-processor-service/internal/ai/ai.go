// Package ai exposes the enrichment capabilities behind narrow interfaces. Provider SDKs are
// adapters implementing Completer and ImageGenerator.
package ai

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when no provider credentials are configured.
var ErrNotConfigured = errors.New("ai provider not configured")

type SummaryLength string

const (
	SummaryShort  SummaryLength = "short"
	SummaryMedium SummaryLength = "medium"
	SummaryLong   SummaryLength = "long"
)

func ParseSummaryLength(s string) SummaryLength {
	switch SummaryLength(s) {
	case SummaryShort, SummaryLong:
		return SummaryLength(s)
	}
	return SummaryMedium
}

type TitleStyle string

const (
	TitleNews         TitleStyle = "news"
	TitleCasual       TitleStyle = "casual"
	TitleProfessional TitleStyle = "professional"
)

// NeutralScore is used whenever a score cannot be obtained.
const NeutralScore = 0.5

// OtherCategory absorbs anything outside Categories.
const OtherCategory = "Other"

var Categories = []string{
	"Technology",
	"Business",
	"Finance",
	"Science",
	"Health",
	"Politics",
	"Entertainment",
	"Sports",
	"Lifestyle",
	"Education",
	"Startups",
	"AI/ML",
	"Cryptocurrency",
	"Marketing",
	"Design",
	OtherCategory,
}

// Capability is what the enrichment orchestrator needs. Failing methods still return their
// safe default alongside the error.
type Capability interface {
	Summarize(ctx context.Context, content string, length SummaryLength) (string, error)
	Categorize(ctx context.Context, content string) (string, error)
	ScoreInterest(ctx context.Context, content string, interests []string) (float64, error)
	GenerateThumbnail(ctx context.Context, content string) (string, error)
}

// Annotator covers the secondary annotations.
type Annotator interface {
	ExtractKeywords(ctx context.Context, content string, max int) ([]string, error)
	GenerateTitle(ctx context.Context, content string, style TitleStyle) (string, error)
	DetectSpam(ctx context.Context, content string) (bool, error)
}

type CompletionRequest struct {
	Operation   string
	Prompt      string
	MaxTokens   int64
	Temperature float64
}

// Completer is a text-in, text-out model call.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ImageGenerator returns the URL of a generated image.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}
