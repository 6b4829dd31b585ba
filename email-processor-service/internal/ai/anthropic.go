package ai

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicCompleter struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

func NewAnthropicCompleter(apiKey, model string, maxTokens int64) *AnthropicCompleter {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	m := anthropic.ModelClaudeHaiku4_5
	if model != "" {
		m = anthropic.Model(model)
	}
	return &AnthropicCompleter{client: &client, model: m, maxTokens: maxTokens}
}

func (c *AnthropicCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   capTokens(req.MaxTokens, c.maxTokens),
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic %s: %w", req.Operation, err)
	}
	for _, block := range resp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic %s: no text in response", req.Operation)
}

// capTokens applies the configured ceiling to a per-operation budget.
func capTokens(want, ceiling int64) int64 {
	if want <= 0 {
		want = 256
	}
	if ceiling > 0 && want > ceiling {
		return ceiling
	}
	return want
}
