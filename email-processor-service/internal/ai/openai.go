package ai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type OpenAICompleter struct {
	client    *openai.Client
	model     openai.ChatModel
	maxTokens int64
}

func NewOpenAICompleter(apiKey, model string, maxTokens int64) *OpenAICompleter {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	m := openai.ChatModelGPT4oMini
	if model != "" {
		m = openai.ChatModel(model)
	}
	return &OpenAICompleter{client: &client, model: m, maxTokens: maxTokens}
}

func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		MaxTokens:   openai.Int(capTokens(req.MaxTokens, c.maxTokens)),
		Temperature: openai.Float(req.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai %s: %w", req.Operation, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai %s: no choices in response", req.Operation)
	}
	return resp.Choices[0].Message.Content, nil
}

// OpenAIImages generates thumbnails with DALL-E 3.
type OpenAIImages struct {
	client *openai.Client
	model  openai.ImageModel
}

func NewOpenAIImages(apiKey, model string) *OpenAIImages {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	m := openai.ImageModelDallE3
	if model != "" {
		m = openai.ImageModel(model)
	}
	return &OpenAIImages{client: &client, model: m}
}

func (g *OpenAIImages) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:  prompt,
		Model:   g.model,
		Size:    openai.ImageGenerateParamsSize1024x1024,
		Quality: openai.ImageGenerateParamsQualityStandard,
		N:       openai.Int(1),
	})
	if err != nil {
		return "", fmt.Errorf("openai image: %w", err)
	}
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("openai image: empty response")
	}
	return resp.Data[0].URL, nil
}
