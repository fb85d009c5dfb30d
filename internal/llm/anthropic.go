package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
)

type anthropicClient struct {
	llm   llms.Model
	model string
}

func newAnthropicClient(apiKey, model string) (*anthropicClient, error) {
	if model == "" {
		model = "claude-3-haiku-20240307"
	}
	m, err := anthropic.New(
		anthropic.WithModel(model),
		anthropic.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("create anthropic client: %w", err)
	}
	return &anthropicClient{llm: m, model: model}, nil
}

func (c *anthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	parts := make([]llms.ContentPart, 0, 2)
	if len(req.Image) > 0 {
		parts = append(parts, llms.BinaryPart("image/png", req.Image))
	}
	parts = append(parts, llms.TextPart(req.Prompt))

	opts := []llms.CallOption{llms.WithMaxTokens(req.MaxTokens)}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}

	resp, err := c.llm.GenerateContent(ctx, []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: parts,
		},
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("anthropic generate content: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}
