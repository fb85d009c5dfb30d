// Package llm wraps the hosted language models used for page transcription,
// style learning and HTML generation behind one small interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

var (
	// ErrNoCredentials is returned when no provider has a usable API key.
	ErrNoCredentials = errors.New("no LLM API key configured")
	// ErrEmptyResponse is returned when a provider answers without content.
	ErrEmptyResponse = errors.New("llm returned an empty response")
)

// Request is a single-turn prompt, optionally with one PNG image attached.
type Request struct {
	Prompt    string
	Image     []byte
	MaxTokens int
	// Temperature of 0 leaves the provider default in place.
	Temperature float64
}

// Client completes a single request against one provider and model.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Factory builds a client for a provider. Tests swap it for fakes.
type Factory func(provider Provider, apiKey, model string) (Client, error)

// NewClient is the production Factory.
func NewClient(provider Provider, apiKey, model string) (Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%s: %w", provider, ErrNoCredentials)
	}
	var (
		client Client
		err    error
	)
	switch provider {
	case ProviderOpenAI:
		client = newOpenAIClient(apiKey, model)
	case ProviderAnthropic:
		client, err = newAnthropicClient(apiKey, model)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", provider)
	}
	if err != nil {
		return nil, err
	}
	return withRetry(client, defaultRetries), nil
}

// Credentials are decrypted provider keys plus the selected model names.
// They live only for the duration of one run.
type Credentials struct {
	OpenAIKey      string
	AnthropicKey   string
	OpenAIModel    string
	AnthropicModel string
}

// Preferred picks Anthropic when its key is set, else OpenAI.
func (c Credentials) Preferred() (Provider, string, string, bool) {
	if c.AnthropicKey != "" {
		return ProviderAnthropic, c.AnthropicKey, c.AnthropicModel, true
	}
	if c.OpenAIKey != "" {
		return ProviderOpenAI, c.OpenAIKey, c.OpenAIModel, true
	}
	return "", "", "", false
}

// AnthropicTokenBudget is the completion budget for Claude models:
// lightweight haiku-class models get the smaller one.
func AnthropicTokenBudget(model string) int {
	if strings.Contains(model, "sonnet") || strings.Contains(model, "opus") {
		return 8000
	}
	return 4096
}
