package responder

import (
	"context"
)

// Provider is an LLM backend fulfilling generate requests on the server
// side. One prompt in, one completion out.
type Provider interface {
	// Complete returns a single text completion for the prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// Name returns the provider name.
	Name() string
}

// ProviderName selects a provider implementation.
type ProviderName string

const (
	ProviderAnthropic ProviderName = "anthropic"
	ProviderOpenAI    ProviderName = "openai"
)

// NewProvider creates an LLM provider by name.
func NewProvider(name ProviderName, apiKey string) (Provider, error) {
	switch name {
	case ProviderOpenAI:
		p, err := NewOpenAIProvider(apiKey)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		p, err := NewAnthropicProvider(apiKey)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
