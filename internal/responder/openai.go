package responder

import (
	"context"
	"errors"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/calmline-ai/counsel-chat/pkg/metrics"
)

const openAIDefaultModel = "gpt-4o-mini"

// OpenAIProvider is the OpenAI completion backend.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(apiKey string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  openAIDefaultModel,
	}, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete sends a single completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		metrics.RecordGeneration(p.Name(), "error", time.Since(start).Seconds(), 0, 0)
		return "", err
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	metrics.RecordGeneration(p.Name(), "success", time.Since(start).Seconds(),
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	return content, nil
}
