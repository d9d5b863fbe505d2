// Package responder provides the automated-completion gateway invoked when
// no human counselor is present, plus the LLM providers backing it.
package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/calmline-ai/counsel-chat/internal/model"
)

// GenerationError wraps responder gateway failures and timeouts. Generation
// failures are non-fatal: the caller persists the user message anyway and
// surfaces the error without retrying.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("responder generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Gateway produces a single completion for a fully assembled prompt.
// No streaming; the external service has unbounded latency, so every
// implementation applies a bounded wait.
type Gateway interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// HTTPGateway is the request/response client for the responder endpoint.
type HTTPGateway struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
}

// NewHTTPGateway creates a gateway client. timeout bounds each Generate call.
func NewHTTPGateway(baseURL, token string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGateway{
		baseURL: baseURL,
		token:   token,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
	}
}

// Generate implements Gateway.
func (g *HTTPGateway) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	data, err := json.Marshal(&model.GenerateRequest{Prompt: prompt})
	if err != nil {
		return "", &GenerationError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/responder/generate", bytes.NewReader(data))
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &GenerationError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var out model.GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &GenerationError{Err: err}
	}
	return out.Response, nil
}
