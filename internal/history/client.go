package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/calmline-ai/counsel-chat/internal/model"
)

// Client is the HTTP history store adapter used by the session side. It
// implements Store against the /conversations wire contract and maps HTTP
// statuses back onto the error taxonomy.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a history client. baseURL includes the API prefix,
// e.g. http://localhost:8080/api/v1.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateConversation implements Store.
func (c *Client) CreateConversation(ctx context.Context, req *model.CreateConversationRequest) (*model.Conversation, error) {
	var conv model.Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations", req, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// FetchConversation implements Store.
func (c *Client) FetchConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations/"+conversationID, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// AppendMessages implements Store.
func (c *Client) AppendMessages(ctx context.Context, conversationID string, messages []model.Message) (*model.AppendMessagesResponse, error) {
	req := &model.AppendMessagesRequest{
		ConversationID: conversationID,
		Messages:       messages,
	}
	var resp model.AppendMessagesResponse
	if err := c.do(ctx, http.MethodPut, "/conversations/"+conversationID, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s: %w", path, ErrConflict)
	case resp.StatusCode >= 500:
		return &TransientError{Op: method + " " + path, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
