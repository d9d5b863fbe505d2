// Package history provides the durable conversation record: create, fetch,
// and ordered append of messages.
package history

import (
	"context"

	"github.com/calmline-ai/counsel-chat/internal/model"
)

// Store is the conversation history contract consumed by the session core.
// Implementations: StreamStore (JetStream, server side) and Client (HTTP).
type Store interface {
	// CreateConversation creates a conversation record. Idempotent per ID:
	// an existing record with the same member set is returned as-is, a
	// different member set fails with ErrConflict.
	CreateConversation(ctx context.Context, req *model.CreateConversationRequest) (*model.Conversation, error)

	// FetchConversation returns the record and full ordered message list,
	// or ErrNotFound.
	FetchConversation(ctx context.Context, conversationID string) (*model.Conversation, error)

	// AppendMessages appends the batch atomically in the given order: the
	// whole batch persists or none of it does. ErrNotFound on unknown
	// conversation, TransientError on I/O failure.
	AppendMessages(ctx context.Context, conversationID string, messages []model.Message) (*model.AppendMessagesResponse, error)
}
