package model

import (
	"time"
)

// AuthorRole identifies which party authored a message. It is stored
// explicitly on every message rather than being inferred from position
// parity, so the stored record stays valid even when the strict
// user/counselor alternation is broken.
type AuthorRole string

const (
	RoleUser      AuthorRole = "user"
	RoleCounselor AuthorRole = "counselor"
	RoleAssistant AuthorRole = "assistant"
)

// Message is a single chat utterance. Messages are immutable once created.
type Message struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`

	// SenderID is the participant identity that published the message.
	// Empty for assistant messages, which are injected by the platform.
	SenderID string `json:"sender_id,omitempty"`

	// Content
	AuthorRole  AuthorRole `json:"author_role"`
	AuthorLabel string     `json:"author_label"`
	Body        string     `json:"body"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`

	// Stream metadata, populated on read from the history store.
	Sequence uint64 `json:"sequence,omitempty"`
}

// RolePosition is the viewer-relative rendering side of a message. It is
// never persisted: the same message renders SELF for its author and OTHER
// for everyone else, so the value is recomputed on every read.
type RolePosition string

const (
	PositionSelf  RolePosition = "self"
	PositionOther RolePosition = "other"
)

// ViewMessage is a message projected for one viewer.
type ViewMessage struct {
	Position RolePosition `json:"position"`
	Title    string       `json:"title"`
	Text     string       `json:"text"`
}

// AppendMessagesRequest is the request to append messages to a conversation.
// The history store appends the batch atomically in the given order.
type AppendMessagesRequest struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

// AppendMessagesResponse acknowledges a persisted batch.
type AppendMessagesResponse struct {
	LastSequence uint64 `json:"last_sequence"`
	Count        int    `json:"count"`
}

// GenerateRequest is the responder gateway request: a fully assembled
// transcript prompt, one completion per call.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

// GenerateResponse is the responder gateway completion.
type GenerateResponse struct {
	Response string `json:"response"`
}
