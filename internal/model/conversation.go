// Package model defines data structures for the counseling chat platform.
package model

import (
	"sort"
	"time"
)

// Identity is one participant in a conversation: who they are, how their
// name renders, and which side of the conversation they occupy. It is an
// explicit value handed to the session at construction, never ambient state.
type Identity struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Role        AuthorRole `json:"role"`
}

// Conversation is the durable two-party chat record: an ordered, append-only
// message sequence plus the set of currently joined participant IDs. The
// automated responder never occupies a member slot.
type Conversation struct {
	ID        string    `json:"id"`
	Members   []string  `json:"members"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EqualMembers reports whether two member sets hold the same identities,
// ignoring order. Used wherever a member-set replacement must be skipped
// when nothing actually changed.
func EqualMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// CreateConversationRequest is the request to create a new conversation.
// Creation is idempotent per ID: re-creating with the same member set
// returns the existing record, a different member set is a conflict.
type CreateConversationRequest struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages,omitempty"`
	Members        []string  `json:"members,omitempty"`
}
