// Package livechan provides the per-conversation live push channel:
// membership announcements and new-message fan-out to every participant
// except the sender.
package livechan

import (
	"context"

	"github.com/calmline-ai/counsel-chat/internal/model"
)

// Subscription holds the typed callbacks a session registers once on join
// and releases on leave. Callbacks are invoked from the channel's delivery
// goroutine; the session is responsible for marshalling them onto its own
// event loop.
type Subscription struct {
	OnNewMessage     func(msg model.Message)
	OnMembersChanged func(members []string)
	OnMemberLeft     func(userID string, members []string)
}

// Channel is the live transport contract consumed by the session core.
type Channel interface {
	// Join announces presence on the conversation and attaches the
	// subscription. The updated member set is delivered back through
	// OnMembersChanged, to the joiner included.
	Join(ctx context.Context, conversationID string, sub Subscription) error

	// Leave announces departure and releases the subscription.
	Leave(ctx context.Context, conversationID string) error

	// PublishMessage fans the message out to all other subscribers of the
	// conversation. The sender never receives its own publish back.
	PublishMessage(ctx context.Context, conversationID string, msg model.Message) error
}
