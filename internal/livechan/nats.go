package livechan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/calmline-ai/counsel-chat/internal/model"
	natsclient "github.com/calmline-ai/counsel-chat/internal/nats"
	"github.com/calmline-ai/counsel-chat/pkg/logger"
	"github.com/calmline-ai/counsel-chat/pkg/metrics"
)

const (
	// subjectPrefix scopes all live channel subjects.
	subjectPrefix = "chat"

	// presenceBucket is the KV bucket holding live member sets per conversation.
	presenceBucket = "CHAT_PRESENCE"

	presenceRetries = 5
)

type presenceKind string

const (
	presenceJoined presenceKind = "joined"
	presenceLeft   presenceKind = "left"
)

// presenceEvent is the wire envelope on the presence subject. Members is the
// authoritative set after the change; every subscriber applies it verbatim.
type presenceEvent struct {
	Kind    presenceKind `json:"kind"`
	UserID  string       `json:"user_id"`
	Members []string     `json:"members"`
}

// NATSChannel implements Channel over core NATS pub/sub with a JetStream KV
// bucket for the member set. Core NATS delivers a publish to every
// subscriber, so the exclude-sender rule is enforced here by dropping
// messages whose SenderID matches the local identity.
type NATSChannel struct {
	client *natsclient.Client
	self   model.Identity
	logger *logger.Logger

	mu   sync.Mutex
	subs map[string][]*nats.Subscription
	kv   jetstream.KeyValue
}

// NewNATSChannel creates a live channel bound to one participant identity.
func NewNATSChannel(ctx context.Context, client *natsclient.Client, self model.Identity, log *logger.Logger) (*NATSChannel, error) {
	js := client.JetStream()

	kv, err := js.KeyValue(ctx, presenceBucket)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      presenceBucket,
			Description: "Live member sets per conversation",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create presence bucket: %w", err)
		}
	}

	return &NATSChannel{
		client: client,
		self:   self,
		logger: log,
		subs:   make(map[string][]*nats.Subscription),
		kv:     kv,
	}, nil
}

func messageSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s.msg", subjectPrefix, conversationID)
}

func presenceSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s.presence", subjectPrefix, conversationID)
}

// Join implements Channel.
func (c *NATSChannel) Join(ctx context.Context, conversationID string, sub Subscription) error {
	nc := c.client.Conn()

	msgSub, err := nc.Subscribe(messageSubject(conversationID), func(m *nats.Msg) {
		var message model.Message
		if err := json.Unmarshal(m.Data, &message); err != nil {
			c.logger.Warn("dropping malformed live message", zap.Error(err))
			return
		}
		// Own publishes come back on core NATS; drop them so the fan-out
		// contract (sender excluded) holds for the session.
		if message.SenderID == c.self.ID {
			return
		}
		metrics.LiveEventsTotal.WithLabelValues("new_message").Inc()
		if sub.OnNewMessage != nil {
			sub.OnNewMessage(message)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to messages: %w", err)
	}

	presSub, err := nc.Subscribe(presenceSubject(conversationID), func(m *nats.Msg) {
		var ev presenceEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			c.logger.Warn("dropping malformed presence event", zap.Error(err))
			return
		}
		switch ev.Kind {
		case presenceJoined:
			metrics.LiveEventsTotal.WithLabelValues("members_changed").Inc()
			if sub.OnMembersChanged != nil {
				sub.OnMembersChanged(ev.Members)
			}
		case presenceLeft:
			metrics.LiveEventsTotal.WithLabelValues("member_left").Inc()
			if sub.OnMemberLeft != nil {
				sub.OnMemberLeft(ev.UserID, ev.Members)
			}
		}
	})
	if err != nil {
		_ = msgSub.Unsubscribe()
		return fmt.Errorf("failed to subscribe to presence: %w", err)
	}

	c.mu.Lock()
	c.subs[conversationID] = []*nats.Subscription{msgSub, presSub}
	c.mu.Unlock()

	members, err := c.updatePresence(ctx, conversationID, true)
	if err != nil {
		c.teardown(conversationID)
		return err
	}

	return c.publishPresence(ctx, conversationID, presenceEvent{
		Kind:    presenceJoined,
		UserID:  c.self.ID,
		Members: members,
	})
}

// Leave implements Channel.
func (c *NATSChannel) Leave(ctx context.Context, conversationID string) error {
	members, err := c.updatePresence(ctx, conversationID, false)
	if err == nil {
		err = c.publishPresence(ctx, conversationID, presenceEvent{
			Kind:    presenceLeft,
			UserID:  c.self.ID,
			Members: members,
		})
	}

	c.teardown(conversationID)
	return err
}

// PublishMessage implements Channel.
func (c *NATSChannel) PublishMessage(ctx context.Context, conversationID string, msg model.Message) error {
	msg.ConversationID = conversationID
	msg.SenderID = c.self.ID

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.client.Conn().Publish(messageSubject(conversationID), data)
}

func (c *NATSChannel) teardown(conversationID string) {
	c.mu.Lock()
	subs := c.subs[conversationID]
	delete(c.subs, conversationID)
	c.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
}

// updatePresence adds or removes self in the KV member set with a small CAS
// retry loop, returning the resulting set.
func (c *NATSChannel) updatePresence(ctx context.Context, conversationID string, join bool) ([]string, error) {
	var lastErr error
	for attempt := 0; attempt < presenceRetries; attempt++ {
		entry, err := c.kv.Get(ctx, conversationID)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			if !join {
				return nil, nil
			}
			members := []string{c.self.ID}
			data, _ := json.Marshal(members)
			if _, err := c.kv.Create(ctx, conversationID, data); err == nil {
				return members, nil
			}
			lastErr = err
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read presence: %w", err)
		}

		var members []string
		if err := json.Unmarshal(entry.Value(), &members); err != nil {
			return nil, fmt.Errorf("failed to unmarshal presence: %w", err)
		}

		updated := members[:0:0]
		for _, id := range members {
			if id != c.self.ID {
				updated = append(updated, id)
			}
		}
		if join {
			updated = append(updated, c.self.ID)
		}

		data, _ := json.Marshal(updated)
		if _, err := c.kv.Update(ctx, conversationID, data, entry.Revision()); err == nil {
			return updated, nil
		} else {
			lastErr = err
		}
	}
	return nil, fmt.Errorf("presence update contention: %w", lastErr)
}

func (c *NATSChannel) publishPresence(ctx context.Context, conversationID string, ev presenceEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.client.Conn().Publish(presenceSubject(conversationID), data)
}
