package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/calmline-ai/counsel-chat/internal/model"
	natsclient "github.com/calmline-ai/counsel-chat/internal/nats"
	"github.com/calmline-ai/counsel-chat/pkg/logger"
)

const (
	// StreamName is the name of the conversation messages stream.
	StreamName = "CONVERSATIONS"

	// SubjectPrefix is the prefix for all conversation subjects.
	SubjectPrefix = "conv"

	// recordBucket is the KV bucket holding conversation records.
	recordBucket = "CONVERSATION_RECORDS"

	fetchBatchSize = 100
)

// record is the durable conversation envelope kept in KV. Messages live in
// the stream; the record holds identity and membership only. No role
// position is ever stored, that is a per-viewer projection.
type record struct {
	ID        string    `json:"id"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StreamStore is the JetStream-backed history store used by the API server.
type StreamStore struct {
	client *natsclient.Client
	kv     jetstream.KeyValue
	logger *logger.Logger
}

// NewStreamStore creates the store, ensuring the stream and record bucket exist.
func NewStreamStore(ctx context.Context, client *natsclient.Client, log *logger.Logger) (*StreamStore, error) {
	js := client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err != nil {
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        StreamName,
			Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      365 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Compression: jetstream.S2Compression,
			DenyDelete:  true,
			DenyPurge:   true,
			Description: "Conversation messages, append-only",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	}

	kv, err := js.KeyValue(ctx, recordBucket)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      recordBucket,
			Description: "Conversation records",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create record bucket: %w", err)
		}
	}

	return &StreamStore{client: client, kv: kv, logger: log}, nil
}

// MessageSubject returns the subject a conversation's batches are published on.
func MessageSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s.msg", SubjectPrefix, conversationID)
}

// batchEnvelope is one stream entry. A whole append batch travels as a
// single publish, so a batch is either durably persisted or not at all;
// there is no partial prefix for a retry to duplicate.
type batchEnvelope struct {
	Messages []model.Message `json:"messages"`
}

func encodeBatch(messages []model.Message) ([]byte, error) {
	return json.Marshal(batchEnvelope{Messages: messages})
}

func decodeBatch(data []byte) ([]model.Message, error) {
	var env batchEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return env.Messages, nil
}

// CreateConversation creates the record, or returns the existing one when the
// member set matches. Initial messages are appended after the record exists.
func (s *StreamStore) CreateConversation(ctx context.Context, req *model.CreateConversationRequest) (*model.Conversation, error) {
	now := time.Now().UTC()
	rec := record{
		ID:        req.ConversationID,
		Members:   req.Members,
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = s.kv.Create(ctx, rec.ID, data)
	if errors.Is(err, jetstream.ErrKeyExists) {
		existing, err := s.getRecord(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		if !model.EqualMembers(existing.Members, req.Members) {
			return nil, fmt.Errorf("create %s: %w", rec.ID, ErrConflict)
		}
		return s.FetchConversation(ctx, rec.ID)
	}
	if err != nil {
		return nil, &TransientError{Op: "create", Err: err}
	}

	if len(req.Messages) > 0 {
		if _, err := s.AppendMessages(ctx, rec.ID, req.Messages); err != nil {
			return nil, err
		}
	}

	return &model.Conversation{
		ID:        rec.ID,
		Members:   rec.Members,
		Messages:  req.Messages,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

// FetchConversation returns the record plus the full ordered message list.
func (s *StreamStore) FetchConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	rec, err := s.getRecord(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	messages, err := s.fetchMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	return &model.Conversation{
		ID:        rec.ID,
		Members:   rec.Members,
		Messages:  messages,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

// AppendMessages persists the batch as one stream entry: all-or-nothing, in
// the given order.
func (s *StreamStore) AppendMessages(ctx context.Context, conversationID string, messages []model.Message) (*model.AppendMessagesResponse, error) {
	rec, err := s.getRecord(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	batch := make([]model.Message, len(messages))
	copy(batch, messages)
	for i := range batch {
		batch[i].ConversationID = conversationID
	}

	data, err := encodeBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}
	ack, err := s.client.JetStream().Publish(ctx, MessageSubject(conversationID), data)
	if err != nil {
		return nil, &TransientError{Op: "append", Err: err}
	}

	rec.UpdatedAt = time.Now().UTC()
	if data, err := json.Marshal(rec); err == nil {
		_, _ = s.kv.Put(ctx, conversationID, data)
	}

	return &model.AppendMessagesResponse{LastSequence: ack.Sequence, Count: len(batch)}, nil
}

func (s *StreamStore) getRecord(ctx context.Context, conversationID string) (*record, error) {
	entry, err := s.kv.Get(ctx, conversationID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, fmt.Errorf("fetch %s: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return nil, &TransientError{Op: "fetch", Err: err}
	}

	var rec record
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

func (s *StreamStore) fetchMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	js := s.client.JetStream()

	consumer, err := js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: MessageSubject(conversationID),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		// Fetch consumers are throwaway; let the server reap them.
		InactiveThreshold: 5 * time.Minute,
	})
	if err != nil {
		return nil, &TransientError{Op: "consumer", Err: err}
	}

	var messages []model.Message
	for {
		batch, err := consumer.Fetch(fetchBatchSize, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return nil, &TransientError{Op: "fetch", Err: err}
		}

		count := 0
		for msg := range batch.Messages() {
			decoded, err := decodeBatch(msg.Data())
			if err != nil {
				continue
			}
			var seq uint64
			if meta, err := msg.Metadata(); err == nil {
				seq = meta.Sequence.Stream
			}
			for _, message := range decoded {
				message.Sequence = seq
				messages = append(messages, message)
			}
			count++
		}
		if batch.Error() != nil && !errors.Is(batch.Error(), context.DeadlineExceeded) {
			return nil, &TransientError{Op: "fetch", Err: batch.Error()}
		}
		if count < fetchBatchSize {
			break
		}
	}

	return messages, nil
}
