package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calmline-ai/counsel-chat/internal/livechan"
	"github.com/calmline-ai/counsel-chat/internal/model"
	"github.com/calmline-ai/counsel-chat/internal/session"
	"github.com/calmline-ai/counsel-chat/pkg/logger"
)

type fakeStore struct {
	fetchFunc  func(ctx context.Context, id string) (*model.Conversation, error)
	appendFunc func(ctx context.Context, id string, msgs []model.Message) (*model.AppendMessagesResponse, error)
}

func (f *fakeStore) CreateConversation(ctx context.Context, req *model.CreateConversationRequest) (*model.Conversation, error) {
	return nil, errors.New("unexpected CreateConversation")
}

func (f *fakeStore) FetchConversation(ctx context.Context, id string) (*model.Conversation, error) {
	if f.fetchFunc != nil {
		return f.fetchFunc(ctx, id)
	}
	return &model.Conversation{ID: id}, nil
}

func (f *fakeStore) AppendMessages(ctx context.Context, id string, msgs []model.Message) (*model.AppendMessagesResponse, error) {
	if f.appendFunc != nil {
		return f.appendFunc(ctx, id, msgs)
	}
	return &model.AppendMessagesResponse{Count: len(msgs)}, nil
}

type fakeChannel struct {
	mu         sync.Mutex
	sub        livechan.Subscription
	published  []model.Message
	leaves     int
	publishErr error
}

func (f *fakeChannel) Join(ctx context.Context, id string, sub livechan.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sub = sub
	return nil
}

func (f *fakeChannel) Leave(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	return nil
}

func (f *fakeChannel) PublishMessage(ctx context.Context, id string, msg model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) publishedMessages() []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Message(nil), f.published...)
}

func (f *fakeChannel) subscription() livechan.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sub
}

type fakeGateway struct {
	calls        atomic.Int64
	generateFunc func(ctx context.Context, prompt string) (string, error)
}

func (f *fakeGateway) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls.Add(1)
	if f.generateFunc != nil {
		return f.generateFunc(ctx, prompt)
	}
	return "", errors.New("unexpected Generate")
}

func userIdentity() model.Identity {
	return model.Identity{ID: "u1", DisplayName: "Sam", Role: model.RoleUser}
}

func counselorIdentity() model.Identity {
	return model.Identity{ID: "c1", DisplayName: "Dana", Role: model.RoleCounselor}
}

// recvBatch waits for one persisted batch, failing the test on timeout.
func recvBatch(t *testing.T, ch <-chan []model.Message) []model.Message {
	t.Helper()
	select {
	case batch := <-ch:
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for history append")
		return nil
	}
}

func recvErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reported error")
		return nil
	}
}

func openSession(t *testing.T, viewer model.Identity, store *fakeStore, channel *fakeChannel, gw *fakeGateway, hooks session.Hooks) *session.Session {
	t.Helper()
	log := logger.NewNop()
	var sess *session.Session
	if gw == nil {
		sess = session.New(viewer, "conv-1", store, channel, nil, hooks, log)
	} else {
		sess = session.New(viewer, "conv-1", store, channel, gw, hooks, log)
	}
	if err := sess.Open(context.Background()); err != nil {
		t.Fatalf("failed to open session: %v", err)
	}
	t.Cleanup(func() {
		_ = sess.Close(context.Background())
	})
	return sess
}

func TestSubmitWhitespaceIsNoOp(t *testing.T) {
	t.Parallel()

	appends := make(chan []model.Message, 4)
	store := &fakeStore{
		appendFunc: func(ctx context.Context, id string, msgs []model.Message) (*model.AppendMessagesResponse, error) {
			appends <- msgs
			return &model.AppendMessagesResponse{Count: len(msgs)}, nil
		},
	}
	channel := &fakeChannel{}
	sess := openSession(t, userIdentity(), store, channel, nil, session.Hooks{})

	if err := sess.Submit(context.Background(), "   \n\t"); err != nil {
		t.Fatalf("Submit returned %v, want nil", err)
	}

	if got := sess.Messages(); len(got) != 0 {
		t.Fatalf("got %d messages, want 0", len(got))
	}
	if got := channel.publishedMessages(); len(got) != 0 {
		t.Fatalf("published %d messages, want 0", len(got))
	}
	select {
	case batch := <-appends:
		t.Fatalf("unexpected append of %d messages", len(batch))
	default:
	}
}

func TestSoloSubmitRoutesToResponder(t *testing.T) {
	t.Parallel()

	appends := make(chan []model.Message, 1)
	store := &fakeStore{
		fetchFunc: func(ctx context.Context, id string) (*model.Conversation, error) {
			return &model.Conversation{ID: id, Members: []string{"u1"}}, nil
		},
		appendFunc: func(ctx context.Context, id string, msgs []model.Message) (*model.AppendMessagesResponse, error) {
			appends <- msgs
			return &model.AppendMessagesResponse{Count: len(msgs)}, nil
		},
	}
	channel := &fakeChannel{}
	gateway := &fakeGateway{
		generateFunc: func(ctx context.Context, prompt string) (string, error) {
			return "I hear you. What is making you feel anxious?", nil
		},
	}
	sess := openSession(t, userIdentity(), store, channel, gateway, session.Hooks{})

	if err := sess.Submit(context.Background(), "I feel anxious."); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	batch := recvBatch(t, appends)
	if len(batch) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(batch))
	}
	if batch[0].AuthorRole != model.RoleUser || batch[0].Body != "I feel anxious." {
		t.Fatalf("batch[0] = %+v, want the user message first", batch[0])
	}
	if batch[1].AuthorRole != model.RoleAssistant || batch[1].AuthorLabel != session.AssistantLabel {
		t.Fatalf("batch[1] = %+v, want the assistant reply", batch[1])
	}

	view := sess.Messages()
	if len(view) != 2 {
		t.Fatalf("got %d view messages, want 2", len(view))
	}
	if view[0].Position != model.PositionSelf {
		t.Fatalf("view[0].Position = %q, want %q", view[0].Position, model.PositionSelf)
	}
	if view[1].Position != model.PositionOther || view[1].Title != session.AssistantLabel {
		t.Fatalf("view[1] = %+v, want assistant on the other side", view[1])
	}

	if got := channel.publishedMessages(); len(got) != 1 {
		t.Fatalf("published %d messages, want 1", len(got))
	}
	if got := gateway.calls.Load(); got != 1 {
		t.Fatalf("gateway called %d times, want 1", got)
	}
}

func TestSubmitKeepsMessageWhenGenerationFails(t *testing.T) {
	t.Parallel()

	appends := make(chan []model.Message, 1)
	reported := make(chan error, 4)
	store := &fakeStore{
		fetchFunc: func(ctx context.Context, id string) (*model.Conversation, error) {
			return &model.Conversation{ID: id, Members: []string{"u1"}}, nil
		},
		appendFunc: func(ctx context.Context, id string, msgs []model.Message) (*model.AppendMessagesResponse, error) {
			appends <- msgs
			return &model.AppendMessagesResponse{Count: len(msgs)}, nil
		},
	}
	channel := &fakeChannel{}
	genErr := errors.New("model overloaded")
	gateway := &fakeGateway{
		generateFunc: func(ctx context.Context, prompt string) (string, error) {
			return "", genErr
		},
	}
	sess := openSession(t, userIdentity(), store, channel, gateway, session.Hooks{
		OnError: func(err error) { reported <- err },
	})

	if err := sess.Submit(context.Background(), "Hello?"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	batch := recvBatch(t, appends)
	if len(batch) != 1 || batch[0].AuthorRole != model.RoleUser {
		t.Fatalf("persisted %+v, want the user message alone", batch)
	}
	if err := recvErr(t, reported); !errors.Is(err, genErr) {
		t.Fatalf("reported %v, want %v", err, genErr)
	}

	view := sess.Messages()
	if len(view) != 1 || view[0].Position != model.PositionSelf {
		t.Fatalf("view = %+v, want the optimistic message kept", view)
	}
}

func TestSubmitSkipsResponderWithCounselorPresent(t *testing.T) {
	t.Parallel()

	appends := make(chan []model.Message, 1)
	store := &fakeStore{
		fetchFunc: func(ctx context.Context, id string) (*model.Conversation, error) {
			return &model.Conversation{ID: id, Members: []string{"u1", "c1"}}, nil
		},
		appendFunc: func(ctx context.Context, id string, msgs []model.Message) (*model.AppendMessagesResponse, error) {
			appends <- msgs
			return &model.AppendMessagesResponse{Count: len(msgs)}, nil
		},
	}
	channel := &fakeChannel{}
	gateway := &fakeGateway{}
	sess := openSession(t, userIdentity(), store, channel, gateway, session.Hooks{})

	if err := sess.Submit(context.Background(), "Are you there?"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	batch := recvBatch(t, appends)
	if len(batch) != 1 {
		t.Fatalf("persisted %d messages, want 1", len(batch))
	}
	if got := gateway.calls.Load(); got != 0 {
		t.Fatalf("gateway called %d times, want 0", got)
	}
}

func TestCounselorViewerProjection(t *testing.T) {
	t.Parallel()

	appends := make(chan []model.Message, 1)
	store := &fakeStore{
		fetchFunc: func(ctx context.Context, id string) (*model.Conversation, error) {
			return &model.Conversation{
				ID:      id,
				Members: []string{"u1", "c1"},
				Messages: []model.Message{
					{AuthorRole: model.RoleUser, AuthorLabel: "Sam", Body: "Hi"},
					{AuthorRole: model.RoleCounselor, AuthorLabel: "Dana", Body: "Hello, how can I help?"},
				},
			}, nil
		},
		appendFunc: func(ctx context.Context, id string, msgs []model.Message) (*model.AppendMessagesResponse, error) {
			appends <- msgs
			return &model.AppendMessagesResponse{Count: len(msgs)}, nil
		},
	}
	channel := &fakeChannel{}
	gateway := &fakeGateway{}
	sess := openSession(t, counselorIdentity(), store, channel, gateway, session.Hooks{})

	view := sess.Messages()
	if len(view) != 2 {
		t.Fatalf("got %d view messages, want 2", len(view))
	}
	if view[0].Position != model.PositionOther || view[1].Position != model.PositionSelf {
		t.Fatalf("view = %+v, want [other, self] for the counselor", view)
	}

	if err := sess.Submit(context.Background(), "Tell me more"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	batch := recvBatch(t, appends)
	if len(batch) != 1 || batch[0].AuthorRole != model.RoleCounselor {
		t.Fatalf("persisted %+v, want one counselor message", batch)
	}
	if got := gateway.calls.Load(); got != 0 {
		t.Fatalf("gateway called %d times, want 0", got)
	}

	view = sess.Messages()
	if len(view) != 3 || view[2].Position != model.PositionSelf {
		t.Fatalf("view = %+v, want the new message rendered self-side", view)
	}
	if got := channel.publishedMessages(); len(got) != 1 {
		t.Fatalf("published %d messages, want 1", len(got))
	}
}

func TestRemoteMessageMerged(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		fetchFunc: func(ctx context.Context, id string) (*model.Conversation, error) {
			return &model.Conversation{ID: id, Members: []string{"u1", "c1"}}, nil
		},
	}
	channel := &fakeChannel{}
	sess := openSession(t, userIdentity(), store, channel, nil, session.Hooks{})

	channel.subscription().OnNewMessage(model.Message{
		SenderID:    "c1",
		AuthorRole:  model.RoleCounselor,
		AuthorLabel: "Dana",
		Body:        "Hello, how can I help?",
	})

	view := sess.Messages()
	if len(view) != 1 {
		t.Fatalf("got %d view messages, want 1", len(view))
	}
	if view[0].Position != model.PositionOther || view[0].Title != "Dana" {
		t.Fatalf("view[0] = %+v, want the counselor message other-side", view[0])
	}
}

func TestRemoteEchoOfOwnMessageIgnored(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	channel := &fakeChannel{}
	sess := openSession(t, userIdentity(), store, channel, nil, session.Hooks{})

	channel.subscription().OnNewMessage(model.Message{
		SenderID:   "u1",
		AuthorRole: model.RoleUser,
		Body:       "echo",
	})

	if got := sess.Messages(); len(got) != 0 {
		t.Fatalf("got %d messages, want the echo dropped", len(got))
	}
}

func TestMembersChangedFiresOnlyOnValueChange(t *testing.T) {
	t.Parallel()

	memberUpdates := make(chan []string, 4)
	store := &fakeStore{
		fetchFunc: func(ctx context.Context, id string) (*model.Conversation, error) {
			return &model.Conversation{ID: id, Members: []string{"u1"}}, nil
		},
	}
	channel := &fakeChannel{}
	sess := openSession(t, userIdentity(), store, channel, nil, session.Hooks{
		OnMembers: func(members []string) { memberUpdates <- members },
	})

	// Same set by value: no notification.
	channel.subscription().OnMembersChanged([]string{"u1"})
	_ = sess.Members()
	select {
	case members := <-memberUpdates:
		t.Fatalf("unexpected member update %v", members)
	default:
	}

	channel.subscription().OnMembersChanged([]string{"c1", "u1"})
	select {
	case members := <-memberUpdates:
		if len(members) != 2 {
			t.Fatalf("got members %v, want two entries", members)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for member update")
	}

	if got := sess.Members(); len(got) != 2 {
		t.Fatalf("Members() = %v, want two entries", got)
	}
}

func TestSubmitBeforeOpenReturnsNotReady(t *testing.T) {
	t.Parallel()

	log := logger.NewNop()
	sess := session.New(userIdentity(), "conv-1", &fakeStore{}, &fakeChannel{}, nil, session.Hooks{}, log)
	t.Cleanup(func() { _ = sess.Close(context.Background()) })

	if err := sess.Submit(context.Background(), "too soon"); !errors.Is(err, session.ErrNotReady) {
		t.Fatalf("Submit returned %v, want ErrNotReady", err)
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	channel := &fakeChannel{}
	sess := openSession(t, userIdentity(), store, channel, nil, session.Hooks{})

	if err := sess.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := sess.Close(context.Background()); !errors.Is(err, session.ErrClosed) {
		t.Fatalf("second Close returned %v, want ErrClosed", err)
	}

	// A late live event is discarded, not merged.
	channel.subscription().OnNewMessage(model.Message{
		SenderID:   "c1",
		AuthorRole: model.RoleCounselor,
		Body:       "too late",
	})
	if got := sess.Messages(); len(got) != 0 {
		t.Fatalf("got %d messages after close, want 0", len(got))
	}

	if err := sess.Submit(context.Background(), "hello"); !errors.Is(err, session.ErrClosed) {
		t.Fatalf("Submit after close returned %v, want ErrClosed", err)
	}
	if sess.State() != session.StateClosed {
		t.Fatalf("State() = %v, want StateClosed", sess.State())
	}

	channel.mu.Lock()
	leaves := channel.leaves
	channel.mu.Unlock()
	if leaves != 1 {
		t.Fatalf("Leave called %d times, want 1", leaves)
	}
}

func TestRapidSubmitsPersistInOrder(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		bodies []string
		first  = true
	)
	appended := make(chan struct{}, 2)
	store := &fakeStore{
		fetchFunc: func(ctx context.Context, id string) (*model.Conversation, error) {
			return &model.Conversation{ID: id, Members: []string{"u1", "c1"}}, nil
		},
		appendFunc: func(ctx context.Context, id string, msgs []model.Message) (*model.AppendMessagesResponse, error) {
			mu.Lock()
			slow := first
			first = false
			mu.Unlock()
			// A slow first append must not let the second overtake it.
			if slow {
				time.Sleep(150 * time.Millisecond)
			}
			mu.Lock()
			for _, m := range msgs {
				bodies = append(bodies, m.Body)
			}
			mu.Unlock()
			appended <- struct{}{}
			return &model.AppendMessagesResponse{Count: len(msgs)}, nil
		},
	}
	channel := &fakeChannel{}
	sess := openSession(t, userIdentity(), store, channel, nil, session.Hooks{})

	if err := sess.Submit(context.Background(), "one"); err != nil {
		t.Fatalf("Submit(one) failed: %v", err)
	}
	if err := sess.Submit(context.Background(), "two"); err != nil {
		t.Fatalf("Submit(two) failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-appended:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for appends")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 || bodies[0] != "one" || bodies[1] != "two" {
		t.Fatalf("persisted order %v, want [one two]", bodies)
	}
}

func TestPublishFailureReportedAndStillPersisted(t *testing.T) {
	t.Parallel()

	reported := make(chan error, 4)
	appends := make(chan []model.Message, 1)
	publishErr := errors.New("transport down")
	store := &fakeStore{
		fetchFunc: func(ctx context.Context, id string) (*model.Conversation, error) {
			return &model.Conversation{ID: id, Members: []string{"u1", "c1"}}, nil
		},
		appendFunc: func(ctx context.Context, id string, msgs []model.Message) (*model.AppendMessagesResponse, error) {
			appends <- msgs
			return &model.AppendMessagesResponse{Count: len(msgs)}, nil
		},
	}
	channel := &fakeChannel{publishErr: publishErr}
	sess := openSession(t, userIdentity(), store, channel, nil, session.Hooks{
		OnError: func(err error) { reported <- err },
	})

	if err := sess.Submit(context.Background(), "still here"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := recvErr(t, reported); !errors.Is(err, publishErr) {
		t.Fatalf("reported %v, want %v", err, publishErr)
	}
	batch := recvBatch(t, appends)
	if len(batch) != 1 || batch[0].Body != "still here" {
		t.Fatalf("persisted %+v, want the message despite the failed publish", batch)
	}
	view := sess.Messages()
	if len(view) != 1 || view[0].Position != model.PositionSelf {
		t.Fatalf("view = %+v, want the optimistic message kept", view)
	}
}

func TestClosedSessionConcurrentReads(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		fetchFunc: func(ctx context.Context, id string) (*model.Conversation, error) {
			return &model.Conversation{
				ID: id,
				Messages: []model.Message{
					{AuthorRole: model.RoleUser, Body: "Hi"},
					{AuthorRole: model.RoleCounselor, Body: "Hello, how can I help?"},
				},
			}, nil
		},
	}
	channel := &fakeChannel{}
	sess := openSession(t, userIdentity(), store, channel, nil, session.Hooks{})

	if err := sess.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := sess.Messages(); len(got) != 2 {
				t.Errorf("got %d messages, want 2", len(got))
			}
		}()
	}
	wg.Wait()
}

func TestAppendFailureReportedWithoutRollback(t *testing.T) {
	t.Parallel()

	reported := make(chan error, 4)
	appendErr := errors.New("history unavailable")
	appends := make(chan []model.Message, 1)
	store := &fakeStore{
		appendFunc: func(ctx context.Context, id string, msgs []model.Message) (*model.AppendMessagesResponse, error) {
			appends <- msgs
			return nil, appendErr
		},
	}
	channel := &fakeChannel{}
	sess := openSession(t, userIdentity(), store, channel, nil, session.Hooks{
		OnError: func(err error) { reported <- err },
	})

	if err := sess.Submit(context.Background(), "still here"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	recvBatch(t, appends)
	if err := recvErr(t, reported); !errors.Is(err, appendErr) {
		t.Fatalf("reported %v, want %v", err, appendErr)
	}

	view := sess.Messages()
	if len(view) != 1 || view[0].Position != model.PositionSelf {
		t.Fatalf("view = %+v, want the optimistic message kept", view)
	}
}
