// Package session implements the message-state synchronization core: it owns
// the authoritative in-memory message list for one open conversation,
// reconciles REST history, live push events, and local optimistic sends into
// one ordered view, and decides human-versus-automated routing.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calmline-ai/counsel-chat/internal/history"
	"github.com/calmline-ai/counsel-chat/internal/livechan"
	"github.com/calmline-ai/counsel-chat/internal/model"
	"github.com/calmline-ai/counsel-chat/internal/responder"
	"github.com/calmline-ai/counsel-chat/pkg/logger"
)

// State is the session lifecycle state.
type State int

const (
	// StateLoading means the history fetch is in flight.
	StateLoading State = iota
	// StateActive means history is merged and the live subscription attached.
	StateActive
	// StateClosed means the session left the conversation.
	StateClosed
)

var (
	// ErrNotReady is returned for submissions before history has loaded.
	ErrNotReady = errors.New("session not ready")
	// ErrClosed is returned for operations on a closed session.
	ErrClosed = errors.New("session closed")
)

// AssistantLabel is the display label on automated replies.
const AssistantLabel = "Assistant"

// Hooks receive session updates. Callbacks fire from the session's event
// loop; implementations must not call back into the session synchronously.
type Hooks struct {
	// OnUpdate fires after every change to the message list, with the
	// freshly projected view.
	OnUpdate func(messages []model.ViewMessage)
	// OnMembers fires when the member set changes by value.
	OnMembers func(members []string)
	// OnError reports non-fatal persistence and generation failures. The
	// optimistic local message stays visible regardless.
	OnError func(err error)
}

// Session is one viewer's ephemeral runtime for one open conversation.
//
// All mutations of the working message list happen on a single event-loop
// goroutine; outbound calls (history fetch, append, generation) run off the
// loop and feed their completions back in as queued tasks. That single
// logical thread is what makes appends safe without locking.
type Session struct {
	viewer         model.Identity
	conversationID string

	store   history.Store
	channel livechan.Channel
	gateway responder.Gateway
	hooks   Hooks
	logger  *logger.Logger

	tasks chan func()
	done  chan struct{}

	// Pending persistence turns, appended by the event loop and drained by
	// a single worker so batches reach the store in submission order.
	persistMu sync.Mutex
	persistQ  []turn
	persistCh chan struct{}

	// Loop-owned state. Only run() touches these.
	state        State
	messages     []model.Message
	members      []string
	replyPending bool
	viewCache    []model.ViewMessage
}

// turn is the off-loop half of one submission: the message to persist and
// the optional generation request that precedes the append.
type turn struct {
	msg    model.Message
	prompt string
	assist bool
}

// New creates a session for the viewer. gateway may be nil to disable the
// automated fallback entirely.
func New(
	viewer model.Identity,
	conversationID string,
	store history.Store,
	channel livechan.Channel,
	gateway responder.Gateway,
	hooks Hooks,
	log *logger.Logger,
) *Session {
	s := &Session{
		viewer:         viewer,
		conversationID: conversationID,
		store:          store,
		channel:        channel,
		gateway:        gateway,
		hooks:          hooks,
		logger:         log.WithConversation(conversationID, viewer.ID),
		tasks:          make(chan func(), 32),
		done:           make(chan struct{}),
		persistCh:      make(chan struct{}, 1),
		state:          StateLoading,
	}
	go s.run()
	go s.persistTurns()
	return s
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.done:
			return
		}
	}
}

// post queues fn on the event loop. After Close it is a no-op, which is how
// late-arriving completions become no-ops.
func (s *Session) post(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.done:
	}
}

// call runs fn on the event loop and waits for it.
func (s *Session) call(ctx context.Context, fn func() error) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	result := make(chan error, 1)
	select {
	case s.tasks <- func() { result <- fn() }:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Open drives LOADING to ACTIVE: fetch history, seed the working list, then
// attach the live subscription. The member set delivered on join supersedes
// the fetched one.
func (s *Session) Open(ctx context.Context) error {
	conv, err := s.store.FetchConversation(ctx, s.conversationID)
	if err != nil {
		return err
	}

	if err := s.call(ctx, func() error {
		if s.state != StateLoading {
			return ErrClosed
		}
		s.messages = append([]model.Message(nil), conv.Messages...)
		s.members = append([]string(nil), conv.Members...)
		s.invalidate()
		return nil
	}); err != nil {
		return err
	}

	sub := livechan.Subscription{
		OnNewMessage: func(msg model.Message) {
			s.post(func() { s.handleRemoteMessage(msg) })
		},
		OnMembersChanged: func(members []string) {
			s.post(func() { s.replaceMembers(members) })
		},
		OnMemberLeft: func(userID string, members []string) {
			s.post(func() { s.replaceMembers(members) })
		},
	}
	if err := s.channel.Join(ctx, s.conversationID, sub); err != nil {
		return err
	}

	return s.call(ctx, func() error {
		s.state = StateActive
		return nil
	})
}

// Submit handles a local submission: optimistic append, live publish, then
// routing. Empty or whitespace-only text is a no-op, not an error. Failures
// past the optimistic append are reported through Hooks.OnError, never by
// rolling the rendered message back.
func (s *Session) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	msg := model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: s.conversationID,
		SenderID:       s.viewer.ID,
		AuthorRole:     s.viewer.Role,
		AuthorLabel:    s.viewer.DisplayName,
		Body:           text,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.call(ctx, func() error {
		switch s.state {
		case StateLoading:
			return ErrNotReady
		case StateClosed:
			return ErrClosed
		}

		transcript := s.messages
		s.messages = append(s.messages, msg)
		s.invalidate()
		s.notifyUpdate()

		t := turn{msg: msg}
		// Route to the automated responder only while no second human is
		// present and no automated turn is already pending.
		if len(s.members) < 2 && !s.replyPending && s.gateway != nil {
			t.assist = true
			s.replyPending = true
			t.prompt = responder.BuildPrompt(transcript, text, s.viewer.Role)
		}
		// Enqueued from the loop: the order the loop accepted submissions
		// is the order batches reach the store.
		s.enqueueTurn(t)
		return nil
	}); err != nil {
		return err
	}

	if err := s.channel.PublishMessage(ctx, s.conversationID, msg); err != nil {
		s.logger.Warn("live publish failed", zap.Error(err))
		s.post(func() {
			if s.state != StateClosed {
				s.reportError(err)
			}
		})
	}
	return nil
}

func (s *Session) enqueueTurn(t turn) {
	s.persistMu.Lock()
	s.persistQ = append(s.persistQ, t)
	s.persistMu.Unlock()
	select {
	case s.persistCh <- struct{}{}:
	default:
	}
}

func (s *Session) dequeueTurn() (turn, bool) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if len(s.persistQ) == 0 {
		return turn{}, false
	}
	t := s.persistQ[0]
	s.persistQ = s.persistQ[1:]
	return t, true
}

// persistTurns is the single persistence worker. Turns complete one at a
// time, so two rapid submissions can never reach the store out of order.
func (s *Session) persistTurns() {
	for {
		for {
			t, ok := s.dequeueTurn()
			if !ok {
				break
			}
			s.completeTurn(t)
		}
		select {
		case <-s.persistCh:
		case <-s.done:
			// The loop has stopped, so nothing new arrives; finish what
			// was accepted before the close.
			for {
				t, ok := s.dequeueTurn()
				if !ok {
					return
				}
				s.completeTurn(t)
			}
		}
	}
}

// completeTurn runs the off-loop half of a submission: the optional
// generation call and the single ordered history append. Completions are
// posted back onto the loop; a session closed in the meantime ignores them.
func (s *Session) completeTurn(t turn) {
	ctx := context.Background()
	batch := []model.Message{t.msg}

	if t.assist {
		reply, err := s.gateway.Generate(ctx, t.prompt)
		if err != nil {
			// The user message is still persisted below; generation is
			// best-effort and never retried automatically.
			s.post(func() {
				s.replyPending = false
				if s.state != StateClosed {
					s.reportError(err)
				}
			})
			s.logger.Warn("generation failed", zap.Error(err))
		} else {
			assistantMsg := model.Message{
				ID:             uuid.Must(uuid.NewV7()).String(),
				ConversationID: s.conversationID,
				AuthorRole:     model.RoleAssistant,
				AuthorLabel:    AssistantLabel,
				Body:           reply,
				CreatedAt:      time.Now().UTC(),
			}
			batch = append(batch, assistantMsg)
			s.post(func() {
				s.replyPending = false
				if s.state == StateClosed {
					return
				}
				s.messages = append(s.messages, assistantMsg)
				s.invalidate()
				s.notifyUpdate()
			})
		}
	}

	if _, err := s.store.AppendMessages(ctx, s.conversationID, batch); err != nil {
		s.logger.Warn("history append failed", zap.Error(err))
		s.post(func() {
			if s.state != StateClosed {
				s.reportError(err)
			}
		})
	}
}

// handleRemoteMessage merges a live event from the other participant.
// Persistence already happened on the sender's side.
func (s *Session) handleRemoteMessage(msg model.Message) {
	if s.state == StateClosed {
		return
	}
	// The channel excludes the sender from fan-out; this guard is the
	// defensive half of that contract in case an echo slips through.
	if msg.SenderID != "" && msg.SenderID == s.viewer.ID {
		return
	}
	s.messages = append(s.messages, msg)
	s.invalidate()
	s.notifyUpdate()
}

// replaceMembers swaps in the authoritative member set, skipping replacements
// that do not change the set by value.
func (s *Session) replaceMembers(members []string) {
	if s.state == StateClosed {
		return
	}
	if model.EqualMembers(s.members, members) {
		return
	}
	s.members = append([]string(nil), members...)
	if s.hooks.OnMembers != nil {
		s.hooks.OnMembers(append([]string(nil), s.members...))
	}
}

// Close leaves the conversation and releases the subscription. In-flight
// completions that land afterwards are discarded.
func (s *Session) Close(ctx context.Context) error {
	if err := s.call(ctx, func() error {
		if s.state == StateClosed {
			return ErrClosed
		}
		s.state = StateClosed
		return nil
	}); err != nil {
		return err
	}

	err := s.channel.Leave(ctx, s.conversationID)
	close(s.done)
	return err
}

// Messages returns the working list projected for the viewer. The role
// transform runs at read time; nothing position-dependent is ever cached
// past a mutation.
func (s *Session) Messages() []model.ViewMessage {
	var view []model.ViewMessage
	err := s.call(context.Background(), func() error {
		view = s.project()
		return nil
	})
	if errors.Is(err, ErrClosed) {
		// Loop stopped; state is frozen. Project directly without touching
		// the cache so concurrent readers stay safe.
		return projectMessages(s.viewer, s.messages)
	}
	return view
}

// Members returns the current member set.
func (s *Session) Members() []string {
	var members []string
	err := s.call(context.Background(), func() error {
		members = append([]string(nil), s.members...)
		return nil
	})
	if errors.Is(err, ErrClosed) {
		return append([]string(nil), s.members...)
	}
	return members
}

// State returns the lifecycle state.
func (s *Session) State() State {
	var st State
	err := s.call(context.Background(), func() error {
		st = s.state
		return nil
	})
	if errors.Is(err, ErrClosed) {
		return StateClosed
	}
	return st
}

func (s *Session) project() []model.ViewMessage {
	if s.viewCache == nil {
		s.viewCache = projectMessages(s.viewer, s.messages)
	}
	return s.viewCache
}

func (s *Session) invalidate() {
	s.viewCache = nil
}

func (s *Session) notifyUpdate() {
	if s.hooks.OnUpdate != nil {
		s.hooks.OnUpdate(s.project())
	}
}

func (s *Session) reportError(err error) {
	if s.hooks.OnError != nil {
		s.hooks.OnError(err)
	}
}
