// Package delivery executes a send against both transports: a fire-and-forget
// realtime publish for low-latency peer delivery, and a REST persistence call.
// The two form a dual write with no transactional guarantee; the coordinator
// reconciles their results into the conversation timeline.
package delivery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gigchat/gigchat/internal/chat"
	"github.com/gigchat/gigchat/internal/convo"
	"github.com/gigchat/gigchat/internal/realtime"
	"github.com/gigchat/gigchat/internal/rest"
	"github.com/gigchat/gigchat/internal/timeline"
)

// Validation errors: the send is rejected before any side effect.
var (
	ErrEmptyContent = errors.New("empty message content")
	ErrNoReceiver   = errors.New("unresolved receiver")
)

// Publisher is the realtime half of the dual write.
type Publisher interface {
	Publish(event string, payload any)
}

// Persister is the REST half of the dual write.
type Persister interface {
	SendMessage(ctx context.Context, req rest.SendMessageRequest) (chat.Message, error)
}

// Receipt tracks one send's persistence outcome. Done closes once the
// persistence attempt has settled, even if the owning dispatcher has shut
// down; Err then reports its result. The realtime publish has no receipt: it
// is fire-and-forget by design.
type Receipt struct {
	LocalID string
	done    chan struct{}
	err     error
}

// Done returns a channel closed when the persistence attempt settles.
func (r *Receipt) Done() <-chan struct{} {
	return r.done
}

// Err reports the persistence outcome. Valid after Done is closed.
func (r *Receipt) Err() error {
	return r.err
}

// Coordinator orchestrates sends for one local user. REST completions are
// marshaled back through dispatch so timeline and conversation mutation stays
// on the owning goroutine.
type Coordinator struct {
	self      chat.Participant
	publisher Publisher
	persister Persister
	convs     *convo.Store
	dispatch  func(func())
	log       *zerolog.Logger
	timeout   time.Duration
	now       func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDispatch sets the executor that marshals REST completions onto the
// goroutine owning the timeline. The default runs them inline. A dispatcher
// that is shutting down may drop the closure; receipts settle regardless.
func WithDispatch(dispatch func(func())) Option {
	return func(c *Coordinator) { c.dispatch = dispatch }
}

// WithTimeout bounds the persistence call.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New builds a coordinator for the local user.
func New(self chat.Participant, pub Publisher, per Persister, convs *convo.Store, logger *zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		self:      self,
		publisher: pub,
		persister: per,
		convs:     convs,
		dispatch:  func(f func()) { f() },
		log:       logger,
		timeout:   rest.DefaultTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send executes the dual write for one message.
//
// The optimistic insert happens before any network round trip. The realtime
// publish and the REST call then race with no ordering between them; either
// may fail independently. On REST success the optimistic entry is reconciled
// with the server id and the conversation's last message updated; on REST
// failure the entry is marked failed and left visible, with no automatic
// retry and no rollback of the publish — the peer may hold a message that was
// never persisted, an accepted tradeoff.
func (c *Coordinator) Send(ctx context.Context, tl *timeline.Timeline, receiver chat.Participant, content string) (*Receipt, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if receiver.ID == "" {
		return nil, ErrNoReceiver
	}

	conversationID := chat.PairKey(c.self.ID, receiver.ID)
	msg := chat.Message{
		LocalID:        uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       c.self.ID,
		ReceiverID:     receiver.ID,
		Content:        content,
		Timestamp:      c.now(),
		SenderName:     c.self.DisplayName,
	}

	handle := tl.InsertOptimistic(msg)

	c.publisher.Publish(realtime.EventSendMessage, realtime.SendMessagePayload{
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		ConversationID: conversationID,
		Content:        content,
		SenderName:     c.self.DisplayName,
		LocalID:        msg.LocalID,
	})

	r := &Receipt{LocalID: msg.LocalID, done: make(chan struct{})}
	go c.persist(ctx, tl, msg, handle, r)
	return r, nil
}

func (c *Coordinator) persist(ctx context.Context, tl *timeline.Timeline, msg chat.Message, handle timeline.Handle, r *Receipt) {
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	saved, err := c.persister.SendMessage(pctx, rest.SendMessageRequest{
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		LocalID:    msg.LocalID,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("local_id", msg.LocalID).Msg("message persistence failed")
	}

	c.dispatch(func() {
		if err != nil {
			tl.MarkFailed(handle)
			return
		}

		tl.Reconcile(handle, saved.ID)

		confirmed := msg
		confirmed.ID = saved.ID
		// Passing the message's own conversation as active keeps the unread
		// counter untouched for our own send.
		c.convs.ApplyIncoming(confirmed, msg.ConversationID)
	})

	// Settle the receipt outside the dispatched update: a dispatcher that has
	// shut down may drop the closure, and a waiter must never block on it.
	r.err = err
	close(r.done)
}
