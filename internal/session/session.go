// Package session runs the per-user chat session: it owns the realtime
// subscription, the presence tracker, the conversation list and the active
// conversation's timeline, and serializes all mutation onto a single event
// loop goroutine.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gigchat/gigchat/internal/chat"
	"github.com/gigchat/gigchat/internal/convo"
	"github.com/gigchat/gigchat/internal/delivery"
	"github.com/gigchat/gigchat/internal/presence"
	"github.com/gigchat/gigchat/internal/realtime"
	"github.com/gigchat/gigchat/internal/timeline"
)

var (
	ErrClosed         = errors.New("session closed")
	ErrNoConversation = errors.New("no open conversation")
)

// Transport is the realtime channel as the session consumes it.
type Transport interface {
	Connect(ctx context.Context, sessionToken string)
	Disconnect()
	Publish(event string, payload any)
	Subscribe(event string, h realtime.Handler)
	State() realtime.State
	OnStateChange(f func(realtime.State))
}

// API is the slice of the REST surface the session fetches through.
type API interface {
	Conversations(ctx context.Context) ([]chat.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]chat.Message, error)
}

// Hooks are the session's outbound notifications. All hooks run on the
// session loop; implementations must not call back into the session
// synchronously and should hand heavy work to their own goroutine.
type Hooks struct {
	// OnMessage fires for each message appended to the open conversation.
	OnMessage func(m chat.Message)
	// OnHistory fires when the open conversation's persisted history lands.
	OnHistory func(msgs []chat.Message)
	// OnPresence fires on every individual online/offline transition.
	OnPresence func(userID string, online bool)
	// OnBothOnline fires once per false-to-true transition of "both
	// participants of the open conversation are online".
	OnBothOnline func()
	// OnTyping fires for typing indicators in the open conversation.
	OnTyping func(userID string, isTyping bool)
	// OnConversations fires when the conversation list changes outside the
	// open conversation.
	OnConversations func(list []chat.Conversation)
	// OnState fires on realtime connection state transitions.
	OnState func(s realtime.State)
}

// Options tune a Session.
type Options struct {
	// SampleInterval is the availability sampling period for the presence
	// chart. Zero means the default of 30 seconds.
	SampleInterval time.Duration
	// ChartCapacity is the number of retained samples. Zero means 50.
	ChartCapacity int
	// HistoryTolerance overrides the timeline duplicate window.
	HistoryTolerance time.Duration
}

func (o *Options) defaults() {
	if o.SampleInterval == 0 {
		o.SampleInterval = 30 * time.Second
	}
	if o.ChartCapacity == 0 {
		o.ChartCapacity = 50
	}
}

// Session is one authenticated user's live chat state. All internal state is
// owned by the loop goroutine; exported methods marshal onto it.
type Session struct {
	self      chat.Participant
	token     string
	transport Transport
	api       API
	coord     *delivery.Coordinator
	opts      Options
	log       *zerolog.Logger
	hooks     Hooks

	tracker *presence.Tracker
	convs   *convo.Store
	chart   *PresenceChart

	runC   chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Loop-owned. Touched only from inside run().
	active     *timeline.Timeline
	activePeer chat.Participant
	historyGen int
	lastBoth   bool
}

// New builds a stopped session. Start brings it online.
func New(self chat.Participant, sessionToken string, transport Transport, api API, persister delivery.Persister, logger *zerolog.Logger, opts Options) *Session {
	opts.defaults()
	s := &Session{
		self:      self,
		token:     sessionToken,
		transport: transport,
		api:       api,
		opts:      opts,
		log:       logger,
		tracker:   presence.NewTracker(),
		convs:     convo.NewStore(),
		chart:     NewPresenceChart(opts.ChartCapacity),
		runC:      make(chan func(), 64),
	}
	s.coord = delivery.New(self, transport, persister, s.convs, logger,
		delivery.WithDispatch(s.post))
	return s
}

// SetHooks installs the notification hooks. Call before Start.
func (s *Session) SetHooks(h Hooks) {
	s.hooks = h
}

// Start spins up the event loop, subscribes to the realtime events, connects
// the transport and begins availability sampling. The initial conversation
// list fetch runs in the background and lands through OnConversations.
func (s *Session) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.subscribeAll()
	s.transport.OnStateChange(func(st realtime.State) {
		if s.hooks.OnState != nil {
			s.post(func() { s.hooks.OnState(st) })
		}
		switch st {
		case realtime.StateConnected:
			s.post(s.announce)
		case realtime.StateDisconnected, realtime.StateErrored:
			s.post(func() {
				s.tracker.MarkOffline(s.self.ID, time.Now())
				s.lastBoth = false
			})
		}
	})
	s.transport.Connect(s.ctx, s.token)

	s.wg.Add(1)
	go s.sampleLoop()

	s.RefreshConversations()
}

// Close disconnects the transport and stops the loop. Idempotent.
func (s *Session) Close() {
	if s.cancel == nil {
		return
	}
	s.transport.Disconnect()
	s.cancel()
	s.wg.Wait()
}

// Open makes peer's conversation the active one: the unread counter clears,
// the conversation room is joined, and the persisted history is fetched in
// the background, landing through OnHistory. A history fetch still in flight
// for a previously opened conversation is discarded when it returns.
func (s *Session) Open(peer chat.Participant) error {
	return s.do(func() {
		convID := chat.PairKey(s.self.ID, peer.ID)
		s.active = timeline.New(convID, s.self.ID, peer.ID)
		if s.opts.HistoryTolerance > 0 {
			s.active.SetTolerance(s.opts.HistoryTolerance)
		}
		s.activePeer = peer
		s.chart.Reset()
		s.lastBoth = false

		if _, ok := s.convs.Get(convID); !ok {
			s.convs.UpsertLocal(chat.NewDirect(s.self, peer))
		}
		s.convs.ClearUnread(convID)

		s.transport.Publish(realtime.EventJoinRoom, realtime.JoinRoomPayload{
			ConversationID: convID,
			UserID:         s.self.ID,
		})
		s.fetchHistory(convID)
	})
}

// CloseConversation leaves the active conversation without ending the
// session.
func (s *Session) CloseConversation() {
	s.post(func() {
		s.active = nil
		s.activePeer = chat.Participant{}
		s.chart.Reset()
		s.lastBoth = false
	})
}

// Send delivers content to the open conversation's peer through both
// transports. The message is visible in Messages immediately; the returned
// receipt settles when persistence does.
func (s *Session) Send(content string) (*delivery.Receipt, error) {
	var (
		r   *delivery.Receipt
		err error
	)
	doErr := s.do(func() {
		if s.active == nil {
			err = ErrNoConversation
			return
		}
		r, err = s.coord.Send(s.ctx, s.active, s.activePeer, content)
	})
	if doErr != nil {
		return nil, doErr
	}
	return r, err
}

// SetTyping publishes the local typing indicator for the open conversation.
func (s *Session) SetTyping(isTyping bool) {
	s.post(func() {
		if s.active == nil {
			return
		}
		s.transport.Publish(realtime.EventTyping, realtime.TypingPayload{
			ConversationID: s.active.ConversationID(),
			UserID:         s.self.ID,
			IsTyping:       isTyping,
		})
	})
}

// RefreshConversations re-fetches the persisted conversation list in the
// background; the merged result lands through OnConversations.
func (s *Session) RefreshConversations() {
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		list, err := s.api.Conversations(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("conversation list fetch failed")
			return
		}
		s.post(func() {
			s.convs.LoadPersisted(list)
			s.notifyConversations()
		})
	}()
}

// Messages returns the open conversation's current message list, oldest
// first. Empty when no conversation is open.
func (s *Session) Messages() []chat.Message {
	var out []chat.Message
	_ = s.do(func() {
		if s.active != nil {
			out = s.active.Messages()
		}
	})
	return out
}

// Conversations returns the current conversation list, most recent activity
// first.
func (s *Session) Conversations() []chat.Conversation {
	var out []chat.Conversation
	_ = s.do(func() { out = s.convs.List() })
	return out
}

// PeerOnline reports whether the open conversation's peer is online.
func (s *Session) PeerOnline() bool {
	online := false
	_ = s.do(func() {
		if s.active != nil {
			online = s.tracker.IsOnline(s.activePeer.ID)
		}
	})
	return online
}

// PeerLastSeen returns the peer's most recent disconnect time.
func (s *Session) PeerLastSeen() (time.Time, bool) {
	var (
		at time.Time
		ok bool
	)
	_ = s.do(func() {
		if s.active != nil {
			at, ok = s.tracker.LastSeen(s.activePeer.ID)
		}
	})
	return at, ok
}

// Chart returns the availability samples for the open conversation.
func (s *Session) Chart() []ChartPoint {
	var out []ChartPoint
	_ = s.do(func() { out = s.chart.Points() })
	return out
}

// State returns the realtime connection state.
func (s *Session) State() realtime.State {
	return s.transport.State()
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case f := <-s.runC:
			f()
		case <-s.ctx.Done():
			return
		}
	}
}

// post queues f onto the loop, dropping it if the session is closed.
func (s *Session) post(f func()) {
	select {
	case s.runC <- f:
	case <-s.ctx.Done():
	}
}

// do runs f on the loop and waits for it.
func (s *Session) do(f func()) error {
	done := make(chan struct{})
	select {
	case s.runC <- func() { f(); close(done) }:
	case <-s.ctx.Done():
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	}
}

func (s *Session) subscribeAll() {
	s.transport.Subscribe(realtime.EventNewMessage, func(data json.RawMessage) {
		p, err := realtime.DecodeNewMessage(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed message event")
			return
		}
		s.post(func() { s.handleMessage(p.Message()) })
	})
	s.transport.Subscribe(realtime.EventUserOnline, func(data json.RawMessage) {
		id, err := realtime.DecodeUserID(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed userOnline event")
			return
		}
		s.post(func() {
			s.tracker.MarkOnline(id)
			if s.hooks.OnPresence != nil {
				s.hooks.OnPresence(id, true)
			}
			s.checkBothEdge()
		})
	})
	s.transport.Subscribe(realtime.EventUserOffline, func(data json.RawMessage) {
		id, err := realtime.DecodeUserID(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed userOffline event")
			return
		}
		at := time.Now()
		s.post(func() {
			s.tracker.MarkOffline(id, at)
			if s.hooks.OnPresence != nil {
				s.hooks.OnPresence(id, false)
			}
			if s.active != nil && !s.tracker.BothOnline(s.self.ID, s.activePeer.ID) {
				s.lastBoth = false
			}
		})
	})
	s.transport.Subscribe(realtime.EventOnlineUsers, func(data json.RawMessage) {
		ids, err := realtime.DecodeOnlineUsers(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed roster snapshot")
			return
		}
		s.post(func() {
			s.tracker.ApplyRosterSnapshot(ids)
			s.checkBothEdge()
		})
	})
	s.transport.Subscribe(realtime.EventTyping, func(data json.RawMessage) {
		p, err := realtime.DecodeTyping(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed typing event")
			return
		}
		s.post(func() {
			if s.active == nil || p.ConversationID != s.active.ConversationID() || p.UserID == s.self.ID {
				return
			}
			if s.hooks.OnTyping != nil {
				s.hooks.OnTyping(p.UserID, p.IsTyping)
			}
		})
	})
	s.transport.Subscribe(realtime.EventRoomJoined, func(data json.RawMessage) {
		s.log.Debug().RawJSON("data", data).Msg("room joined")
	})
}

func (s *Session) handleMessage(m chat.Message) {
	if s.active != nil && m.ConversationID == s.active.ConversationID() {
		if !s.active.IngestLive(m) {
			// Absorbed into an existing entry; the list was already
			// updated when that entry landed.
			return
		}
		s.convs.ApplyIncoming(m, s.active.ConversationID())
		if s.hooks.OnMessage != nil {
			s.hooks.OnMessage(m)
		}
		return
	}

	s.convs.ApplyIncoming(m, s.activeConversationID())
	s.notifyConversations()
}

// announce re-establishes server-side presence after every (re)connect: the
// server does not remember who we are across socket lifetimes.
func (s *Session) announce() {
	s.tracker.MarkOnline(s.self.ID)
	s.transport.Publish(realtime.EventAddUser, realtime.AddUserPayload{UserID: s.self.ID})
	if s.active == nil {
		return
	}
	convID := s.active.ConversationID()
	s.transport.Publish(realtime.EventJoinRoom, realtime.JoinRoomPayload{
		ConversationID: convID,
		UserID:         s.self.ID,
	})
	// Events published while we were away are gone; re-fetch to repair the
	// gap.
	s.fetchHistory(convID)
}

// fetchHistory loads the persisted history for convID in the background. The
// generation counter discards a fetch that returns after the user has moved
// on to another conversation or a newer fetch has started.
func (s *Session) fetchHistory(convID string) {
	s.historyGen++
	gen := s.historyGen
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		msgs, err := s.api.Messages(ctx, convID)
		if err != nil {
			s.log.Warn().Err(err).Str("conversation_id", convID).Msg("history fetch failed")
			return
		}
		s.post(func() {
			if gen != s.historyGen || s.active == nil || s.active.ConversationID() != convID {
				s.log.Debug().Str("conversation_id", convID).Msg("discarding stale history response")
				return
			}
			s.active.LoadHistory(msgs)
			if s.hooks.OnHistory != nil {
				s.hooks.OnHistory(s.active.Messages())
			}
		})
	}()
}

func (s *Session) sampleLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.post(s.sample)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) sample() {
	if s.active == nil {
		return
	}
	both := s.tracker.BothOnline(s.self.ID, s.activePeer.ID)
	s.chart.Add(ChartPoint{Time: time.Now(), Both: both})
	s.checkBothEdge()
}

// checkBothEdge fires OnBothOnline exactly once per false-to-true transition
// of joint availability in the open conversation.
func (s *Session) checkBothEdge() {
	if s.active == nil {
		return
	}
	both := s.tracker.BothOnline(s.self.ID, s.activePeer.ID)
	if both && !s.lastBoth && s.hooks.OnBothOnline != nil {
		s.hooks.OnBothOnline()
	}
	s.lastBoth = both
}

func (s *Session) activeConversationID() string {
	if s.active == nil {
		return ""
	}
	return s.active.ConversationID()
}

func (s *Session) notifyConversations() {
	if s.hooks.OnConversations != nil {
		s.hooks.OnConversations(s.convs.List())
	}
}
