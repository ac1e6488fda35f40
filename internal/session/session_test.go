package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gigchat/gigchat/internal/chat"
	"github.com/gigchat/gigchat/internal/realtime"
	"github.com/gigchat/gigchat/internal/rest"
)

var (
	self = chat.Participant{ID: "alice", DisplayName: "Alice"}
	bob  = chat.Participant{ID: "bob", DisplayName: "Bob"}
	carl = chat.Participant{ID: "carl", DisplayName: "Carl"}
)

// fakeTransport satisfies Transport in-process: published events are
// recorded, inbound events are injected through the registered handlers.
type fakeTransport struct {
	mu        sync.Mutex
	state     realtime.State
	published []realtime.Envelope
	handlers  map[string]realtime.Handler
	observers []func(realtime.State)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]realtime.Handler)}
}

func (f *fakeTransport) Connect(ctx context.Context, token string) {
	f.setState(realtime.StateConnected)
}

func (f *fakeTransport) Disconnect() {
	f.setState(realtime.StateDisconnected)
}

func (f *fakeTransport) Publish(event string, payload any) {
	data, _ := json.Marshal(payload)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, realtime.Envelope{Event: event, Data: data})
}

func (f *fakeTransport) Subscribe(event string, h realtime.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = h
}

func (f *fakeTransport) State() realtime.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) OnStateChange(fn func(realtime.State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, fn)
}

func (f *fakeTransport) setState(s realtime.State) {
	f.mu.Lock()
	f.state = s
	observers := append([]func(realtime.State){}, f.observers...)
	f.mu.Unlock()
	for _, fn := range observers {
		fn(s)
	}
}

// inject delivers an inbound event as if it arrived on the wire.
func (f *fakeTransport) inject(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal inject payload: %v", err)
	}
	f.mu.Lock()
	h := f.handlers[event]
	f.mu.Unlock()
	if h == nil {
		t.Fatalf("no handler for %s", event)
	}
	h(data)
}

func (f *fakeTransport) publishedEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.published))
	for i, env := range f.published {
		out[i] = env.Event
	}
	return out
}

// fakeAPI serves canned conversation and history data. historyGate and
// sendGate, when set, delay the respective responses until released; sendErr
// makes every persistence call fail.
type fakeAPI struct {
	mu          sync.Mutex
	convs       []chat.Conversation
	history     map[string][]chat.Message
	historyGate chan struct{}
	sendGate    chan struct{}
	sendErr     error
	saved       []rest.SendMessageRequest
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{history: make(map[string][]chat.Message)}
}

func (f *fakeAPI) Conversations(ctx context.Context) ([]chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Conversation(nil), f.convs...), nil
}

func (f *fakeAPI) Messages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	f.mu.Lock()
	gate := f.historyGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Message(nil), f.history[conversationID]...), nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, req rest.SendMessageRequest) (chat.Message, error) {
	f.mu.Lock()
	gate := f.sendGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return chat.Message{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return chat.Message{}, f.sendErr
	}
	f.saved = append(f.saved, req)
	return chat.Message{
		ID:             "srv-" + req.LocalID,
		LocalID:        req.LocalID,
		ConversationID: chat.PairKey(self.ID, req.ReceiverID),
		SenderID:       self.ID,
		ReceiverID:     req.ReceiverID,
		Content:        req.Content,
		Timestamp:      time.Now(),
	}, nil
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestSession(t *testing.T, tr *fakeTransport, api *fakeAPI, opts Options) *Session {
	t.Helper()
	logger := zerolog.Nop()
	s := New(self, "tok", tr, api, api, &logger, opts)
	return s
}

func TestSession_AnnouncesOnConnect(t *testing.T) {
	tr := newFakeTransport()
	api := newFakeAPI()
	s := newTestSession(t, tr, api, Options{})
	s.Start(context.Background())
	defer s.Close()

	waitFor(t, func() bool {
		for _, e := range tr.publishedEvents() {
			if e == realtime.EventAddUser {
				return true
			}
		}
		return false
	}, "addUser publish")
}

func TestSession_OpenLoadsHistory(t *testing.T) {
	tr := newFakeTransport()
	api := newFakeAPI()
	convID := chat.PairKey(self.ID, bob.ID)
	api.history[convID] = []chat.Message{
		{ID: "m1", ConversationID: convID, SenderID: bob.ID, ReceiverID: self.ID, Content: "hi", Timestamp: time.Now()},
	}

	histC := make(chan int, 4)
	s := newTestSession(t, tr, api, Options{})
	s.SetHooks(Hooks{
		OnHistory: func(msgs []chat.Message) { histC <- len(msgs) },
	})
	s.Start(context.Background())
	defer s.Close()

	if err := s.Open(bob); err != nil {
		t.Fatalf("open: %v", err)
	}

	select {
	case n := <-histC:
		if n != 1 {
			t.Fatalf("expected 1 history message, got %d", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("history never arrived")
	}

	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("unexpected timeline: %v", msgs)
	}

	// Opening also joins the conversation room.
	found := false
	for _, e := range tr.publishedEvents() {
		if e == realtime.EventJoinRoom {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected joinRoom publish on open")
	}
}

func TestSession_StaleHistoryDiscarded(t *testing.T) {
	tr := newFakeTransport()
	api := newFakeAPI()
	bobConv := chat.PairKey(self.ID, bob.ID)
	carlConv := chat.PairKey(self.ID, carl.ID)
	api.history[bobConv] = []chat.Message{
		{ID: "bob-1", ConversationID: bobConv, SenderID: bob.ID, ReceiverID: self.ID, Content: "old", Timestamp: time.Now()},
	}
	api.history[carlConv] = []chat.Message{
		{ID: "carl-1", ConversationID: carlConv, SenderID: carl.ID, ReceiverID: self.ID, Content: "new", Timestamp: time.Now()},
	}

	gate := make(chan struct{})
	api.historyGate = gate

	histC := make(chan []chat.Message, 4)
	s := newTestSession(t, tr, api, Options{})
	s.SetHooks(Hooks{
		OnHistory: func(msgs []chat.Message) { histC <- msgs },
	})
	s.Start(context.Background())
	defer s.Close()

	// Open bob, then switch to carl while bob's fetch is parked on the gate.
	if err := s.Open(bob); err != nil {
		t.Fatalf("open bob: %v", err)
	}
	if err := s.Open(carl); err != nil {
		t.Fatalf("open carl: %v", err)
	}
	close(gate)

	select {
	case msgs := <-histC:
		if len(msgs) != 1 || msgs[0].ID != "carl-1" {
			t.Fatalf("expected carl's history only, got %v", msgs)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("history never arrived")
	}

	// Bob's late response must not leak into carl's timeline.
	select {
	case msgs := <-histC:
		t.Fatalf("unexpected second history delivery: %v", msgs)
	case <-time.After(100 * time.Millisecond):
	}
	for _, m := range s.Messages() {
		if m.ID == "bob-1" {
			t.Fatalf("stale history leaked into the open conversation")
		}
	}
}

func TestSession_IncomingMessageOnActiveConversation(t *testing.T) {
	tr := newFakeTransport()
	api := newFakeAPI()
	msgC := make(chan chat.Message, 4)
	s := newTestSession(t, tr, api, Options{})
	s.SetHooks(Hooks{
		OnMessage: func(m chat.Message) { msgC <- m },
	})
	s.Start(context.Background())
	defer s.Close()

	if err := s.Open(bob); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitFor(t, func() bool { return len(s.Messages()) == 0 && s.State() == realtime.StateConnected }, "session ready")

	tr.inject(t, realtime.EventNewMessage, realtime.NewMessagePayload{
		SenderID:   bob.ID,
		ReceiverID: self.ID,
		Content:    "are you there?",
		Timestamp:  time.Now(),
		SenderName: bob.DisplayName,
	})

	select {
	case m := <-msgC:
		if m.Content != "are you there?" {
			t.Fatalf("unexpected message: %+v", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("message hook never fired")
	}

	convs := s.Conversations()
	if len(convs) == 0 || convs[0].UnreadCount != 0 {
		t.Fatalf("open conversation must stay read: %+v", convs)
	}
}

func TestSession_IncomingMessageOnOtherConversationCountsUnread(t *testing.T) {
	tr := newFakeTransport()
	api := newFakeAPI()
	convC := make(chan []chat.Conversation, 4)
	s := newTestSession(t, tr, api, Options{})
	s.SetHooks(Hooks{
		OnConversations: func(list []chat.Conversation) { convC <- list },
	})
	s.Start(context.Background())
	defer s.Close()

	if err := s.Open(bob); err != nil {
		t.Fatalf("open: %v", err)
	}

	tr.inject(t, realtime.EventNewMessage, realtime.NewMessagePayload{
		SenderID:   carl.ID,
		ReceiverID: self.ID,
		Content:    "different gig",
		Timestamp:  time.Now(),
		SenderName: carl.DisplayName,
	})

	deadline := time.After(3 * time.Second)
	for {
		select {
		case list := <-convC:
			for _, c := range list {
				if c.Involves(self.ID, carl.ID) && c.UnreadCount == 1 {
					return
				}
			}
		case <-deadline:
			t.Fatalf("background conversation never accrued unread")
		}
	}
}

func TestSession_SendRequiresOpenConversation(t *testing.T) {
	tr := newFakeTransport()
	api := newFakeAPI()
	s := newTestSession(t, tr, api, Options{})
	s.Start(context.Background())
	defer s.Close()

	if _, err := s.Send("hello"); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("expected ErrNoConversation, got %v", err)
	}
}

func TestSession_SendDualWrites(t *testing.T) {
	tr := newFakeTransport()
	api := newFakeAPI()
	s := newTestSession(t, tr, api, Options{})
	s.Start(context.Background())
	defer s.Close()

	if err := s.Open(bob); err != nil {
		t.Fatalf("open: %v", err)
	}

	r, err := s.Send("hello bob")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case <-r.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("receipt never settled")
	}
	if r.Err() != nil {
		t.Fatalf("persist failed: %v", r.Err())
	}

	// Realtime publish carried the same correlation id as the REST write.
	var published *realtime.SendMessagePayload
	tr.mu.Lock()
	for _, env := range tr.published {
		if env.Event == realtime.EventSendMessage {
			var p realtime.SendMessagePayload
			if err := json.Unmarshal(env.Data, &p); err == nil {
				published = &p
			}
		}
	}
	tr.mu.Unlock()
	if published == nil {
		t.Fatalf("no realtime publish recorded")
	}
	if published.LocalID != r.LocalID {
		t.Fatalf("correlation id mismatch: %q vs %q", published.LocalID, r.LocalID)
	}

	waitFor(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 1 && msgs[0].ID == "srv-"+r.LocalID
	}, "reconciled entry")
}

func TestSession_ReconnectKeepsFailedSendVisible(t *testing.T) {
	tr := newFakeTransport()
	api := newFakeAPI()
	api.sendErr = errors.New("persistence down")

	histC := make(chan []chat.Message, 4)
	s := newTestSession(t, tr, api, Options{})
	s.SetHooks(Hooks{
		OnHistory: func(msgs []chat.Message) { histC <- msgs },
	})
	s.Start(context.Background())
	defer s.Close()

	if err := s.Open(bob); err != nil {
		t.Fatalf("open: %v", err)
	}
	select {
	case <-histC:
	case <-time.After(3 * time.Second):
		t.Fatalf("initial history never arrived")
	}

	r, err := s.Send("hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case <-r.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("receipt never settled")
	}
	if r.Err() == nil {
		t.Fatalf("expected persistence failure")
	}
	waitFor(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 1 && msgs[0].Failed
	}, "failed entry")

	// A network blip: the reconnect re-announces and re-fetches history.
	tr.setState(realtime.StateDisconnected)
	tr.setState(realtime.StateConnected)
	select {
	case <-histC:
	case <-time.After(3 * time.Second):
		t.Fatalf("reconnect history never arrived")
	}

	msgs := s.Messages()
	if len(msgs) != 1 || !msgs[0].Failed || msgs[0].Content != "hello" {
		t.Fatalf("failed entry must survive the reconnect reload, got %v", msgs)
	}
}

func TestSession_ReconnectWhilePersistInFlight(t *testing.T) {
	tr := newFakeTransport()
	api := newFakeAPI()
	gate := make(chan struct{})
	api.sendGate = gate

	histC := make(chan []chat.Message, 4)
	s := newTestSession(t, tr, api, Options{})
	s.SetHooks(Hooks{
		OnHistory: func(msgs []chat.Message) { histC <- msgs },
	})
	s.Start(context.Background())
	defer s.Close()

	if err := s.Open(bob); err != nil {
		t.Fatalf("open: %v", err)
	}
	select {
	case <-histC:
	case <-time.After(3 * time.Second):
		t.Fatalf("initial history never arrived")
	}

	r, err := s.Send("hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// The reconnect's history reload lands while the persistence call is
	// still parked on the gate.
	tr.setState(realtime.StateDisconnected)
	tr.setState(realtime.StateConnected)
	select {
	case <-histC:
	case <-time.After(3 * time.Second):
		t.Fatalf("reconnect history never arrived")
	}
	if msgs := s.Messages(); len(msgs) != 1 || !msgs[0].Pending {
		t.Fatalf("in-flight send must survive the reload, got %v", msgs)
	}

	close(gate)
	select {
	case <-r.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("receipt never settled")
	}
	if r.Err() != nil {
		t.Fatalf("persist failed: %v", r.Err())
	}
	waitFor(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 1 && msgs[0].ID == "srv-"+r.LocalID && !msgs[0].Pending
	}, "late reconciliation")
}

func TestSession_PresenceAndBothOnlineEdge(t *testing.T) {
	tr := newFakeTransport()
	api := newFakeAPI()
	bothC := make(chan struct{}, 4)
	s := newTestSession(t, tr, api, Options{})
	s.SetHooks(Hooks{
		OnBothOnline: func() { bothC <- struct{}{} },
	})
	s.Start(context.Background())
	defer s.Close()

	if err := s.Open(bob); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitFor(t, func() bool { return s.State() == realtime.StateConnected }, "connected")

	tr.inject(t, realtime.EventUserOnline, bob.ID)

	select {
	case <-bothC:
	case <-time.After(3 * time.Second):
		t.Fatalf("both-online edge never fired")
	}
	waitFor(t, func() bool { return s.PeerOnline() }, "peer online")

	// A repeat announcement is not a new edge.
	tr.inject(t, realtime.EventUserOnline, bob.ID)
	select {
	case <-bothC:
		t.Fatalf("edge fired twice without an offline transition")
	case <-time.After(100 * time.Millisecond):
	}

	// Offline then online again is a fresh edge.
	tr.inject(t, realtime.EventUserOffline, bob.ID)
	waitFor(t, func() bool { return !s.PeerOnline() }, "peer offline")
	tr.inject(t, realtime.EventUserOnline, bob.ID)
	select {
	case <-bothC:
	case <-time.After(3 * time.Second):
		t.Fatalf("second edge never fired")
	}

	if _, ok := s.PeerLastSeen(); !ok {
		t.Fatalf("expected last seen after offline transition")
	}
}

func TestSession_RosterSnapshot(t *testing.T) {
	tr := newFakeTransport()
	api := newFakeAPI()
	s := newTestSession(t, tr, api, Options{})
	s.Start(context.Background())
	defer s.Close()

	if err := s.Open(bob); err != nil {
		t.Fatalf("open: %v", err)
	}
	tr.inject(t, realtime.EventOnlineUsers, []string{bob.ID, carl.ID})
	waitFor(t, func() bool { return s.PeerOnline() }, "roster applied")
}

func TestSession_ChartSamples(t *testing.T) {
	tr := newFakeTransport()
	api := newFakeAPI()
	s := newTestSession(t, tr, api, Options{SampleInterval: 10 * time.Millisecond, ChartCapacity: 5})
	s.Start(context.Background())
	defer s.Close()

	if err := s.Open(bob); err != nil {
		t.Fatalf("open: %v", err)
	}
	tr.inject(t, realtime.EventUserOnline, bob.ID)

	waitFor(t, func() bool { return len(s.Chart()) >= 2 }, "chart samples")

	points := s.Chart()
	if len(points) > 5 {
		t.Fatalf("chart exceeded capacity: %d", len(points))
	}
}

func TestSession_TypingOnlyForActiveConversation(t *testing.T) {
	tr := newFakeTransport()
	api := newFakeAPI()
	typingC := make(chan string, 4)
	s := newTestSession(t, tr, api, Options{})
	s.SetHooks(Hooks{
		OnTyping: func(userID string, isTyping bool) { typingC <- userID },
	})
	s.Start(context.Background())
	defer s.Close()

	if err := s.Open(bob); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Foreign conversation: ignored.
	tr.inject(t, realtime.EventTyping, realtime.TypingPayload{
		ConversationID: chat.PairKey(carl.ID, self.ID),
		UserID:         carl.ID,
		IsTyping:       true,
	})
	// Active conversation: surfaced.
	tr.inject(t, realtime.EventTyping, realtime.TypingPayload{
		ConversationID: chat.PairKey(self.ID, bob.ID),
		UserID:         bob.ID,
		IsTyping:       true,
	})

	select {
	case id := <-typingC:
		if id != bob.ID {
			t.Fatalf("expected typing from bob, got %q", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("typing hook never fired")
	}
}

func TestPresenceChart_RingAndRatio(t *testing.T) {
	c := NewPresenceChart(3)
	now := time.Now()
	c.Add(ChartPoint{Time: now, Both: true})
	c.Add(ChartPoint{Time: now, Both: false})
	c.Add(ChartPoint{Time: now, Both: true})
	c.Add(ChartPoint{Time: now, Both: true})

	points := c.Points()
	if len(points) != 3 {
		t.Fatalf("expected capacity 3, got %d", len(points))
	}
	// Oldest sample was evicted; remaining are false, true, true.
	if points[0].Both {
		t.Fatalf("expected oldest retained sample to be the false one")
	}
	if got := c.BothRatio(); got < 0.66 || got > 0.67 {
		t.Fatalf("unexpected ratio %v", got)
	}

	c.Reset()
	if len(c.Points()) != 0 || c.BothRatio() != 0 {
		t.Fatalf("reset must clear samples")
	}
}
