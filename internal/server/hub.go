package server

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gigchat/gigchat/internal/chat"
	"github.com/gigchat/gigchat/internal/metrics"
	"github.com/gigchat/gigchat/internal/realtime"
)

// client is one websocket connection as seen by the hub. A user may hold
// several connections (multiple tabs or devices); presence is per user, not
// per connection.
type client struct {
	userID string
	name   string
	events chan realtime.Envelope
}

func newClient(userID, name string) *client {
	return &client{
		userID: userID,
		name:   name,
		events: make(chan realtime.Envelope, 16),
	}
}

// Hub routes realtime events between connected clients and answers who is
// online. A connection becomes visible for routing and presence only after
// its addUser announcement, not at socket accept.
type Hub struct {
	log *zerolog.Logger

	mu     sync.Mutex
	byUser map[string][]*client
}

// NewHub builds an empty hub.
func NewHub(logger *zerolog.Logger) *Hub {
	return &Hub{
		log:    logger,
		byUser: make(map[string][]*client),
	}
}

// Register counts the raw connection. Routing starts at announce.
func (h *Hub) Register(c *client) {
	metrics.ConnectedClients.Inc()
}

// Unregister drops the connection. When it was the user's last one, everyone
// else learns the user went offline.
func (h *Hub) Unregister(c *client) {
	metrics.ConnectedClients.Dec()

	h.mu.Lock()
	conns := h.byUser[c.userID]
	for i, other := range conns {
		if other == c {
			conns = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	last := false
	if len(conns) == 0 {
		delete(h.byUser, c.userID)
		if c.userID != "" {
			last = true
			metrics.OnlineUsers.Dec()
		}
	} else {
		h.byUser[c.userID] = conns
	}
	h.mu.Unlock()

	if last {
		h.broadcast(realtime.EventUserOffline, c.userID, c)
		h.log.Debug().Str("user_id", c.userID).Msg("user offline")
	}
}

// announce makes the connection routable and publishes presence: the caller
// receives the current online roster, and if this is the user's first
// connection everyone else receives userOnline.
func (h *Hub) announce(c *client) {
	h.mu.Lock()
	first := len(h.byUser[c.userID]) == 0
	h.byUser[c.userID] = append(h.byUser[c.userID], c)
	roster := make([]string, 0, len(h.byUser))
	for id := range h.byUser {
		roster = append(roster, id)
	}
	h.mu.Unlock()

	h.sendEvent(c, realtime.EventOnlineUsers, roster)

	if first {
		metrics.OnlineUsers.Inc()
		h.broadcast(realtime.EventUserOnline, c.userID, c)
		h.log.Debug().Str("user_id", c.userID).Msg("user online")
	}
}

// relayMessage fans a sendMessage out as newMessage to every connection of
// both participants. The sender gets the echo too, so a client with several
// open connections stays consistent.
func (h *Hub) relayMessage(c *client, p realtime.SendMessagePayload) {
	if p.ConversationID == "" {
		p.ConversationID = chat.PairKey(p.SenderID, p.ReceiverID)
	}
	if p.SenderName == "" {
		p.SenderName = c.name
	}

	out := realtime.NewMessagePayload{
		SenderID:       p.SenderID,
		ReceiverID:     p.ReceiverID,
		ConversationID: p.ConversationID,
		Content:        p.Content,
		Timestamp:      time.Now().UTC(),
		SenderName:     p.SenderName,
		LocalID:        p.LocalID,
	}

	h.sendToUser(p.ReceiverID, realtime.EventNewMessage, out)
	h.sendToUser(p.SenderID, realtime.EventNewMessage, out)
	metrics.MessagesRelayed.Inc()
}

// relayTyping forwards a typing indicator to the conversation's other
// participant.
func (h *Hub) relayTyping(p realtime.TypingPayload) {
	a, b, ok := chat.SplitPair(p.ConversationID)
	if !ok {
		h.log.Warn().Str("conversation_id", p.ConversationID).Msg("typing for malformed conversation id")
		return
	}
	peer := a
	if p.UserID == a {
		peer = b
	}
	h.sendToUser(peer, realtime.EventTyping, p)
}

// ackJoin confirms room membership. Rooms carry no server-side state beyond
// the ack: message routing is by participant id, not room.
func (h *Hub) ackJoin(c *client, p realtime.JoinRoomPayload) {
	h.sendEvent(c, realtime.EventRoomJoined, realtime.RoomJoinedPayload{
		ConversationID: p.ConversationID,
	})
}

func (h *Hub) sendToUser(userID, event string, payload any) {
	h.mu.Lock()
	conns := append([]*client(nil), h.byUser[userID]...)
	h.mu.Unlock()

	for _, c := range conns {
		h.sendEvent(c, event, payload)
	}
}

// broadcast sends the event to every announced connection except skip.
func (h *Hub) broadcast(event string, payload any, skip *client) {
	h.mu.Lock()
	var conns []*client
	for _, userConns := range h.byUser {
		for _, c := range userConns {
			if c != skip {
				conns = append(conns, c)
			}
		}
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.sendEvent(c, event, payload)
	}
}

func (h *Hub) sendEvent(c *client, event string, payload any) {
	env, err := realtime.NewEnvelope(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode outbound event")
		return
	}
	select {
	case c.events <- env:
	default:
		// Drop if slow consumer.
		h.log.Warn().Str("user_id", c.userID).Str("event", event).Msg("dropping event for slow connection")
	}
}
