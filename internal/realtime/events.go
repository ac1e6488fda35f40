package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gigchat/gigchat/internal/chat"
)

// Event names carried on the channel envelope.
const (
	// Outbound (client to server).
	EventAddUser     = "addUser"
	EventJoinRoom    = "joinRoom"
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"

	// Inbound (server to client).
	EventNewMessage  = "newMessage"
	EventUserOnline  = "userOnline"
	EventUserOffline = "userOffline"
	EventOnlineUsers = "onlineUsers"
	EventRoomJoined  = "roomJoined"
)

// Envelope is the wire format for every channel event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope wraps a payload for sending.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// AddUserPayload announces the authenticated user on the channel.
type AddUserPayload struct {
	UserID string `json:"userId"`
}

// JoinRoomPayload subscribes the user to a conversation room.
type JoinRoomPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// RoomJoinedPayload acknowledges a join.
type RoomJoinedPayload struct {
	ConversationID string `json:"conversationId"`
}

// SendMessagePayload publishes an outgoing message for low-latency fan-out.
// LocalID correlates the realtime and REST halves of the dual write.
type SendMessagePayload struct {
	SenderID       string `json:"senderId"`
	ReceiverID     string `json:"receiverId"`
	ConversationID string `json:"conversationId,omitempty"`
	Content        string `json:"content"`
	SenderName     string `json:"senderName,omitempty"`
	LocalID        string `json:"localId,omitempty"`
}

// NewMessagePayload is an inbound message event.
type NewMessagePayload struct {
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	ConversationID string    `json:"conversationId,omitempty"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	SenderName     string    `json:"senderName,omitempty"`
	LocalID        string    `json:"localId,omitempty"`
}

// Message converts the payload to the domain model, deriving the pair-key
// conversation id when the event did not carry one.
func (p NewMessagePayload) Message() chat.Message {
	id := p.ConversationID
	if id == "" {
		id = chat.PairKey(p.SenderID, p.ReceiverID)
	}
	return chat.Message{
		LocalID:        p.LocalID,
		ConversationID: id,
		SenderID:       p.SenderID,
		ReceiverID:     p.ReceiverID,
		Content:        p.Content,
		Timestamp:      p.Timestamp,
		SenderName:     p.SenderName,
	}
}

// TypingPayload signals a typing indicator in both directions.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// DecodeNewMessage validates a newMessage payload at the channel boundary.
// Required fields missing make the event invalid; a missing timestamp falls
// back to the arrival time.
func DecodeNewMessage(data json.RawMessage) (NewMessagePayload, error) {
	var p NewMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode newMessage: %w", err)
	}
	if p.SenderID == "" || p.ReceiverID == "" {
		return p, fmt.Errorf("newMessage: missing senderId or receiverId")
	}
	if p.Content == "" {
		return p, fmt.Errorf("newMessage: empty content")
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	return p, nil
}

// DecodeUserID decodes the bare user id carried by userOnline/userOffline.
func DecodeUserID(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return "", fmt.Errorf("decode user id: %w", err)
	}
	if id == "" {
		return "", fmt.Errorf("empty user id")
	}
	return id, nil
}

// DecodeOnlineUsers decodes the roster snapshot sent at subscribe time.
func DecodeOnlineUsers(data json.RawMessage) ([]string, error) {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode onlineUsers: %w", err)
	}
	return ids, nil
}

// DecodeTyping validates a typing payload.
func DecodeTyping(data json.RawMessage) (TypingPayload, error) {
	var p TypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode typing: %w", err)
	}
	if p.ConversationID == "" || p.UserID == "" {
		return p, fmt.Errorf("typing: missing conversationId or userId")
	}
	return p, nil
}

// DecodeSendMessage validates a sendMessage payload on the server side.
func DecodeSendMessage(data json.RawMessage) (SendMessagePayload, error) {
	var p SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode sendMessage: %w", err)
	}
	if p.SenderID == "" || p.ReceiverID == "" {
		return p, fmt.Errorf("sendMessage: missing senderId or receiverId")
	}
	if p.Content == "" {
		return p, fmt.Errorf("sendMessage: empty content")
	}
	return p, nil
}

// DecodeJoinRoom validates a joinRoom payload on the server side.
func DecodeJoinRoom(data json.RawMessage) (JoinRoomPayload, error) {
	var p JoinRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode joinRoom: %w", err)
	}
	if p.ConversationID == "" {
		return p, fmt.Errorf("joinRoom: missing conversationId")
	}
	return p, nil
}

// DecodeAddUser validates an addUser payload on the server side.
func DecodeAddUser(data json.RawMessage) (AddUserPayload, error) {
	var p AddUserPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode addUser: %w", err)
	}
	if p.UserID == "" {
		return p, fmt.Errorf("addUser: missing userId")
	}
	return p, nil
}
