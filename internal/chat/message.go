// Package chat holds the domain model shared by the client core and the
// reference server: participants, messages, and two-party conversations.
package chat

import (
	"strings"
	"time"
)

// Participant identifies one side of a conversation. Immutable once bound.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role,omitempty"`
}

// Message is the domain model for a chat message.
//
// ID is the server-issued identifier; for an optimistic local insert it is
// empty until the persistence response arrives. LocalID is a client-generated
// correlation id carried on both the realtime and REST paths so the two
// halves of the dual write can be matched back to the same logical send.
type Message struct {
	ID             string    `json:"id"`
	LocalID        string    `json:"localId,omitempty"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	SenderName     string    `json:"senderName,omitempty"`

	// Pending marks an optimistic insert awaiting confirmation; Failed marks
	// an entry whose persistence attempt failed. Failed entries stay visible.
	Pending bool `json:"pending,omitempty"`
	Failed  bool `json:"failed,omitempty"`
}

// PairKey derives the conversation id for two participants. The key is the
// sorted pair joined with an underscore, so both sides compute the same id
// without server coordination.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

// SplitPair recovers the participant ids from a pair key.
func SplitPair(key string) (a, b string, ok bool) {
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
