package chat

import "time"

// LastMessage is the preview shown in a conversation list entry.
type LastMessage struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	SenderID  string    `json:"senderId"`
}

// Conversation is a two-party exchange. Its id is always the deterministic
// PairKey of the participant ids, which lets a locally synthesized
// conversation collapse with the persisted one later returned by the server.
type Conversation struct {
	ID           string         `json:"id"`
	Participants [2]Participant `json:"participants"`
	LastMessage  LastMessage    `json:"lastMessage"`
	UnreadCount  int            `json:"unreadCount"`
}

// NewDirect synthesizes a conversation between two participants before any
// message exists. LastMessage stays empty and UnreadCount zero until the
// first send.
func NewDirect(a, b Participant) Conversation {
	return Conversation{
		ID:           PairKey(a.ID, b.ID),
		Participants: [2]Participant{a, b},
	}
}

// Other returns the participant that is not userID. If userID is not part of
// the conversation the second participant is returned.
func (c *Conversation) Other(userID string) Participant {
	if c.Participants[1].ID == userID {
		return c.Participants[0]
	}
	return c.Participants[1]
}

// Involves reports whether both ids match the conversation's participant
// pair, in either order.
func (c *Conversation) Involves(idA, idB string) bool {
	p0, p1 := c.Participants[0].ID, c.Participants[1].ID
	return (p0 == idA && p1 == idB) || (p0 == idB && p1 == idA)
}
