// Package convo lists and looks up the current user's conversations, merging
// the persisted list with locally synthesized ones.
package convo

import (
	"time"

	"github.com/gigchat/gigchat/internal/chat"
)

// Store is the in-memory conversation list, ordered most-recent-activity
// first. It is owned by a single goroutine (the session loop); methods must
// not be called concurrently.
type Store struct {
	convs []chat.Conversation
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// LoadPersisted replaces the list with the server-fetched conversations,
// keeping their order (most recent activity first). Locally synthesized
// conversations not yet known to the server are preserved at the front.
func (s *Store) LoadPersisted(list []chat.Conversation) {
	merged := make([]chat.Conversation, 0, len(list)+len(s.convs))
	seen := make(map[string]struct{}, len(list))
	for _, c := range list {
		seen[c.ID] = struct{}{}
	}
	for _, c := range s.convs {
		if _, dup := seen[c.ID]; !dup && c.LastMessage.Content == "" {
			merged = append(merged, c)
		}
	}
	merged = append(merged, list...)
	s.convs = merged
}

// UpsertLocal inserts a locally synthesized conversation at the front of the
// list. A conversation with the same id is replaced, not duplicated.
func (s *Store) UpsertLocal(c chat.Conversation) {
	s.remove(c.ID)
	s.convs = append([]chat.Conversation{c}, s.convs...)
}

// Get looks up a conversation by id.
func (s *Store) Get(id string) (chat.Conversation, bool) {
	for _, c := range s.convs {
		if c.ID == id {
			return c, true
		}
	}
	return chat.Conversation{}, false
}

// ApplyIncoming updates the matching conversation's last message and, when
// the conversation is not the currently open one, increments its unread
// count. Unknown conversations are synthesized from the message's sender and
// receiver. The touched conversation moves to the front of the list.
func (s *Store) ApplyIncoming(m chat.Message, activeID string) {
	id := m.ConversationID
	if id == "" {
		id = chat.PairKey(m.SenderID, m.ReceiverID)
	}

	c, ok := s.Get(id)
	if !ok {
		c = chat.NewDirect(
			chat.Participant{ID: m.SenderID, DisplayName: m.SenderName},
			chat.Participant{ID: m.ReceiverID},
		)
		c.ID = id
	}

	c.LastMessage = chat.LastMessage{
		Content:   m.Content,
		Timestamp: m.Timestamp,
		SenderID:  m.SenderID,
	}
	if c.LastMessage.Timestamp.IsZero() {
		c.LastMessage.Timestamp = time.Now()
	}
	if id != activeID {
		c.UnreadCount++
	}

	s.remove(id)
	s.convs = append([]chat.Conversation{c}, s.convs...)
}

// ClearUnread resets the unread counter, typically when the conversation is
// opened.
func (s *Store) ClearUnread(id string) {
	for i := range s.convs {
		if s.convs[i].ID == id {
			s.convs[i].UnreadCount = 0
			return
		}
	}
}

// Filter returns the conversations matching pred, in list order. It is a
// pure projection and never mutates the store.
func (s *Store) Filter(pred func(chat.Conversation) bool) []chat.Conversation {
	var out []chat.Conversation
	for _, c := range s.convs {
		if pred(c) {
			out = append(out, c)
		}
	}
	return out
}

// List returns a copy of all conversations, most recent activity first.
func (s *Store) List() []chat.Conversation {
	out := make([]chat.Conversation, len(s.convs))
	copy(out, s.convs)
	return out
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	return len(s.convs)
}

func (s *Store) remove(id string) {
	for i := range s.convs {
		if s.convs[i].ID == id {
			s.convs = append(s.convs[:i], s.convs[i+1:]...)
			return
		}
	}
}
