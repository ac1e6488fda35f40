// Package timeline maintains one gap-free, duplicate-free, time-ordered
// message list per open conversation, reconciling REST-fetched history with
// live channel events and optimistic local inserts.
package timeline

import (
	"sort"
	"time"

	"github.com/gigchat/gigchat/internal/chat"
)

// DefaultTolerance is the window within which an inbound event with matching
// sender, receiver and content counts as a duplicate of an existing entry.
const DefaultTolerance = 3 * time.Second

// Handle refers to an optimistic entry for later reconciliation or failure
// marking.
type Handle struct {
	localID string
}

// Timeline is the ordered message list of one conversation, bound to its two
// participant ids. It is owned by a single goroutine (the session loop);
// methods must not be called concurrently.
type Timeline struct {
	conversationID string
	selfID         string
	peerID         string
	tolerance      time.Duration
	entries        []chat.Message
}

// New binds a timeline to a conversation between selfID and peerID.
func New(conversationID, selfID, peerID string) *Timeline {
	return &Timeline{
		conversationID: conversationID,
		selfID:         selfID,
		peerID:         peerID,
		tolerance:      DefaultTolerance,
	}
}

// SetTolerance overrides the duplicate detection window.
func (t *Timeline) SetTolerance(d time.Duration) {
	t.tolerance = d
}

// ConversationID returns the bound conversation id.
func (t *Timeline) ConversationID() string {
	return t.conversationID
}

// LoadHistory replaces settled entries wholesale with the persisted history.
// Local entries the server cannot return yet survive the reload: failed sends
// stay visible, and optimistic sends still awaiting their persistence result
// are carried over so reconciliation can find them. A fetched row carrying
// the same local id as a carried entry is that send already persisted, and
// the fetched row wins.
func (t *Timeline) LoadHistory(msgs []chat.Message) {
	fresh := make([]chat.Message, len(msgs))
	copy(fresh, msgs)

	for _, e := range t.entries {
		if !e.Pending && !e.Failed {
			continue
		}
		if e.LocalID != "" && containsLocalID(fresh, e.LocalID) {
			continue
		}
		fresh = append(fresh, e)
	}

	t.entries = fresh
	t.sortEntries()
}

// InsertOptimistic appends a locally authored message before any
// confirmation, so the send is visible with zero perceived latency. The
// returned handle reconciles the entry or marks it failed later. The entry is
// never silently removed.
func (t *Timeline) InsertOptimistic(m chat.Message) Handle {
	m.Pending = true
	m.Failed = false
	t.entries = append(t.entries, m)
	t.sortEntries()
	return Handle{localID: m.LocalID}
}

// Reconcile replaces the optimistic entry's identifier with the server-issued
// id, in place. Reports whether the entry was found.
func (t *Timeline) Reconcile(h Handle, serverID string) bool {
	for i := range t.entries {
		if t.entries[i].LocalID == h.localID {
			if serverID != "" {
				t.entries[i].ID = serverID
			}
			t.entries[i].Pending = false
			return true
		}
	}
	return false
}

// MarkFailed flags the optimistic entry as failed. The entry stays visible.
func (t *Timeline) MarkFailed(h Handle) bool {
	for i := range t.entries {
		if t.entries[i].LocalID == h.localID {
			t.entries[i].Pending = false
			t.entries[i].Failed = true
			return true
		}
	}
	return false
}

// IngestLive applies an inbound real-time message event. It reports true if
// the event was appended as a new message, false if it was absorbed: either
// discarded as a duplicate, merged into a pending optimistic entry, or
// filtered out because its sender/receiver pair does not match the bound
// conversation.
func (t *Timeline) IngestLive(m chat.Message) bool {
	if !t.matchesPair(m.SenderID, m.ReceiverID) {
		// A single channel multiplexes events for many conversations; drop
		// anything that is not between this conversation's participants.
		return false
	}

	// Exact correlation: the dual write carried our local id back to us.
	if m.LocalID != "" {
		for i := range t.entries {
			if t.entries[i].LocalID == m.LocalID {
				t.absorb(i, m)
				return false
			}
		}
	}

	// A pending optimistic entry of our own with the same content is the
	// same logical send arriving back over the channel.
	if m.SenderID == t.selfID {
		for i := range t.entries {
			if t.entries[i].Pending && t.entries[i].SenderID == t.selfID && t.entries[i].Content == m.Content {
				t.absorb(i, m)
				return false
			}
		}
	}

	// Near-duplicate: same logical send seen through the other transport.
	for i := range t.entries {
		e := &t.entries[i]
		if e.SenderID == m.SenderID && e.ReceiverID == m.ReceiverID && e.Content == m.Content {
			if within(e.Timestamp, m.Timestamp, t.tolerance) {
				return false
			}
		}
	}

	if m.ConversationID == "" {
		m.ConversationID = t.conversationID
	}
	t.entries = append(t.entries, m)
	t.sortEntries()
	return true
}

// Messages returns the exposed sequence: ascending by timestamp, insertion
// order preserved on ties.
func (t *Timeline) Messages() []chat.Message {
	out := make([]chat.Message, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	return len(t.entries)
}

// absorb merges a confirmed event into the existing entry at position i,
// keeping the entry's place in the list.
func (t *Timeline) absorb(i int, m chat.Message) {
	e := &t.entries[i]
	if e.ID == "" && m.ID != "" {
		e.ID = m.ID
	}
	if e.SenderName == "" {
		e.SenderName = m.SenderName
	}
	e.Pending = false
}

func containsLocalID(msgs []chat.Message, localID string) bool {
	for i := range msgs {
		if msgs[i].LocalID == localID {
			return true
		}
	}
	return false
}

func (t *Timeline) matchesPair(senderID, receiverID string) bool {
	return (senderID == t.selfID && receiverID == t.peerID) ||
		(senderID == t.peerID && receiverID == t.selfID)
}

func (t *Timeline) sortEntries() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].Timestamp.Before(t.entries[j].Timestamp)
	})
}

func within(a, b time.Time, tolerance time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
