package timeline

import (
	"testing"
	"time"

	"github.com/gigchat/gigchat/internal/chat"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func msg(localID, sender, receiver, content string, at time.Time) chat.Message {
	return chat.Message{
		LocalID:        localID,
		ConversationID: chat.PairKey(sender, receiver),
		SenderID:       sender,
		ReceiverID:     receiver,
		Content:        content,
		Timestamp:      at,
	}
}

func newTL() *Timeline {
	return New(chat.PairKey("alice", "bob"), "alice", "bob")
}

func TestLoadHistory_SortsAscending(t *testing.T) {
	tl := newTL()
	tl.LoadHistory([]chat.Message{
		msg("", "bob", "alice", "second", base.Add(time.Minute)),
		msg("", "alice", "bob", "first", base),
	})

	got := tl.Messages()
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].Content != "first" || got[1].Content != "second" {
		t.Fatalf("history not sorted: %q then %q", got[0].Content, got[1].Content)
	}
}

func TestLoadHistory_ReplacesWholesale(t *testing.T) {
	tl := newTL()
	tl.LoadHistory([]chat.Message{msg("", "bob", "alice", "old", base)})
	tl.LoadHistory([]chat.Message{msg("", "bob", "alice", "new", base.Add(time.Hour))})

	got := tl.Messages()
	if len(got) != 1 || got[0].Content != "new" {
		t.Fatalf("expected wholesale replacement, got %v", got)
	}
}

func TestLoadHistory_KeepsFailedEntry(t *testing.T) {
	tl := newTL()
	h := tl.InsertOptimistic(msg("local-1", "alice", "bob", "never saved", base.Add(time.Minute)))
	tl.MarkFailed(h)

	tl.LoadHistory([]chat.Message{msg("", "bob", "alice", "from server", base)})

	got := tl.Messages()
	if len(got) != 2 {
		t.Fatalf("expected failed entry to survive the reload, got %v", got)
	}
	if !got[1].Failed || got[1].Content != "never saved" {
		t.Fatalf("expected the failed entry last, got %+v", got[1])
	}
}

func TestLoadHistory_KeepsPendingEntryForReconciliation(t *testing.T) {
	tl := newTL()
	h := tl.InsertOptimistic(msg("local-1", "alice", "bob", "in flight", base))

	// A history reload lands while the persistence call is still running.
	tl.LoadHistory(nil)

	if tl.Len() != 1 {
		t.Fatalf("pending entry must survive the reload")
	}
	if !tl.Reconcile(h, "srv-9") {
		t.Fatalf("reconciliation must still find the carried entry")
	}
	got := tl.Messages()
	if got[0].ID != "srv-9" || got[0].Pending {
		t.Fatalf("expected confirmed entry after late reconciliation, got %+v", got[0])
	}
}

func TestLoadHistory_FetchedRowAbsorbsPendingEntry(t *testing.T) {
	tl := newTL()
	tl.InsertOptimistic(msg("local-1", "alice", "bob", "hello", base))

	persisted := msg("local-1", "alice", "bob", "hello", base)
	persisted.ID = "srv-1"
	tl.LoadHistory([]chat.Message{persisted})

	got := tl.Messages()
	if len(got) != 1 {
		t.Fatalf("persisted row and pending entry must collapse, got %v", got)
	}
	if got[0].ID != "srv-1" || got[0].Pending {
		t.Fatalf("expected the persisted version, got %+v", got[0])
	}
}

func TestInsertOptimistic_VisibleAndPending(t *testing.T) {
	tl := newTL()
	tl.InsertOptimistic(msg("local-1", "alice", "bob", "hello", base))

	got := tl.Messages()
	if len(got) != 1 {
		t.Fatalf("expected optimistic entry to be visible")
	}
	if !got[0].Pending {
		t.Fatalf("optimistic entry must be pending")
	}
}

func TestReconcile_SetsServerIDInPlace(t *testing.T) {
	tl := newTL()
	tl.LoadHistory([]chat.Message{msg("", "bob", "alice", "earlier", base)})
	h := tl.InsertOptimistic(msg("local-1", "alice", "bob", "hello", base.Add(time.Minute)))

	if !tl.Reconcile(h, "srv-42") {
		t.Fatalf("expected reconcile to find the entry")
	}

	got := tl.Messages()
	if got[1].ID != "srv-42" || got[1].Pending {
		t.Fatalf("expected confirmed entry with server id, got %+v", got[1])
	}
	if got[1].LocalID != "local-1" {
		t.Fatalf("local id must survive reconciliation")
	}
}

func TestMarkFailed_EntryStaysVisible(t *testing.T) {
	tl := newTL()
	h := tl.InsertOptimistic(msg("local-1", "alice", "bob", "hello", base))

	if !tl.MarkFailed(h) {
		t.Fatalf("expected mark failed to find the entry")
	}
	got := tl.Messages()
	if len(got) != 1 || !got[0].Failed || got[0].Pending {
		t.Fatalf("failed entry must stay visible and flagged, got %+v", got[0])
	}
}

func TestIngestLive_FiltersForeignPairs(t *testing.T) {
	tl := newTL()
	if tl.IngestLive(msg("", "carol", "alice", "hi", base)) {
		t.Fatalf("message from a foreign conversation must be dropped")
	}
	if tl.Len() != 0 {
		t.Fatalf("dropped message must not be stored")
	}
}

func TestIngestLive_AbsorbsByLocalID(t *testing.T) {
	tl := newTL()
	tl.InsertOptimistic(msg("local-1", "alice", "bob", "hello", base))

	echo := msg("local-1", "alice", "bob", "hello", base.Add(100*time.Millisecond))
	echo.ID = "srv-1"
	if tl.IngestLive(echo) {
		t.Fatalf("echo with matching local id must be absorbed, not appended")
	}

	got := tl.Messages()
	if len(got) != 1 {
		t.Fatalf("expected single entry after absorption, got %d", len(got))
	}
	if got[0].ID != "srv-1" || got[0].Pending {
		t.Fatalf("absorption must confirm the entry, got %+v", got[0])
	}
}

func TestIngestLive_AbsorbsPendingOwnContent(t *testing.T) {
	tl := newTL()
	tl.InsertOptimistic(msg("local-1", "alice", "bob", "hello", base))

	// Relay path that lost the correlation id: same sender, same content.
	echo := msg("", "alice", "bob", "hello", base.Add(time.Second))
	if tl.IngestLive(echo) {
		t.Fatalf("own pending content must be absorbed")
	}
	if tl.Len() != 1 {
		t.Fatalf("expected single entry, got %d", tl.Len())
	}
}

func TestIngestLive_DiscardsNearDuplicate(t *testing.T) {
	tl := newTL()
	confirmed := msg("", "bob", "alice", "ping", base)
	confirmed.ID = "srv-1"
	tl.LoadHistory([]chat.Message{confirmed})

	dup := msg("", "bob", "alice", "ping", base.Add(2*time.Second))
	if tl.IngestLive(dup) {
		t.Fatalf("duplicate within tolerance must be discarded")
	}

	// Same content far outside the window is a genuine repeat.
	repeat := msg("", "bob", "alice", "ping", base.Add(time.Minute))
	if !tl.IngestLive(repeat) {
		t.Fatalf("repeat outside tolerance must be appended")
	}
	if tl.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", tl.Len())
	}
}

func TestIngestLive_AppendsInOrder(t *testing.T) {
	tl := newTL()
	tl.LoadHistory([]chat.Message{msg("", "alice", "bob", "one", base)})

	late := msg("", "bob", "alice", "two", base.Add(time.Minute))
	if !tl.IngestLive(late) {
		t.Fatalf("new message must be appended")
	}

	got := tl.Messages()
	if got[1].Content != "two" {
		t.Fatalf("expected chronological append, got %v", got)
	}
	if got[1].ConversationID != tl.ConversationID() {
		t.Fatalf("missing conversation id must be filled in")
	}
}

func TestIngestLive_StableOrderOnEqualTimestamps(t *testing.T) {
	tl := newTL()
	tl.LoadHistory([]chat.Message{
		msg("", "alice", "bob", "first", base),
	})
	second := msg("", "bob", "alice", "second", base)
	if !tl.IngestLive(second) {
		t.Fatalf("expected append")
	}

	got := tl.Messages()
	if got[0].Content != "first" || got[1].Content != "second" {
		t.Fatalf("ties must preserve insertion order, got %q then %q", got[0].Content, got[1].Content)
	}
}

func TestSetTolerance(t *testing.T) {
	tl := newTL()
	tl.SetTolerance(100 * time.Millisecond)
	tl.LoadHistory([]chat.Message{msg("", "bob", "alice", "ping", base)})

	// 2s apart: a duplicate under the default window, distinct under the
	// tightened one.
	if !tl.IngestLive(msg("", "bob", "alice", "ping", base.Add(2*time.Second))) {
		t.Fatalf("message outside tightened tolerance must be appended")
	}
}
