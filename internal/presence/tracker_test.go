package presence

import (
	"testing"
	"time"
)

func TestTracker_UnknownUserIsOffline(t *testing.T) {
	tr := NewTracker()
	if tr.IsOnline("ghost") {
		t.Fatalf("unknown user must read as offline")
	}
	if _, ok := tr.LastSeen("ghost"); ok {
		t.Fatalf("unknown user must have no last seen")
	}
}

func TestTracker_OnlineOfflineCycle(t *testing.T) {
	tr := NewTracker()
	tr.MarkOnline("alice")
	if !tr.IsOnline("alice") {
		t.Fatalf("expected alice online")
	}

	at := time.Now()
	tr.MarkOffline("alice", at)
	if tr.IsOnline("alice") {
		t.Fatalf("expected alice offline")
	}
	seen, ok := tr.LastSeen("alice")
	if !ok || !seen.Equal(at) {
		t.Fatalf("expected last seen %v, got %v ok=%v", at, seen, ok)
	}

	// Coming back online keeps the old last-seen until the next disconnect.
	tr.MarkOnline("alice")
	if seen, ok := tr.LastSeen("alice"); !ok || !seen.Equal(at) {
		t.Fatalf("expected last seen preserved across reconnect")
	}
}

func TestTracker_RosterSnapshotIsAdditive(t *testing.T) {
	tr := NewTracker()
	tr.MarkOnline("alice")
	tr.MarkOffline("bob", time.Now())

	// bob is absent from the snapshot but must keep his tracked status
	// rather than being reset or deleted.
	tr.ApplyRosterSnapshot([]string{"carol", "dave"})

	if !tr.IsOnline("carol") || !tr.IsOnline("dave") {
		t.Fatalf("snapshot ids must be online")
	}
	if !tr.IsOnline("alice") {
		t.Fatalf("alice's earlier status must survive the snapshot")
	}
	if tr.IsOnline("bob") {
		t.Fatalf("bob must stay offline after the snapshot")
	}
}

func TestTracker_BothOnline(t *testing.T) {
	tr := NewTracker()
	tr.MarkOnline("alice")
	if tr.BothOnline("alice", "bob") {
		t.Fatalf("one side offline must read false")
	}
	tr.MarkOnline("bob")
	if !tr.BothOnline("alice", "bob") {
		t.Fatalf("both online must read true")
	}
	tr.MarkOffline("alice", time.Now())
	if tr.BothOnline("alice", "bob") {
		t.Fatalf("disconnect must drop joint availability")
	}
}

func TestTracker_SnapshotCopies(t *testing.T) {
	tr := NewTracker()
	tr.MarkOnline("alice")

	snap := tr.Snapshot()
	snap["alice"] = Record{UserID: "alice", Online: false}

	if !tr.IsOnline("alice") {
		t.Fatalf("mutating the snapshot must not affect the tracker")
	}
}
