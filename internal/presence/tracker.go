// Package presence tracks the online/offline status of known user ids from
// discrete connect/disconnect events and roster snapshots.
package presence

import (
	"sync"
	"time"
)

// Record is the tracked status of one user id.
type Record struct {
	UserID   string
	Online   bool
	LastSeen time.Time // set on the most recent disconnect; zero if never seen offline
}

// Tracker answers "is user X online" at any instant. State is process-local,
// starts empty every session, and records are never deleted for the lifetime
// of the session; an id that was never seen is reported offline, not as an
// error.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]Record)}
}

// ApplyRosterSnapshot marks every listed id online. The snapshot is additive:
// ids already tracked but absent from it keep their current status. The
// server announces only the users connected at subscribe time, and without a
// heartbeat there is no safe way to age out the rest, so the snapshot is not
// a full reconciliation.
func (t *Tracker) ApplyRosterSnapshot(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		rec := t.records[id]
		rec.UserID = id
		rec.Online = true
		t.records[id] = rec
	}
}

// MarkOnline records a connect event for id. Idempotent.
func (t *Tracker) MarkOnline(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.records[id]
	rec.UserID = id
	rec.Online = true
	t.records[id] = rec
}

// MarkOffline records a disconnect event for id at lastSeen. Idempotent.
func (t *Tracker) MarkOffline(id string, lastSeen time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.records[id]
	rec.UserID = id
	rec.Online = false
	rec.LastSeen = lastSeen
	t.records[id] = rec
}

// IsOnline reports whether id is currently online. Unknown ids are offline.
func (t *Tracker) IsOnline(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.records[id].Online
}

// LastSeen returns the time of id's most recent disconnect. ok is false if
// the id never went offline while tracked.
func (t *Tracker) LastSeen(id string) (lastSeen time.Time, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, found := t.records[id]
	if !found || rec.LastSeen.IsZero() {
		return time.Time{}, false
	}
	return rec.LastSeen, true
}

// BothOnline reports whether both ids are online right now. It carries no
// edge state: callers watching for the false-to-true transition compare
// against their previous observation.
func (t *Tracker) BothOnline(idA, idB string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.records[idA].Online && t.records[idB].Online
}

// Snapshot returns a copy of every record known to the tracker.
func (t *Tracker) Snapshot() map[string]Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Record, len(t.records))
	for id, rec := range t.records {
		out[id] = rec
	}
	return out
}
