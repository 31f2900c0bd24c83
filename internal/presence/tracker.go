package presence

import (
	"hash/fnv"
	"sync"

	"canvas-backend/internal/model"
)

// palette of cursor colors. A user's color is picked by hashing the userId so
// the same user keeps the same color across reconnects and across servers.
var palette = []string{
	"#E53935", "#8E24AA", "#3949AB", "#039BE5", "#00897B",
	"#7CB342", "#FDD835", "#FB8C00", "#6D4C41", "#546E7A",
}

// Record is one live member of a room. Ephemeral: it exists only for the
// duration of a connection and is never persisted.
type Record struct {
	ConnectionID string       `json:"connectionId"`
	UserID       string       `json:"userId"`
	Name         string       `json:"name"`
	Color        string       `json:"color"`
	AvatarRef    string       `json:"avatarRef,omitempty"`
	Cursor       *model.Point `json:"cursor,omitempty"`
	IsActive     bool         `json:"isActive"`
}

// Tracker maintains the membership table for one room, keyed by connection.
// A reconnect under a new connectionId is a new member; the old entry must be
// evicted by Leave on the prior session's teardown.
type Tracker struct {
	mu      sync.RWMutex
	members map[string]*Record
}

// NewTracker creates an empty membership table.
func NewTracker() *Tracker {
	return &Tracker{members: make(map[string]*Record)}
}

// ColorFor returns the deterministic color for a user.
func ColorFor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return palette[h.Sum32()%uint32(len(palette))]
}

// Join inserts or refreshes a record and returns the updated room snapshot.
func (t *Tracker) Join(r Record) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.Color == "" {
		r.Color = ColorFor(r.UserID)
	}
	r.IsActive = true
	cp := r
	if r.Cursor != nil {
		c := *r.Cursor
		cp.Cursor = &c
	}
	t.members[r.ConnectionID] = &cp
	return t.snapshotLocked()
}

// Leave removes a record. Removing an unknown connection is a no-op.
func (t *Tracker) Leave(connectionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.members[connectionID]; !ok {
		return false
	}
	delete(t.members, connectionID)
	return true
}

// UpdateCursor mutates only the cursor field. Cursor packets are lossy and
// unordered; only the latest position matters, so stale packets simply
// overwrite each other.
func (t *Tracker) UpdateCursor(connectionID string, pos model.Point) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.members[connectionID]
	if !ok {
		return false
	}
	c := pos
	r.Cursor = &c
	return true
}

// Get returns a copy of one member record.
func (t *Tracker) Get(connectionID string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.members[connectionID]
	if !ok {
		return Record{}, false
	}
	return copyRecord(r), true
}

// Len returns the member count.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}

// Snapshot returns the full membership table.
func (t *Tracker) Snapshot() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() []Record {
	out := make([]Record, 0, len(t.members))
	for _, r := range t.members {
		out = append(out, copyRecord(r))
	}
	return out
}

func copyRecord(r *Record) Record {
	cp := *r
	if r.Cursor != nil {
		c := *r.Cursor
		cp.Cursor = &c
	}
	return cp
}
