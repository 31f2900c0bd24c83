package canvas

import (
	"sync"
	"time"

	"canvas-backend/internal/model"
)

// Store is the in-memory ordered element collection for one board. Pure data,
// no I/O. Every session applies broadcast events to its own replica; there is
// no cross-session shared mutation, only message-passing convergence.
//
// Reconciliation rules:
//   - Add is idempotent: an add for an already-known id is a no-op.
//   - Update on an unknown id is dropped silently (the element may have been
//     deleted concurrently).
//   - Concurrent updates resolve last-writer-wins per field group: each
//     non-nil group in the update replaces the element's group wholesale.
//     This is a deliberate consistency weakening, not an accident.
type Store struct {
	boardID string
	roomID  string
	name    string

	mu       sync.RWMutex
	order    []string
	elements map[string]*model.DrawingElement
	version  int64
	modified time.Time
}

// NewStore creates an empty store for the given board.
func NewStore(boardID, roomID, name string) *Store {
	return &Store{
		boardID:  boardID,
		roomID:   roomID,
		name:     name,
		elements: make(map[string]*model.DrawingElement),
	}
}

// NewStoreFromBoard rebuilds a store from a persisted snapshot.
func NewStoreFromBoard(b *model.Board) *Store {
	s := NewStore(b.ID, b.RoomID, b.Name)
	for _, e := range b.Elements {
		if e == nil {
			continue
		}
		cp := e.Clone()
		if _, ok := s.elements[cp.ID]; ok {
			continue
		}
		s.elements[cp.ID] = cp
		s.order = append(s.order, cp.ID)
	}
	s.version = b.Version
	s.modified = b.LastModifiedAt
	return s
}

// BoardID returns the owning board's id.
func (s *Store) BoardID() string { return s.boardID }

// RoomID returns the broadcast scope of the owning board.
func (s *Store) RoomID() string { return s.roomID }

// Add inserts a new element. Returns false without touching the store when
// the id is already known (duplicate delivery) or the element is invalid.
func (s *Store) Add(e *model.DrawingElement) bool {
	if e == nil || e.Validate() != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.elements[e.ID]; exists {
		return false
	}

	cp := e.Clone()
	s.elements[cp.ID] = cp
	s.order = append(s.order, cp.ID)
	s.bump()
	return true
}

// Update applies a partial update to an existing element. Each provided field
// group replaces the current group wholesale. Returns the updated element
// copy, or nil when the id is unknown or the update would leave the element
// invalid (an empty point list on a stroke, a blanked text).
func (s *Store) Update(u *model.ElementUpdate) *model.DrawingElement {
	if u == nil || u.ID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.elements[u.ID]
	if !exists {
		return nil
	}

	cp := e.Clone()
	if u.Points != nil {
		pts := make([]model.Point, len(*u.Points))
		copy(pts, *u.Points)
		cp.Points = pts
	}
	if u.Geometry != nil {
		g := *u.Geometry
		cp.Geometry = &g
	}
	if u.Style != nil {
		cp.Style = *u.Style
	}
	if u.Text != nil {
		cp.Text = *u.Text
	}
	if u.FontSize != nil {
		cp.FontSize = *u.FontSize
	}
	if u.Src != nil {
		cp.Src = *u.Src
	}
	if u.InProgress != nil {
		cp.InProgress = *u.InProgress
	}

	if cp.Validate() != nil {
		return nil
	}

	s.elements[u.ID] = cp
	s.bump()
	return cp.Clone()
}

// Delete removes an element. Deleting an unknown id is a no-op.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.elements[id]; !exists {
		return false
	}

	delete(s.elements, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.bump()
	return true
}

// Clear discards every element unconditionally (total board reset).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.elements = make(map[string]*model.DrawingElement)
	s.order = s.order[:0]
	s.bump()
}

// Replace swaps the whole element collection for the given snapshot. Used by
// undo/redo convergence (elements-replace).
func (s *Store) Replace(elements []*model.DrawingElement) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.elements = make(map[string]*model.DrawingElement, len(elements))
	s.order = s.order[:0]
	for _, e := range elements {
		if e == nil || e.Validate() != nil {
			continue
		}
		if _, ok := s.elements[e.ID]; ok {
			continue
		}
		cp := e.Clone()
		s.elements[cp.ID] = cp
		s.order = append(s.order, cp.ID)
	}
	s.bump()
}

// Get returns a copy of one element, or nil when absent.
func (s *Store) Get(id string) *model.DrawingElement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.elements[id]
	if !ok {
		return nil
	}
	return e.Clone()
}

// Len returns the element count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Version returns the monotonic mutation counter.
func (s *Store) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Elements returns the ordered element collection as deep copies.
func (s *Store) Elements() []*model.DrawingElement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.elementsLocked()
}

// Snapshot returns the board state as a detached deep copy.
func (s *Store) Snapshot() *model.Board {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &model.Board{
		ID:             s.boardID,
		RoomID:         s.roomID,
		Name:           s.name,
		Elements:       s.elementsLocked(),
		Version:        s.version,
		LastModifiedAt: s.modified,
	}
}

func (s *Store) elementsLocked() []*model.DrawingElement {
	out := make([]*model.DrawingElement, 0, len(s.order))
	for _, id := range s.order {
		if e, ok := s.elements[id]; ok {
			out = append(out, e.Clone())
		}
	}
	return out
}

// bump advances version/lastModified. Callers hold s.mu.
func (s *Store) bump() {
	s.version++
	s.modified = time.Now()
}
