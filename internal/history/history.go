package history

import (
	"sync"

	"canvas-backend/internal/model"
)

// DefaultLimit bounds the snapshot stack depth per client.
const DefaultLimit = 100

// Manager is a per-client linear undo/redo stack over full element-store
// snapshots. A snapshot is pushed on every mutation the client observes, own
// or remote - any change advances the timeline the user sees. Undo/redo move
// the stack pointer; the caller broadcasts the returned snapshot as an
// elements-replace so the whole room converges instead of only reverting
// locally. Partial undo of concurrent others' work is ill-defined, so full
// snapshots are the deliberate bandwidth-for-correctness tradeoff.
type Manager struct {
	mu    sync.Mutex
	stack [][]*model.DrawingElement
	pos   int
	limit int
}

// New creates a manager seeded with the client's bootstrap state.
func New(initial []*model.DrawingElement, limit int) *Manager {
	if limit <= 1 {
		limit = DefaultLimit
	}
	return &Manager{
		stack: [][]*model.DrawingElement{cloneElements(initial)},
		limit: limit,
	}
}

// Push records a new current state, discarding any redo tail. The oldest
// entry is dropped once the stack exceeds the limit.
func (m *Manager) Push(elements []*model.DrawingElement) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stack = append(m.stack[:m.pos+1], cloneElements(elements))
	if len(m.stack) > m.limit {
		m.stack = m.stack[1:]
	}
	m.pos = len(m.stack) - 1
}

// Undo steps back one snapshot. At index 0 it is a no-op and returns false.
func (m *Manager) Undo() ([]*model.DrawingElement, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pos == 0 {
		return nil, false
	}
	m.pos--
	return cloneElements(m.stack[m.pos]), true
}

// Redo steps forward one snapshot. At the tail it is a no-op and returns false.
func (m *Manager) Redo() ([]*model.DrawingElement, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pos >= len(m.stack)-1 {
		return nil, false
	}
	m.pos++
	return cloneElements(m.stack[m.pos]), true
}

// CanUndo reports whether an undo step is available.
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos > 0
}

// CanRedo reports whether a redo step is available.
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos < len(m.stack)-1
}

func cloneElements(elements []*model.DrawingElement) []*model.DrawingElement {
	out := make([]*model.DrawingElement, 0, len(elements))
	for _, e := range elements {
		if e != nil {
			out = append(out, e.Clone())
		}
	}
	return out
}
